// Package geo resolves a visitor's public IP address and coarse location by
// asking an ordered list of providers, falling through to the next one on
// any failure.
package geo

import (
	"context"
	"errors"
	"net/netip"

	"visitrack/api/models"
)

var (
	ErrAllProvidersFailed = errors.New("all geolocation providers failed")
	ErrBadStatus          = errors.New("geolocation provider returned non-success status")
	ErrMalformedResponse  = errors.New("geolocation provider returned malformed response")
	ErrProviderRejected   = errors.New("geolocation provider rejected the lookup")
	ErrInvalidIP          = errors.New("invalid ip address")
	ErrSelfLookupOnly     = errors.New("geolocation provider only reports the caller's own address")
	ErrNoLocation         = errors.New("geolocation provider has no location for this address")
)

// Result is a normalized provider answer. Location is nil when the provider
// reported no country.
type Result struct {
	IP       string
	Location *models.IPLocation
	Provider string
}

// Provider looks up ip. An empty ip asks for the caller's own address, which
// only HTTP providers can answer.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (Result, error)
}

// PublicIP returns ip when it is a routable public address and "" otherwise,
// so that private and loopback clients are resolved as the caller itself.
func PublicIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return ""
	}
	return addr.String()
}

// MarkTimezoneMismatch flags a location whose IP timezone disagrees with the
// timezone the browser reported. Unknown on either side is not a mismatch.
func MarkTimezoneMismatch(loc *models.IPLocation, browserTimezone string) {
	if loc == nil {
		return
	}
	loc.TimezoneMismatch = loc.Timezone != "" && browserTimezone != "" && loc.Timezone != browserTimezone
}
