package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"visitrack/api/models"
)

// MaxMindProvider answers from a local GeoLite2/GeoIP2 City database. It
// cannot resolve the caller's own address, so an empty ip is a failure and
// the enricher moves on to the HTTP providers.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

func OpenMaxMind(cityDBPath string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open city database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

func (p *MaxMindProvider) Name() string { return "maxmind" }

func (p *MaxMindProvider) Close() error {
	if p.reader == nil {
		return nil
	}
	return p.reader.Close()
}

func (p *MaxMindProvider) Lookup(_ context.Context, ip string) (Result, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	record, err := p.reader.City(parsed)
	if err != nil {
		return Result{}, fmt.Errorf("city lookup failed: %w", err)
	}
	return cityResult(parsed, record, p.Name())
}

// cityResult fails when the database has no country for ip, so the enricher
// moves on to a provider that may know the location.
func cityResult(ip net.IP, record *geoip2.City, provider string) (Result, error) {
	country := record.Country.Names["en"]
	if country == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrNoLocation, ip)
	}

	loc := &models.IPLocation{
		Country:     country,
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
		Postal:      record.Postal.Code,
		Timezone:    record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	if lat := record.Location.Latitude; lat != 0 {
		loc.Lat = &lat
	}
	if lon := record.Location.Longitude; lon != 0 {
		loc.Lon = &lon
	}
	return Result{IP: ip.String(), Location: loc, Provider: provider}, nil
}
