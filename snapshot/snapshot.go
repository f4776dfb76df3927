// Package snapshot merges browser-measured environment facts with the
// user-agent classification into a DeviceDescriptor.
package snapshot

import (
	"net/http"
	"strconv"

	"golang.org/x/text/language"

	"visitrack/api/classifier"
	"visitrack/api/models"
)

// ClientEnvironment is what only the browser can measure. Every field is
// optional; zero values are carried through as-is.
type ClientEnvironment struct {
	UserAgent      string             `json:"userAgent"`
	ScreenWidth    int                `json:"screenWidth"`
	ScreenHeight   int                `json:"screenHeight"`
	ColorDepth     int                `json:"colorDepth"`
	ViewportWidth  int                `json:"viewportWidth"`
	ViewportHeight int                `json:"viewportHeight"`
	Language       string             `json:"language"`
	Languages      []string           `json:"languages"`
	Timezone       string             `json:"timezone"`
	TimezoneOffset int                `json:"timezoneOffset"`
	Platform       string             `json:"platform"`
	TouchSupport   bool               `json:"touchSupport"`
	Connection     *models.Connection `json:"connection"`
}

// Take is pure: the same user agent and environment always produce the same
// descriptor.
func Take(ua string, env ClientEnvironment) models.DeviceDescriptor {
	c := classifier.Classify(ua)

	var conn *models.Connection
	if env.Connection != nil {
		cc := *env.Connection
		conn = &cc
	}
	var langs []string
	if len(env.Languages) > 0 {
		langs = append([]string(nil), env.Languages...)
	}

	return models.DeviceDescriptor{
		DeviceType:     c.DeviceType,
		OS:             c.OS,
		OSVersion:      c.OSVersion,
		Browser:        c.Browser,
		BrowserVersion: c.BrowserVersion,

		ScreenWidth:      env.ScreenWidth,
		ScreenHeight:     env.ScreenHeight,
		ScreenResolution: strconv.Itoa(env.ScreenWidth) + "x" + strconv.Itoa(env.ScreenHeight),
		ColorDepth:       env.ColorDepth,
		ViewportWidth:    env.ViewportWidth,
		ViewportHeight:   env.ViewportHeight,

		Language:       env.Language,
		Languages:      langs,
		Timezone:       env.Timezone,
		TimezoneOffset: env.TimezoneOffset,
		Platform:       env.Platform,
		UserAgent:      ua,

		IsMobile:     c.Flags.IsMobile,
		IsTablet:     c.Flags.IsTablet,
		IsDesktop:    c.Flags.IsDesktop,
		IsBot:        c.IsBot,
		TouchSupport: env.TouchSupport,
		Connection:   conn,
	}
}

// FromRequest fills the gaps of a beacon from request headers: the user agent
// when the body has none, and language preferences from Accept-Language.
func FromRequest(r *http.Request, env ClientEnvironment) (string, ClientEnvironment) {
	ua := env.UserAgent
	if ua == "" {
		ua = r.UserAgent()
	}
	if env.Language == "" || len(env.Languages) == 0 {
		prefs := AcceptLanguages(r.Header.Get("Accept-Language"))
		if len(env.Languages) == 0 {
			env.Languages = prefs
		}
		if env.Language == "" && len(prefs) > 0 {
			env.Language = prefs[0]
		}
	}
	env.UserAgent = ua
	return ua, env
}

// AcceptLanguages returns the header's tags ordered by preference. Malformed
// headers yield nil.
func AcceptLanguages(header string) []string {
	if header == "" {
		return nil
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.String())
	}
	return out
}
