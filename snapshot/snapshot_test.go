package snapshot_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitrack/api/classifier"
	"visitrack/api/models"
	"visitrack/api/snapshot"
)

const uaIPhone = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"

func TestTake(t *testing.T) {
	env := snapshot.ClientEnvironment{
		ScreenWidth:    390,
		ScreenHeight:   844,
		ColorDepth:     24,
		ViewportWidth:  390,
		ViewportHeight: 664,
		Language:       "en-US",
		Languages:      []string{"en-US", "en"},
		Timezone:       "Europe/Berlin",
		TimezoneOffset: -60,
		Platform:       "iPhone",
		TouchSupport:   true,
		Connection:     &models.Connection{EffectiveType: "4g", Downlink: 10, RTT: 50},
	}

	d := snapshot.Take(uaIPhone, env)

	assert.Equal(t, classifier.DeviceMobile, d.DeviceType)
	assert.Equal(t, "390x844", d.ScreenResolution)
	assert.Equal(t, 24, d.ColorDepth)
	assert.Equal(t, []string{"en-US", "en"}, d.Languages)
	assert.Equal(t, "Europe/Berlin", d.Timezone)
	assert.Equal(t, -60, d.TimezoneOffset)
	assert.Equal(t, uaIPhone, d.UserAgent)
	assert.True(t, d.IsMobile)
	assert.False(t, d.IsDesktop)
	assert.True(t, d.TouchSupport)
	require.NotNil(t, d.Connection)
	assert.Equal(t, "4g", d.Connection.EffectiveType)

	// the descriptor owns its copies
	env.Connection.EffectiveType = "2g"
	env.Languages[0] = "fr"
	assert.Equal(t, "4g", d.Connection.EffectiveType)
	assert.Equal(t, "en-US", d.Languages[0])
}

func TestTake_MissingConnection(t *testing.T) {
	d := snapshot.Take("", snapshot.ClientEnvironment{})

	assert.Nil(t, d.Connection)
	assert.Equal(t, "0x0", d.ScreenResolution)
	assert.Equal(t, classifier.Unknown, d.OS)
	assert.Equal(t, classifier.DeviceDesktop, d.DeviceType)
}

func TestTake_Idempotent(t *testing.T) {
	env := snapshot.ClientEnvironment{ScreenWidth: 1920, ScreenHeight: 1080, Timezone: "UTC"}
	assert.Equal(t, snapshot.Take(uaIPhone, env), snapshot.Take(uaIPhone, env))
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/visitors", nil)
	r.Header.Set("User-Agent", uaIPhone)
	r.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")

	ua, env := snapshot.FromRequest(r, snapshot.ClientEnvironment{Timezone: "Europe/Berlin"})

	assert.Equal(t, uaIPhone, ua)
	assert.Equal(t, uaIPhone, env.UserAgent)
	assert.Equal(t, "de-DE", env.Language)
	assert.Equal(t, []string{"de-DE", "de", "en"}, env.Languages)
}

func TestFromRequest_BeaconWins(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/visitors", nil)
	r.Header.Set("User-Agent", "header-agent")
	r.Header.Set("Accept-Language", "de")

	ua, env := snapshot.FromRequest(r, snapshot.ClientEnvironment{
		UserAgent: "beacon-agent",
		Language:  "fr-FR",
		Languages: []string{"fr-FR"},
	})

	assert.Equal(t, "beacon-agent", ua)
	assert.Equal(t, "fr-FR", env.Language)
	assert.Equal(t, []string{"fr-FR"}, env.Languages)
}

func TestAcceptLanguages(t *testing.T) {
	assert.Nil(t, snapshot.AcceptLanguages(""))
	assert.Equal(t, []string{"en-US", "en"}, snapshot.AcceptLanguages("en;q=0.5,en-US"))
}
