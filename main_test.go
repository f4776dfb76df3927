package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitrack/api/classifier"
	"visitrack/api/config"
	"visitrack/api/logger"
)

func TestClassifyCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"classify", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"})

	require.NoError(t, root.Execute())

	var got classifier.Classification
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "Desktop", got.DeviceType)
	assert.Equal(t, "macOS", got.OS)
	assert.Equal(t, "Safari", got.Browser)
	assert.True(t, got.Flags.IsDesktop)
}

func TestCreateAdminRejectsShortPassword(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"create-admin", "admin@example.com", "short"})
	assert.EqualError(t, root.Execute(), "password must be at least 8 characters")
}

func TestCommandArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"create-admin", "only-email"})
	assert.Error(t, root.Execute())
}

func TestNewEngine_ClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		proxies  []string
		platform string
		remote   string
		headers  map[string]string
		want     string
	}{
		{
			name:    "forwarded header from untrusted peer is ignored",
			remote:  "203.0.113.7:5555",
			headers: map[string]string{"X-Forwarded-For": "8.8.8.8"},
			want:    "203.0.113.7",
		},
		{
			name:    "forwarded header from trusted proxy",
			proxies: []string{"10.0.0.0/8"},
			remote:  "10.0.0.1:5555",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.4"},
			want:    "198.51.100.4",
		},
		{
			name:    "forwarded header from peer outside trusted range",
			proxies: []string{"10.0.0.0/8"},
			remote:  "203.0.113.7:5555",
			headers: map[string]string{"X-Forwarded-For": "8.8.8.8"},
			want:    "203.0.113.7",
		},
		{
			name:     "cloudflare platform",
			platform: "cloudflare",
			remote:   "203.0.113.7:5555",
			headers:  map[string]string{"CF-Connecting-IP": "198.51.100.5"},
			want:     "198.51.100.5",
		},
		{
			name:     "digitalocean platform",
			platform: "digitalocean",
			remote:   "203.0.113.7:5555",
			headers:  map[string]string{"DO-Connecting-IP": "198.51.100.6"},
			want:     "198.51.100.6",
		},
		{
			name:    "cdn header without platform is ignored",
			remote:  "203.0.113.7:5555",
			headers: map[string]string{"CF-Connecting-IP": "198.51.100.5"},
			want:    "203.0.113.7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{TrustedProxies: tt.proxies, TrustedPlatform: tt.platform}
			r, err := newEngine(cfg, logger.Discard())
			require.NoError(t, err)
			r.GET("/ip", func(c *gin.Context) { c.String(http.StatusOK, c.ClientIP()) })

			req := httptest.NewRequest(http.MethodGet, "/ip", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestNewEngine_InvalidTrustedProxies(t *testing.T) {
	_, err := newEngine(config.Config{TrustedProxies: []string{"not-a-cidr"}}, logger.Discard())
	assert.Error(t, err)
}
