package geo_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitrack/api/geo"
	"visitrack/api/logger"
	"visitrack/api/models"
)

func jsonServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEnricher(providers ...geo.Provider) *geo.Enricher {
	return geo.NewEnricher(providers, geo.WithLogger(logger.Discard()), geo.WithTimeout(2*time.Second))
}

func TestEnricher_FallsThroughToFirstSuccess(t *testing.T) {
	var hitsDown, hitsBad, hitsOK, hitsAfter int32

	down := jsonServer(t, http.StatusServiceUnavailable, `{}`, &hitsDown)
	malformed := jsonServer(t, http.StatusOK, `not json`, &hitsBad)
	ok := jsonServer(t, http.StatusOK, `{
		"query": "203.0.113.7",
		"status": "success",
		"country": "Germany",
		"countryCode": "DE",
		"regionName": "Berlin",
		"city": "Berlin",
		"zip": "10115",
		"lat": 52.52,
		"lon": 13.405,
		"isp": "Example ISP",
		"timezone": "Europe/Berlin"
	}`, &hitsOK)
	after := jsonServer(t, http.StatusOK, `{"ip":"198.51.100.1","country":"France"}`, &hitsAfter)

	e := newEnricher(
		geo.NewHTTPProvider("down", down.URL+"/{ip}", nil),
		geo.NewHTTPProvider("malformed", malformed.URL+"/{ip}", nil),
		geo.NewHTTPProvider("ip-api", ok.URL+"/json/{ip}", nil),
		geo.NewHTTPProvider("after", after.URL, nil),
	)

	res, err := e.Resolve(context.Background(), "203.0.113.7")
	require.NoError(t, err)

	assert.Equal(t, "ip-api", res.Provider)
	assert.Equal(t, "203.0.113.7", res.IP)
	require.NotNil(t, res.Location)
	assert.Equal(t, "Germany", res.Location.Country)
	assert.Equal(t, "DE", res.Location.CountryCode)
	assert.Equal(t, "Berlin", res.Location.Region)
	assert.Equal(t, "10115", res.Location.Postal)
	require.NotNil(t, res.Location.Lat)
	assert.InDelta(t, 52.52, *res.Location.Lat, 1e-9)
	assert.Equal(t, "Example ISP", res.Location.ISP)
	assert.Equal(t, "Europe/Berlin", res.Location.Timezone)

	assert.EqualValues(t, 1, atomic.LoadInt32(&hitsDown))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hitsBad))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hitsOK))
	assert.EqualValues(t, 0, atomic.LoadInt32(&hitsAfter), "providers after a success must not be called")
}

func TestEnricher_AllFail(t *testing.T) {
	down := jsonServer(t, http.StatusInternalServerError, `{}`, nil)
	rejected := jsonServer(t, http.StatusOK, `{"status":"fail","message":"reserved range"}`, nil)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	e := newEnricher(
		geo.NewHTTPProvider("down", down.URL, nil),
		geo.NewHTTPProvider("rejected", rejected.URL, nil),
		geo.NewHTTPProvider("unreachable", closedURL, nil),
	)

	var res geo.Result
	var err error
	require.NotPanics(t, func() { res, err = e.Resolve(context.Background(), "") })
	require.ErrorIs(t, err, geo.ErrAllProvidersFailed)
	assert.Empty(t, res.IP)
	assert.Nil(t, res.Location)
}

func TestEnricher_SelfLookupProviderSkippedForVisitorIP(t *testing.T) {
	var hitsSelf int32
	down := jsonServer(t, http.StatusInternalServerError, `{}`, nil)
	self := jsonServer(t, http.StatusOK, `{"ip":"198.51.100.99"}`, &hitsSelf)

	e := newEnricher(
		geo.NewHTTPProvider("down", down.URL+"/{ip}", nil),
		geo.NewHTTPProvider("ipify", self.URL+"?format=json", nil),
	)

	res, err := e.Resolve(context.Background(), "203.0.113.7")
	require.ErrorIs(t, err, geo.ErrAllProvidersFailed)
	assert.Empty(t, res.IP, "the server's own address must never stand in for the visitor's")
	assert.EqualValues(t, 0, atomic.LoadInt32(&hitsSelf))

	res, err = e.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.99", res.IP)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hitsSelf))
}

func TestHTTPProvider_SelfLookupOnly(t *testing.T) {
	_, err := geo.NewHTTPProvider("ipify", "https://api64.ipify.org?format=json", nil).
		Lookup(context.Background(), "203.0.113.7")
	require.ErrorIs(t, err, geo.ErrSelfLookupOnly)
}

func TestEnricher_NoProviders(t *testing.T) {
	_, err := newEnricher().Resolve(context.Background(), "")
	require.ErrorIs(t, err, geo.ErrAllProvidersFailed)
}

func TestEnricher_CancelledContextStops(t *testing.T) {
	var calls int32
	stub := stubProvider{name: "first", fn: func(ctx context.Context, _ string) (geo.Result, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return geo.Result{}, ctx.Err()
	}}
	second := stubProvider{name: "second", fn: func(context.Context, string) (geo.Result, error) {
		atomic.AddInt32(&calls, 1)
		return geo.Result{IP: "203.0.113.1"}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newEnricher(stub, second).Resolve(ctx, "203.0.113.1")
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestHTTPProvider_EndpointTemplate(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"ip":"203.0.113.9"}`))
	}))
	defer srv.Close()

	p := geo.NewHTTPProvider("ipapi.co", srv.URL+"/{ip}/json/", nil)

	_, err := p.Lookup(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	_, err = p.Lookup(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []string{"/203.0.113.9/json/", "/json/"}, paths)
}

func TestHTTPProvider_IPOnlyAnswer(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"ip":"2001:db8::1"}`, nil)

	res, err := geo.NewHTTPProvider("ipify", srv.URL+"?format=json", nil).Lookup(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", res.IP)
	assert.Nil(t, res.Location)
	assert.Equal(t, "ipify", res.Provider)
}

func TestHTTPProvider_RejectionMarkers(t *testing.T) {
	for _, body := range []string{
		`{"status":"fail","message":"private range"}`,
		`{"success":false,"message":"Invalid IP address"}`,
		`{"error":true,"reason":"RateLimited"}`,
	} {
		srv := jsonServer(t, http.StatusOK, body, nil)
		_, err := geo.NewHTTPProvider("p", srv.URL, nil).Lookup(context.Background(), "")
		assert.ErrorIs(t, err, geo.ErrProviderRejected, body)
	}
}

func TestNormalize_ProviderShapes(t *testing.T) {
	lat := func(f float64) *float64 { return &f }

	tests := []struct {
		name     string
		data     map[string]any
		expected geo.Result
	}{
		{
			name:     "ipify",
			data:     map[string]any{"ip": "203.0.113.5"},
			expected: geo.Result{IP: "203.0.113.5"},
		},
		{
			name: "ipapi.co",
			data: map[string]any{
				"ip": "203.0.113.5", "country": "US", "country_code": "US", "region": "California",
				"city": "San Jose", "postal": "95141", "latitude": 37.33, "longitude": -121.89,
				"org": "ExampleNet", "timezone": "America/Los_Angeles",
			},
			expected: geo.Result{IP: "203.0.113.5", Location: &models.IPLocation{
				Country: "US", CountryCode: "US", Region: "California", City: "San Jose", Postal: "95141",
				Lat: lat(37.33), Lon: lat(-121.89), ISP: "ExampleNet", Timezone: "America/Los_Angeles",
			}},
		},
		{
			name: "ipwho.is",
			data: map[string]any{
				"ip": "203.0.113.5", "success": true, "country": "Japan", "country_code": "JP",
				"region": "Tokyo", "city": "Tokyo", "postal": "100-0001",
				"connection": map[string]any{"isp": "Example KK"},
				"timezone":   map[string]any{"id": "Asia/Tokyo", "utc": "+09:00"},
			},
			expected: geo.Result{IP: "203.0.113.5", Location: &models.IPLocation{
				Country: "Japan", CountryCode: "JP", Region: "Tokyo", City: "Tokyo", Postal: "100-0001",
				ISP: "Example KK", Timezone: "Asia/Tokyo",
			}},
		},
		{
			name:     "nothing useful",
			data:     map[string]any{"city": "Nowhere"},
			expected: geo.Result{IP: "Unknown"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, geo.Normalize(tc.data))
		})
	}
}

func TestPublicIP(t *testing.T) {
	assert.Equal(t, "203.0.113.7", geo.PublicIP("203.0.113.7"))
	assert.Equal(t, "203.0.113.7", geo.PublicIP("::ffff:203.0.113.7"))
	assert.Empty(t, geo.PublicIP("127.0.0.1"))
	assert.Empty(t, geo.PublicIP("10.1.2.3"))
	assert.Empty(t, geo.PublicIP("192.168.0.10"))
	assert.Empty(t, geo.PublicIP("::1"))
	assert.Empty(t, geo.PublicIP("not-an-ip"))
}

func TestMarkTimezoneMismatch(t *testing.T) {
	loc := &models.IPLocation{Timezone: "Europe/Amsterdam"}
	geo.MarkTimezoneMismatch(loc, "Europe/Istanbul")
	assert.True(t, loc.TimezoneMismatch)

	geo.MarkTimezoneMismatch(loc, "Europe/Amsterdam")
	assert.False(t, loc.TimezoneMismatch)

	geo.MarkTimezoneMismatch(loc, "")
	assert.False(t, loc.TimezoneMismatch)

	assert.NotPanics(t, func() { geo.MarkTimezoneMismatch(nil, "UTC") })
}

func TestLoadProviderSpecs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: primary
    url: https://geo.internal/{ip}
  - url: https://api64.ipify.org?format=json
`), 0o600))

	specs, err := geo.LoadProviderSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "primary", specs[0].Name)
	assert.Equal(t, "https://api64.ipify.org?format=json", specs[1].Name)

	providers := geo.BuildHTTPProviders(specs, nil)
	assert.Equal(t, "primary", providers[0].Name())
}

func TestLoadProviderSpecs_Errors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("providers: []\n"), 0o600))
	_, err := geo.LoadProviderSpecs(empty)
	require.ErrorIs(t, err, geo.ErrNoProviders)

	noURL := filepath.Join(dir, "nourl.yaml")
	require.NoError(t, os.WriteFile(noURL, []byte("providers:\n  - name: x\n"), 0o600))
	_, err = geo.LoadProviderSpecs(noURL)
	require.Error(t, err)

	_, err = geo.LoadProviderSpecs(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultProviderSpecs_Order(t *testing.T) {
	specs := geo.DefaultProviderSpecs()
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"ipapi.co", "ip-api.com", "ipwho.is", "ipify"}, names)
}

type stubProvider struct {
	name string
	fn   func(ctx context.Context, ip string) (geo.Result, error)
}

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Lookup(ctx context.Context, ip string) (geo.Result, error) {
	if s.fn == nil {
		return geo.Result{}, errors.New("not implemented")
	}
	return s.fn(ctx, ip)
}
