package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 64 * 1024

// HTTPProvider queries a JSON endpoint. URL may contain an {ip} placeholder;
// with an empty ip the placeholder and its leading slash are dropped, which
// turns every default endpoint into its "who am I" form. A URL without the
// placeholder can only answer for the caller and refuses any other ip.
type HTTPProvider struct {
	name   string
	url    string
	client *http.Client
}

func NewHTTPProvider(name, urlTemplate string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{name: name, url: urlTemplate, client: client}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) endpoint(ip string) string {
	if ip == "" {
		u := strings.ReplaceAll(p.url, "/{ip}", "")
		return strings.ReplaceAll(u, "{ip}", "")
	}
	return strings.ReplaceAll(p.url, "{ip}", url.PathEscape(ip))
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (Result, error) {
	if ip != "" && !strings.Contains(p.url, "{ip}") {
		return Result{}, fmt.Errorf("%w: %s", ErrSelfLookupOnly, p.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(ip), nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request to %s failed: %w", p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	var data map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&data); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if rejected(data) {
		msg := firstString(data, "message", "reason")
		return Result{}, fmt.Errorf("%w: %s", ErrProviderRejected, msg)
	}

	res := Normalize(data)
	res.Provider = p.name
	return res, nil
}
