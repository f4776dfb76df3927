package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidWebhookURL     = errors.New("invalid webhook URL")
	ErrWebhookDeliveryFailed = errors.New("webhook delivery failed")
)

// WebhookSender POSTs JSON payloads to a single endpoint. It makes exactly one
// attempt per payload.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender validates the endpoint up front. With a non-empty secret
// every request carries an HMAC-SHA256 signature over "timestamp.payload".
func NewWebhookSender(endpoint, secret string, timeout time.Duration) (*WebhookSender, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWebhookURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidWebhookURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidWebhookURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:    endpoint,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (s *WebhookSender) Send(ctx context.Context, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload to JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "visitrack-webhook/1.0")
	if s.secret != "" {
		for k, v := range Sign(s.secret, payload, time.Now()) {
			req.Header.Set(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWebhookDeliveryFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.ReplaceAll(string(body), "\n", " ")
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return fmt.Errorf("%w: status %d: %s", ErrWebhookDeliveryFailed, resp.StatusCode, msg)
	}
	return nil
}

// Sign returns the signature headers for payload.
func Sign(secret string, payload []byte, at time.Time) map[string]string {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts + "." + string(payload)))
	return map[string]string{
		"X-Webhook-Signature": hex.EncodeToString(h.Sum(nil)),
		"X-Webhook-Timestamp": ts,
		"X-Webhook-ID":        uuid.New().String(),
	}
}

// Verify checks a signature produced by Sign.
func Verify(secret string, payload []byte, timestamp, signature string) bool {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp + "." + string(payload)))
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
