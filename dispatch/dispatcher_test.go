package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitrack/api/dispatch"
	"visitrack/api/logger"
	"visitrack/api/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.AnalyticsEvent
	props  []map[string]string
	err    error
	block  chan struct{}
}

func (s *recordingSink) TrackEvent(_ context.Context, ev models.AnalyticsEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) SetUserProperties(_ context.Context, _ string, props map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props = append(s.props, props)
	return s.err
}

func (s *recordingSink) Events() []models.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AnalyticsEvent(nil), s.events...)
}

type recordingWebhook struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (w *recordingWebhook) Send(_ context.Context, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.payloads = append(w.payloads, payload)
	return w.err
}

func (w *recordingWebhook) Payloads() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]any(nil), w.payloads...)
}

func sampleRecord() models.VisitorRecord {
	return models.VisitorRecord{
		Timestamp: "2026-10-16T10:00:00Z",
		PageURL:   "https://example.com/",
		PageTitle: "Home",
		Referrer:  "Direct",
		SessionID: "session_1760608800000_abc123xyz",
		Device: models.DeviceDescriptor{
			DeviceType:       "Mobile",
			OS:               "iOS",
			Browser:          "Safari",
			ScreenResolution: "390x844",
			IsMobile:         true,
			Language:         "en-US",
			Timezone:         "Europe/Berlin",
			UserAgent:        "ua",
		},
	}
}

func flush(t *testing.T, d *dispatch.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Flush(ctx))
}

func TestDispatcher_VisitorInfo(t *testing.T) {
	sink := &recordingSink{}
	hook := &recordingWebhook{}
	d := dispatch.New(8, dispatch.WithAnalytics(sink), dispatch.WithWebhook(hook), dispatch.WithLogger(logger.Discard()))
	defer d.Close(context.Background())

	d.VisitorInfo(sampleRecord())
	flush(t, d)

	events := sink.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, models.EventVisitorInfo, ev.EventName)
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "Mobile", ev.Params["device_type"])
	assert.Equal(t, "iOS", ev.Params["device_os"])
	assert.Equal(t, "390x844", ev.Params["screen_resolution"])
	assert.Equal(t, true, ev.Params["is_mobile"])
	assert.Nil(t, ev.Params["ip_address"])
	assert.Equal(t, "session_1760608800000_abc123xyz", ev.Params["session_id"])

	require.Len(t, sink.props, 1)
	assert.Equal(t, map[string]string{
		"device_type": "Mobile", "operating_system": "iOS", "browser": "Safari",
	}, sink.props[0])

	assert.Empty(t, hook.Payloads(), "initial snapshot is analytics-only")
}

func TestDispatcher_PreservesOrder(t *testing.T) {
	sink := &recordingSink{}
	d := dispatch.New(16, dispatch.WithAnalytics(sink), dispatch.WithLogger(logger.Discard()))
	defer d.Close(context.Background())

	rec := sampleRecord()
	d.VisitorInfo(rec)

	ip := "203.0.113.7"
	enriched := rec.Clone()
	enriched.IP = &ip
	d.Enriched(enriched)
	flush(t, d)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Empty(t, events[0].IPAddress)
	assert.Equal(t, "203.0.113.7", events[1].IPAddress)
	assert.Equal(t, "203.0.113.7", events[1].Params["ip_address"])
}

func TestDispatcher_EnrichedPostsFullRecord(t *testing.T) {
	hook := &recordingWebhook{}
	d := dispatch.New(8, dispatch.WithWebhook(hook), dispatch.WithLogger(logger.Discard()))
	defer d.Close(context.Background())

	d.Enriched(sampleRecord())
	flush(t, d)

	payloads := hook.Payloads()
	require.Len(t, payloads, 1)
	rec, ok := payloads[0].(models.VisitorRecord)
	require.True(t, ok)
	assert.Equal(t, "session_1760608800000_abc123xyz", rec.SessionID)
}

func TestDispatcher_EmailSubscription(t *testing.T) {
	sink := &recordingSink{}
	hook := &recordingWebhook{}
	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	d := dispatch.New(8,
		dispatch.WithAnalytics(sink),
		dispatch.WithWebhook(hook),
		dispatch.WithLogger(logger.Discard()),
		dispatch.WithClock(func() time.Time { return fixed }),
	)
	defer d.Close(context.Background())

	d.EmailSubscription(sampleRecord(), "user@example.com", "")
	flush(t, d)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEmailSubscription, events[0].EventName)
	assert.Equal(t, "user@example.com", events[0].Params["email"])
	assert.Equal(t, "Anonymous", events[0].Params["name"])
	assert.Equal(t, dispatch.SourceEmailPrompt, events[0].Params["source"])

	payloads := hook.Payloads()
	require.Len(t, payloads, 1)
	assert.Equal(t, dispatch.EmailPayload{
		Email:     "user@example.com",
		Name:      "",
		Timestamp: "2026-10-16T12:00:00Z",
		Source:    dispatch.SourceEmailPrompt,
		PageURL:   "https://example.com/",
	}, payloads[0])
}

func TestDispatcher_FormSubmission(t *testing.T) {
	sink := &recordingSink{}
	d := dispatch.New(8, dispatch.WithAnalytics(sink), dispatch.WithLogger(logger.Discard()))
	defer d.Close(context.Background())

	rec := sampleRecord()
	email := "reader@example.com"
	rec.Email = &email
	d.FormSubmission(rec)
	flush(t, d)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{
		"email": "reader@example.com", "form_name": "contact_form", "device_type": "Mobile",
	}, events[0].Params)
}

func TestDispatcher_MissingSinksAreSkipped(t *testing.T) {
	d := dispatch.New(8, dispatch.WithLogger(logger.Discard()))
	defer d.Close(context.Background())

	assert.NotPanics(t, func() {
		d.VisitorInfo(sampleRecord())
		d.Enriched(sampleRecord())
		d.FormSubmission(sampleRecord())
		d.EmailSubscription(sampleRecord(), "user@example.com", "Ann")
	})
	flush(t, d)
}

func TestDispatcher_SinkErrorsDoNotPropagate(t *testing.T) {
	sink := &recordingSink{err: errors.New("clickhouse down")}
	hook := &recordingWebhook{err: errors.New("connection refused")}
	d := dispatch.New(8, dispatch.WithAnalytics(sink), dispatch.WithWebhook(hook), dispatch.WithLogger(logger.Discard()))
	defer d.Close(context.Background())

	d.Enriched(sampleRecord())
	d.VisitorInfo(sampleRecord())
	flush(t, d)

	assert.Len(t, sink.Events(), 2)
	assert.Len(t, hook.Payloads(), 1)
}

func TestDispatcher_FullQueueDoesNotBlock(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := dispatch.New(1, dispatch.WithAnalytics(sink), dispatch.WithLogger(logger.Discard()))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.VisitorInfo(sampleRecord())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.LessOrEqual(t, len(sink.Events()), 2)
}

func TestDispatcher_CloseDrainsAndRejects(t *testing.T) {
	sink := &recordingSink{}
	d := dispatch.New(8, dispatch.WithAnalytics(sink), dispatch.WithLogger(logger.Discard()))

	d.VisitorInfo(sampleRecord())
	d.VisitorInfo(sampleRecord())
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sink.Events(), 2)

	assert.NotPanics(t, func() { d.VisitorInfo(sampleRecord()) })
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sink.Events(), 2)
}

func TestWebhookSender(t *testing.T) {
	const secret = "s3cret"
	var got dispatch.EmailPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.True(t, dispatch.Verify(secret, body, r.Header.Get("X-Webhook-Timestamp"), r.Header.Get("X-Webhook-Signature")))
		assert.NotEmpty(t, r.Header.Get("X-Webhook-ID"))
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := dispatch.NewWebhookSender(srv.URL, secret, time.Second)
	require.NoError(t, err)

	err = sender.Send(context.Background(), dispatch.EmailPayload{Email: "user@example.com", Source: dispatch.SourceEmailPrompt})
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.Email)
}

func TestWebhookSender_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream\nerror"))
	}))
	defer srv.Close()

	sender, err := dispatch.NewWebhookSender(srv.URL, "", time.Second)
	require.NoError(t, err)

	err = sender.Send(context.Background(), map[string]string{"a": "b"})
	require.ErrorIs(t, err, dispatch.ErrWebhookDeliveryFailed)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream error")
}

func TestNewWebhookSender_InvalidURL(t *testing.T) {
	for _, u := range []string{"ftp://hooks.example.com", "https://", "://bad"} {
		_, err := dispatch.NewWebhookSender(u, "", 0)
		assert.ErrorIs(t, err, dispatch.ErrInvalidWebhookURL, u)
	}
}
