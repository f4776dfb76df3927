// Package dispatch forwards visitor records to the analytics collector and the
// webhook. Dispatch is fire-and-forget: jobs run on one background worker in
// submission order and sink failures are only logged.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"visitrack/api/logger"
	"visitrack/api/models"
)

// AnalyticsSink receives named events. A nil sink means analytics is not
// installed on this deployment.
type AnalyticsSink interface {
	TrackEvent(ctx context.Context, event models.AnalyticsEvent) error
	SetUserProperties(ctx context.Context, sessionID string, props map[string]string) error
}

// WebhookSink receives raw JSON payloads. Nil disables the webhook.
type WebhookSink interface {
	Send(ctx context.Context, payload any) error
}

const (
	SourceEmailPrompt = "email_prompt_modal"
	FormNameContact   = "contact_form"
)

// EmailPayload is the minimal webhook body sent for prompt subscriptions.
type EmailPayload struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	PageURL   string `json:"pageUrl"`
}

type job struct {
	name string
	run  func(ctx context.Context)
}

type Dispatcher struct {
	analytics AnalyticsSink
	webhook   WebhookSink
	log       *slog.Logger
	timeout   time.Duration
	now       func() time.Time

	jobs chan job
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{}
}

type Option func(*Dispatcher)

func WithAnalytics(s AnalyticsSink) Option { return func(d *Dispatcher) { d.analytics = s } }

func WithWebhook(s WebhookSink) Option { return func(d *Dispatcher) { d.webhook = s } }

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithSendTimeout bounds every single sink call.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New starts the worker. queueSize bounds how many jobs may wait; beyond
// that new jobs are dropped with a warning instead of blocking the caller.
func New(queueSize int, opts ...Option) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		log:     slog.Default(),
		timeout: 10 * time.Second,
		now:     time.Now,
		jobs:    make(chan job, queueSize),
		done:    make(chan struct{}),
		idle:    make(chan struct{}),
	}
	close(d.idle)
	for _, opt := range opts {
		opt(d)
	}
	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		d.runSafe(ctx, j)
		cancel()
		d.finish()
	}
}

func (d *Dispatcher) runSafe(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch job panicked", slog.String("job", j.name), slog.Any("panic", r))
		}
	}()
	j.run(ctx)
}

func (d *Dispatcher) enqueue(name string, run func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.log.Warn("dispatcher closed, dropping job", slog.String("job", name))
		return
	}
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	select {
	case d.jobs <- job{name: name, run: run}:
		d.pending++
	default:
		if d.pending == 0 {
			close(d.idle)
		}
		d.log.Warn("dispatch queue full, dropping job", slog.String("job", name))
	}
}

func (d *Dispatcher) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

// Flush waits until every queued job has run.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the queue to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VisitorInfo sends the visitor_info event and user properties. It is the
// first dispatch of every record.
func (d *Dispatcher) VisitorInfo(rec models.VisitorRecord) {
	d.enqueue(models.EventVisitorInfo, func(ctx context.Context) {
		d.sendVisitorInfo(ctx, rec)
	})
}

// Enriched re-sends visitor_info once the IP is known and posts the full
// record to the webhook.
func (d *Dispatcher) Enriched(rec models.VisitorRecord) {
	d.enqueue("enriched", func(ctx context.Context) {
		d.sendVisitorInfo(ctx, rec)
		d.sendWebhook(ctx, "enriched", rec)
	})
}

func (d *Dispatcher) FormSubmission(rec models.VisitorRecord) {
	d.enqueue(models.EventFormSubmission, func(ctx context.Context) {
		email := ""
		if rec.Email != nil {
			email = *rec.Email
		}
		d.track(ctx, d.event(rec, models.EventFormSubmission, map[string]any{
			"email":       email,
			"form_name":   FormNameContact,
			"device_type": rec.Device.DeviceType,
		}))
		d.sendWebhook(ctx, models.EventFormSubmission, rec)
	})
}

// EmailSubscription records a prompt signup. The webhook gets the minimal
// payload, not the whole record.
func (d *Dispatcher) EmailSubscription(rec models.VisitorRecord, email, name string) {
	d.enqueue(models.EventEmailSubscription, func(ctx context.Context) {
		shownName := name
		if shownName == "" {
			shownName = "Anonymous"
		}
		d.track(ctx, d.event(rec, models.EventEmailSubscription, map[string]any{
			"email":  email,
			"name":   shownName,
			"source": SourceEmailPrompt,
		}))
		d.sendWebhook(ctx, models.EventEmailSubscription, EmailPayload{
			Email:     email,
			Name:      name,
			Timestamp: d.now().UTC().Format(time.RFC3339Nano),
			Source:    SourceEmailPrompt,
			PageURL:   rec.PageURL,
		})
	})
}

func (d *Dispatcher) sendVisitorInfo(ctx context.Context, rec models.VisitorRecord) {
	if d.analytics == nil {
		d.log.Warn("analytics sink not configured, skipping visitor_info", slog.String("session_id", rec.SessionID))
		return
	}

	var ip any
	if rec.IP != nil {
		ip = *rec.IP
	}
	d.track(ctx, d.event(rec, models.EventVisitorInfo, map[string]any{
		"device_type":       rec.Device.DeviceType,
		"device_os":         rec.Device.OS,
		"browser":           rec.Device.Browser,
		"screen_resolution": rec.Device.ScreenResolution,
		"is_mobile":         rec.Device.IsMobile,
		"language":          rec.Device.Language,
		"timezone":          rec.Device.Timezone,
		"ip_address":        ip,
		"session_id":        rec.SessionID,
	}))

	err := d.analytics.SetUserProperties(ctx, rec.SessionID, map[string]string{
		"device_type":      rec.Device.DeviceType,
		"operating_system": rec.Device.OS,
		"browser":          rec.Device.Browser,
	})
	if err != nil {
		d.log.Warn("failed to set user properties", slog.String("session_id", rec.SessionID), logger.Error(err))
	}
}

func (d *Dispatcher) track(ctx context.Context, ev models.AnalyticsEvent) {
	if d.analytics == nil {
		d.log.Warn("analytics sink not configured", slog.String("event", ev.EventName))
		return
	}
	if err := d.analytics.TrackEvent(ctx, ev); err != nil {
		d.log.Warn("analytics dispatch failed",
			slog.String("event", ev.EventName),
			slog.String("session_id", ev.SessionID),
			logger.Error(err),
		)
	}
}

func (d *Dispatcher) sendWebhook(ctx context.Context, name string, payload any) {
	if d.webhook == nil {
		return
	}
	if err := d.webhook.Send(ctx, payload); err != nil {
		d.log.Warn("webhook failed", slog.String("job", name), logger.Error(err))
	}
}

func (d *Dispatcher) event(rec models.VisitorRecord, name string, params map[string]any) models.AnalyticsEvent {
	ev := models.AnalyticsEvent{
		EventID:    uuid.New().String(),
		EventName:  name,
		SessionID:  rec.SessionID,
		Timestamp:  d.now().UTC(),
		PageURL:    rec.PageURL,
		Referrer:   rec.Referrer,
		UserAgent:  rec.Device.UserAgent,
		DeviceType: rec.Device.DeviceType,
		OS:         rec.Device.OS,
		Browser:    rec.Device.Browser,
		Params:     params,
	}
	if rec.IP != nil {
		ev.IPAddress = *rec.IP
	}
	if rec.Location != nil {
		ev.Country = rec.Location.Country
	}
	return ev
}
