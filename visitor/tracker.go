// Package visitor owns the live visitor records: it creates them from page
// beacons, enriches them with geolocation in the background and records email
// captures against them.
package visitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"visitrack/api/geo"
	"visitrack/api/logger"
	"visitrack/api/models"
	"visitrack/api/prompt"
	"visitrack/api/snapshot"
	"visitrack/api/utils"
)

var (
	ErrSessionNotFound = errors.New("visitor session not found")
	ErrInvalidEmail    = errors.New("please enter a valid email address")
	ErrMissingEmail    = errors.New("contact form has no email")
)

const (
	SubscriptionSourceModal   = "modal"
	SubscriptionSourceContact = "contact_form"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
	persistTimeout  = 3 * time.Second
)

// Resolver finds the public IP and location for a client address. An empty
// address means "whoever is asking".
type Resolver interface {
	Resolve(ctx context.Context, ip string) (geo.Result, error)
}

// Dispatcher forwards records to the analytics and webhook sinks without
// blocking the caller.
type Dispatcher interface {
	VisitorInfo(rec models.VisitorRecord)
	Enriched(rec models.VisitorRecord)
	FormSubmission(rec models.VisitorRecord)
	EmailSubscription(rec models.VisitorRecord, email, name string)
}

// SnapshotStore keeps a copy of each record for the lifetime of the session.
// LoadSnapshot returns nil, nil for unknown sessions.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, rec models.VisitorRecord) error
	LoadSnapshot(ctx context.Context, sessionID string) (*models.VisitorRecord, error)
}

type SubscriberStore interface {
	AddSubscriber(ctx context.Context, sub models.Subscriber) error
}

// Beacon is what a page sends once it is ready.
type Beacon struct {
	PageURL   string                     `json:"pageUrl"`
	PageTitle string                     `json:"pageTitle"`
	Referrer  string                     `json:"referrer"`
	Env       snapshot.ClientEnvironment `json:"environment"`

	// Filled from the request, never from the body.
	UserAgent string `json:"-"`
	ClientIP  string `json:"-"`
}

type ContactForm struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type session struct {
	rec      models.VisitorRecord
	ua       string
	env      snapshot.ClientEnvironment
	clientIP string
	lastSeen time.Time

	// generation of the latest enrichment attempt; older results are dropped
	gen    uint64
	cancel context.CancelFunc
}

type Tracker struct {
	resolver    Resolver
	dispatcher  Dispatcher
	snapshots   SnapshotStore
	subscribers SubscriberStore
	log         *slog.Logger
	ttl         time.Duration
	now         func() time.Time
	newID       func() string

	base     context.Context
	stop     context.CancelFunc
	inflight sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
}

type Option func(*Tracker)

func WithSnapshotStore(s SnapshotStore) Option { return func(t *Tracker) { t.snapshots = s } }

func WithSubscriberStore(s SubscriberStore) Option { return func(t *Tracker) { t.subscribers = s } }

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithTTL sets how long an idle session is kept in memory.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(t *Tracker) {
		if gen != nil {
			t.newID = gen
		}
	}
}

func NewTracker(resolver Resolver, dispatcher Dispatcher, opts ...Option) *Tracker {
	base, stop := context.WithCancel(context.Background())
	t := &Tracker{
		resolver:   resolver,
		dispatcher: dispatcher,
		log:        slog.Default(),
		ttl:        30 * time.Minute,
		now:        time.Now,
		newID:      utils.GenerateSessionID,
		base:       base,
		stop:       stop,
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start creates the record for a page load. The returned record has no IP
// or location yet; those arrive through background enrichment.
func (t *Tracker) Start(ctx context.Context, b Beacon) (models.VisitorRecord, error) {
	now := t.now()
	referrer := b.Referrer
	if referrer == "" {
		referrer = "Direct"
	}

	s := &session{
		rec: models.VisitorRecord{
			Timestamp: now.UTC().Format(timestampLayout),
			PageURL:   b.PageURL,
			PageTitle: b.PageTitle,
			Referrer:  referrer,
			Device:    snapshot.Take(b.UserAgent, b.Env),
			SessionID: t.newID(),
		},
		ua:       b.UserAgent,
		env:      b.Env,
		clientIP: b.ClientIP,
		lastSeen: now,
	}

	t.mu.Lock()
	t.sessions[s.rec.SessionID] = s
	rec := s.rec.Clone()
	t.mu.Unlock()

	t.log.InfoContext(ctx, "visitor session started",
		slog.String("session_id", rec.SessionID),
		slog.String("device_type", rec.Device.DeviceType),
		slog.String("browser", rec.Device.Browser),
	)

	// The initial dispatch is queued before enrichment can start, so it is
	// always delivered first.
	t.dispatcher.VisitorInfo(rec)
	t.persist(ctx, rec)
	t.enrich(rec.SessionID)

	return rec, nil
}

// Refresh re-takes the device snapshot and starts a new enrichment that
// supersedes any attempt still in flight. A nil env keeps the stored one.
func (t *Tracker) Refresh(ctx context.Context, sessionID string, env *snapshot.ClientEnvironment) (models.VisitorRecord, error) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return models.VisitorRecord{}, ErrSessionNotFound
	}
	if env != nil {
		s.env = *env
	}
	s.rec.Device = snapshot.Take(s.ua, s.env)
	s.lastSeen = t.now()
	rec := s.rec.Clone()
	t.mu.Unlock()

	t.log.DebugContext(ctx, "visitor session refreshed", slog.String("session_id", sessionID))
	t.persist(ctx, rec)
	t.enrich(sessionID)
	return rec, nil
}

// Get returns a copy of the record. Sessions no longer in memory are looked
// up in the snapshot store.
func (t *Tracker) Get(ctx context.Context, sessionID string) (models.VisitorRecord, error) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if ok {
		s.lastSeen = t.now()
		rec := s.rec.Clone()
		t.mu.Unlock()
		return rec, nil
	}
	t.mu.Unlock()

	if t.snapshots == nil {
		return models.VisitorRecord{}, ErrSessionNotFound
	}
	rec, err := t.snapshots.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return models.VisitorRecord{}, err
	}
	if rec == nil {
		return models.VisitorRecord{}, ErrSessionNotFound
	}
	return *rec, nil
}

// CaptureEmail records an email typed into the prompt modal. An invalid
// address changes nothing and dispatches nothing.
func (t *Tracker) CaptureEmail(ctx context.Context, sessionID, email, name string) (models.VisitorRecord, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" || !prompt.ValidEmail(email) {
		return models.VisitorRecord{}, ErrInvalidEmail
	}

	rec, err := t.update(sessionID, func(r *models.VisitorRecord) {
		r.Email = &email
		r.Name = name
		r.SubscriptionSource = SubscriptionSourceModal
	})
	if err != nil {
		return models.VisitorRecord{}, err
	}

	t.dispatcher.EmailSubscription(rec, email, name)
	t.persist(ctx, rec)
	t.addSubscriber(ctx, rec, name, SubscriptionSourceModal)
	return rec, nil
}

// SubmitContactForm records a contact form submission. The email is not
// validated; a blank one means the submission is ignored.
func (t *Tracker) SubmitContactForm(ctx context.Context, sessionID string, form ContactForm) (models.VisitorRecord, error) {
	email := strings.TrimSpace(form.Email)
	if email == "" {
		return models.VisitorRecord{}, ErrMissingEmail
	}

	rec, err := t.update(sessionID, func(r *models.VisitorRecord) {
		r.Email = &email
		r.FormSubmitted = true
		r.FormData = &models.FormData{
			Name:    form.Name,
			Subject: form.Subject,
			Message: form.Message,
		}
	})
	if err != nil {
		return models.VisitorRecord{}, err
	}

	t.dispatcher.FormSubmission(rec)
	t.persist(ctx, rec)
	t.addSubscriber(ctx, rec, form.Name, SubscriptionSourceContact)
	return rec, nil
}

func (t *Tracker) update(sessionID string, fn func(r *models.VisitorRecord)) (models.VisitorRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return models.VisitorRecord{}, ErrSessionNotFound
	}
	fn(&s.rec)
	s.lastSeen = t.now()
	return s.rec.Clone(), nil
}

func (t *Tracker) enrich(sessionID string) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(t.base)
	s.cancel = cancel
	ip := geo.PublicIP(s.clientIP)
	t.inflight.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.inflight.Done()
		defer cancel()

		res, err := t.resolver.Resolve(ctx, ip)

		t.mu.Lock()
		current, ok := t.sessions[sessionID]
		if !ok || current != s || s.gen != gen {
			t.mu.Unlock()
			t.log.Debug("discarding superseded enrichment", slog.String("session_id", sessionID))
			return
		}
		s.cancel = nil
		if err != nil {
			t.mu.Unlock()
			if !errors.Is(err, context.Canceled) {
				t.log.Warn("visitor left without ip address",
					slog.String("session_id", sessionID),
					logger.Error(err),
				)
			}
			return
		}

		addr := res.IP
		s.rec.IP = &addr
		s.rec.Location = res.Location
		geo.MarkTimezoneMismatch(s.rec.Location, s.rec.Device.Timezone)
		rec := s.rec.Clone()
		t.mu.Unlock()

		t.log.Info("visitor enriched",
			slog.String("session_id", sessionID),
			slog.String("provider", res.Provider),
		)
		t.persist(t.base, rec)
		t.dispatcher.Enriched(rec)
	}()
}

func (t *Tracker) persist(ctx context.Context, rec models.VisitorRecord) {
	if t.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := t.snapshots.SaveSnapshot(ctx, rec); err != nil {
		t.log.Warn("could not store visitor data", slog.String("session_id", rec.SessionID), logger.Error(err))
	}
}

func (t *Tracker) addSubscriber(ctx context.Context, rec models.VisitorRecord, name, source string) {
	if t.subscribers == nil || rec.Email == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err := t.subscribers.AddSubscriber(ctx, models.Subscriber{
		Email:     *rec.Email,
		Name:      name,
		Source:    source,
		SessionID: rec.SessionID,
		PageURL:   rec.PageURL,
		Timestamp: t.now().UTC().Format(timestampLayout),
	})
	if err != nil {
		t.log.Warn("failed to store subscriber", slog.String("session_id", rec.SessionID), logger.Error(err))
	}
}

// Sweep drops sessions idle for longer than the TTL and returns how many
// were removed.
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.sessions {
		if s.lastSeen.Before(cutoff) {
			if s.cancel != nil {
				s.cancel()
			}
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				t.log.Debug("expired visitor sessions removed", slog.Int("count", n))
			}
		}
	}
}

// Wait blocks until no enrichment is in flight.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

// Close cancels in-flight enrichments and waits for them to return.
func (t *Tracker) Close() {
	t.stop()
	t.inflight.Wait()
}

// Len is the number of sessions held in memory.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
