package geo

import (
	"context"
	"log/slog"
	"time"

	"visitrack/api/logger"
)

// Enricher walks its providers in order and returns the first success. There
// is no retry and no backoff: one failed pass is final until the caller asks
// again.
type Enricher struct {
	providers []Provider
	timeout   time.Duration
	log       *slog.Logger
}

type EnricherOption func(*Enricher)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) EnricherOption {
	return func(e *Enricher) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) EnricherOption {
	return func(e *Enricher) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEnricher(providers []Provider, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		providers: providers,
		timeout:   5 * time.Second,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Enricher) Providers() []Provider { return e.providers }

// Resolve returns the normalized answer of the first provider that succeeds.
// A cancelled ctx stops the walk and returns ctx.Err().
func (e *Enricher) Resolve(ctx context.Context, ip string) (Result, error) {
	for _, p := range e.providers {
		res, err := e.lookup(ctx, p, ip)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		e.log.WarnContext(ctx, "ip service failed, trying next",
			slog.String("provider", p.Name()),
			logger.Error(err),
		)
	}

	e.log.WarnContext(ctx, "could not resolve ip address", slog.Int("providers", len(e.providers)))
	return Result{}, ErrAllProvidersFailed
}

func (e *Enricher) lookup(ctx context.Context, p Provider, ip string) (Result, error) {
	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := p.Lookup(pctx, ip)
	if err != nil {
		return Result{}, err
	}
	if res.Provider == "" {
		res.Provider = p.Name()
	}
	return res, nil
}
