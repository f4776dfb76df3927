package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"visitrack/api/config"
	"visitrack/api/database"
	"visitrack/api/dispatch"
	"visitrack/api/geo"
	"visitrack/api/logger"
	"visitrack/api/store"
	"visitrack/api/visitor"
)

// app holds every optional backend. Nil fields are disabled.
type app struct {
	cfg config.Config
	log *slog.Logger

	postgres   *database.DBClient
	clickhouse *database.ClickHouseClient
	redis      *redis.Client
	maxmind    *geo.MaxMindProvider

	analytics   *store.AnalyticsStore
	users       *store.UserStore
	subscribers *store.SubscriberStore
	snapshots   visitor.SnapshotStore
	redisSnaps  *store.RedisSnapshotStore
	memorySnaps *store.MemorySnapshotStore
	webhook     *dispatch.WebhookSender
	enricher    *geo.Enricher
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.New(
		logger.WithLevel(cfg.LogLevel),
		logger.WithFormat(cfg.LogFormat),
		logger.WithAttr(slog.String("service", "visitrack")),
	)
	return cfg, log, nil
}

// buildEnricher assembles the provider list: the offline MaxMind database
// first when configured, then the HTTP services.
func buildEnricher(cfg config.Config, log *slog.Logger) (*geo.Enricher, *geo.MaxMindProvider, error) {
	specs := geo.DefaultProviderSpecs()
	if cfg.Geo.ProvidersFile != "" {
		loaded, err := geo.LoadProviderSpecs(cfg.Geo.ProvidersFile)
		if err != nil {
			return nil, nil, err
		}
		specs = loaded
	}

	var providers []geo.Provider
	var mm *geo.MaxMindProvider
	if cfg.Geo.CityDB != "" {
		var err error
		mm, err = geo.OpenMaxMind(cfg.Geo.CityDB)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, mm)
	}
	providers = append(providers, geo.BuildHTTPProviders(specs, &http.Client{})...)

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	log.Info("geolocation providers", slog.Any("order", names))

	return geo.NewEnricher(providers, geo.WithTimeout(cfg.Geo.Timeout), geo.WithLogger(log)), mm, nil
}

func connectPostgres(ctx context.Context, cfg config.Config, log *slog.Logger) (*database.DBClient, error) {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	enricher, mm, err := buildEnricher(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to configure geolocation: %w", err)
	}
	a.enricher, a.maxmind = enricher, mm

	if cfg.DatabaseURL != "" {
		if a.postgres, err = connectPostgres(ctx, cfg, log); err != nil {
			a.Close()
			return nil, err
		}
		a.users = store.NewUserStore(a.postgres.DB)
		a.subscribers = store.NewSubscriberStore(a.postgres.DB)
	} else {
		log.Warn("DATABASE_URL not set: admin login and subscriber storage disabled")
	}

	if cfg.ClickHouse.Enabled() {
		if a.clickhouse, err = database.NewClickHouseDB(ctx, cfg.ClickHouse, log); err != nil {
			a.Close()
			return nil, err
		}
		a.analytics = store.NewAnalyticsStore(a.clickhouse, log)
		if err := a.analytics.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		log.Warn("CLICKHOUSE_HOST not set: analytics collector disabled")
	}

	if cfg.RedisURL != "" {
		if a.redis, err = database.NewRedisClient(ctx, cfg.RedisURL, 3, time.Second); err != nil {
			a.Close()
			return nil, err
		}
		a.redisSnaps = store.NewRedisSnapshotStore(a.redis, cfg.Session.TTL)
		a.snapshots = a.redisSnaps
	} else {
		log.Warn("REDIS_URL not set: visitor snapshots kept in memory")
		a.memorySnaps = store.NewMemorySnapshotStore(cfg.Session.TTL)
		a.snapshots = a.memorySnaps
	}

	if cfg.Webhook.URL != "" {
		if a.webhook, err = dispatch.NewWebhookSender(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	opts := []dispatch.Option{dispatch.WithLogger(a.log), dispatch.WithSendTimeout(a.cfg.Webhook.Timeout)}
	if a.analytics != nil {
		opts = append(opts, dispatch.WithAnalytics(a.analytics))
	}
	if a.webhook != nil {
		opts = append(opts, dispatch.WithWebhook(a.webhook))
	}
	return dispatch.New(a.cfg.DispatchQueueSize, opts...)
}

func (a *app) tracker(d *dispatch.Dispatcher) *visitor.Tracker {
	opts := []visitor.Option{
		visitor.WithLogger(a.log),
		visitor.WithTTL(a.cfg.Session.TTL),
		visitor.WithSnapshotStore(a.snapshots),
	}
	if a.subscribers != nil {
		opts = append(opts, visitor.WithSubscriberStore(a.subscribers))
	}
	return visitor.NewTracker(a.enricher, d, opts...)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("error closing redis", logger.Error(err))
		}
	}
	if a.clickhouse != nil {
		a.clickhouse.Close()
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.maxmind != nil {
		_ = a.maxmind.Close()
	}
}
