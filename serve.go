package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"visitrack/api/config"
	"visitrack/api/handlers"
	"visitrack/api/logger"
	"visitrack/api/middleware"
	"visitrack/api/prompt"
	"visitrack/api/utils"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collector HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context())
		},
	}
}

// trustedPlatformHeader maps a TRUSTED_PLATFORM value to the header gin
// should read the client IP from. Unknown values are taken as a header name.
func trustedPlatformHeader(platform string) string {
	switch strings.ToLower(platform) {
	case "":
		return ""
	case "cloudflare":
		return gin.PlatformCloudflare
	case "appengine", "google-app-engine":
		return gin.PlatformGoogleAppEngine
	case "flyio", "fly.io":
		return gin.PlatformFlyIO
	case "digitalocean":
		return "DO-Connecting-IP"
	default:
		return platform
	}
}

// newEngine builds the router with its global middleware. Forwarding headers
// are only trusted from cfg.TrustedProxies.
func newEngine(cfg config.Config, log *slog.Logger) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	r.TrustedPlatform = trustedPlatformHeader(cfg.TrustedPlatform)
	r.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.CORSMiddleware(cfg.FEOrigin))
	return r, nil
}

func runServer(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	d := a.dispatcher()
	tracker := a.tracker(d)
	go tracker.Run(ctx)
	if a.memorySnaps != nil {
		go func() {
			ticker := time.NewTicker(cfg.Session.TTL)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.memorySnaps.Cleanup()
				}
			}
		}()
	}

	tokens := utils.NewTokenIssuer(cfg.Auth.JWTSecret)
	gate := &prompt.Gate{
		CookieName:     cfg.Prompt.CookieName,
		Expiry:         time.Duration(cfg.Prompt.CookieDays) * 24 * time.Hour,
		Delay:          cfg.Prompt.Delay,
		FirstVisitOnly: cfg.Prompt.FirstVisitOnly,
		Secure:         cfg.Auth.SecureCookie,
		Now:            time.Now,
	}

	// Interfaces stay nil when the backend is disabled.
	var (
		stats       handlers.StatsReader
		subscribers handlers.SubscriberLister
		users       handlers.UserLookup
	)
	if a.analytics != nil {
		stats = a.analytics
	}
	if a.subscribers != nil {
		subscribers = a.subscribers
	}
	if a.users != nil {
		users = a.users
	}

	visitorHandlers := handlers.NewVisitorHandlers(tracker, tokens, gate, cfg.Session.TTL, cfg.Auth.SecureCookie, log)
	promptHandlers := handlers.NewPromptHandlers(gate)
	authHandlers := handlers.NewAuthHandlers(users, tokens, cfg.Auth.AdminTTL, cfg.Auth.SecureCookie, log)
	analyticsHandlers := handlers.NewAnalyticsHandlers(stats, subscribers, log)

	health := handlers.NewHealthHandlers()
	if a.clickhouse != nil {
		health.Register("clickhouse", a.clickhouse.Ping)
	}
	if a.postgres != nil {
		health.Register("postgres", a.postgres.DB.PingContext)
	}
	if a.redisSnaps != nil {
		health.Register("redis", a.redisSnaps.Ping)
	}

	r, err := newEngine(cfg, log)
	if err != nil {
		return err
	}

	r.GET("/health", health.Health)

	api := r.Group("/api")
	{
		api.POST("/visitors", visitorHandlers.Start)
		api.GET("/prompt", promptHandlers.Show)
		api.POST("/prompt/dismiss", promptHandlers.Dismiss)

		session := api.Group("/visitors/:id", middleware.VisitorToken(tokens))
		{
			session.GET("", visitorHandlers.Get)
			session.POST("/refresh", visitorHandlers.Refresh)
			session.POST("/contact", visitorHandlers.Contact)
			session.POST("/subscribe", visitorHandlers.Subscribe)
		}

		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		statsGroup := api.Group("/stats", middleware.AuthRequired(cfg.Auth.APIKey, tokens, log))
		{
			statsGroup.GET("/visitors", analyticsHandlers.GetUniqueVisitorsOverTime)
			statsGroup.GET("/devices", analyticsHandlers.Breakdown("device_type"))
			statsGroup.GET("/browsers", analyticsHandlers.Breakdown("browser"))
			statsGroup.GET("/breakdown", analyticsHandlers.Breakdown(""))
			statsGroup.GET("/top-pages", analyticsHandlers.GetTopPages)
			statsGroup.GET("/event-counts", analyticsHandlers.GetEventCountsOverTime)
			statsGroup.GET("/subscribers", analyticsHandlers.ListSubscribers)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("visitrack API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logger.Error(err))
	}

	tracker.Close()
	if err := d.Close(shutdownCtx); err != nil {
		log.Warn("dispatch queue not drained", logger.Error(err))
	}

	log.Info("server exiting")
	return nil
}
