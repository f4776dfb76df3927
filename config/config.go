package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrParsingConfig = errors.New("failed to parse environment variables into config")

const defaultJWTSecret = "change-me"

// Config is the whole service configuration. Optional backends stay disabled
// while their connection settings are empty.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	GinMode  string `env:"GIN_MODE" envDefault:"debug"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	FEOrigin string `env:"FE_ORIGIN" envDefault:"http://localhost:3000"`

	// Forwarding headers are honoured only from these peers. TrustedPlatform
	// names a CDN whose client IP header is trusted outright.
	TrustedProxies  []string `env:"TRUSTED_PROXIES" envSeparator:","`
	TrustedPlatform string   `env:"TRUSTED_PLATFORM"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	ClickHouse ClickHouseConfig `envPrefix:"CLICKHOUSE_"`
	Auth       AuthConfig
	Webhook    WebhookConfig `envPrefix:"WEBHOOK_"`
	Geo        GeoConfig     `envPrefix:"GEO_"`
	Prompt     PromptConfig  `envPrefix:"PROMPT_"`
	Session    SessionConfig `envPrefix:"SESSION_"`

	DispatchQueueSize int `env:"DISPATCH_QUEUE_SIZE" envDefault:"256"`
}

type ClickHouseConfig struct {
	Host       string `env:"HOST"`
	NativePort int    `env:"NATIVE_PORT" envDefault:"9000"`
	DBName     string `env:"DB_NAME" envDefault:"default"`
	Username   string `env:"USERNAME" envDefault:"default"`
	Password   string `env:"PASSWORD"`
}

// Enabled reports whether the analytics collector should be connected.
func (c ClickHouseConfig) Enabled() bool { return c.Host != "" }

type AuthConfig struct {
	JWTSecret    string        `env:"JWT_SECRET_KEY" envDefault:"change-me"`
	APIKey       string        `env:"AUTH_DEFAULT"`
	AdminTTL     time.Duration `env:"ADMIN_TOKEN_TTL" envDefault:"24h"`
	SecureCookie bool          `env:"SECURE_COOKIES" envDefault:"false"`
}

type WebhookConfig struct {
	URL     string        `env:"URL"`
	Secret  string        `env:"SECRET"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type GeoConfig struct {
	ProvidersFile string        `env:"PROVIDERS_FILE"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"5s"`
	CityDB        string        `env:"IP_CITY_DB"`
}

type PromptConfig struct {
	CookieName     string        `env:"COOKIE_NAME" envDefault:"email_prompt_shown"`
	CookieDays     int           `env:"COOKIE_DAYS" envDefault:"30"`
	Delay          time.Duration `env:"DELAY" envDefault:"3s"`
	FirstVisitOnly bool          `env:"FIRST_VISIT_ONLY" envDefault:"true"`
}

type SessionConfig struct {
	TTL time.Duration `env:"TTL" envDefault:"30m"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if cfg.Prompt.CookieDays < 0 {
		return Config{}, fmt.Errorf("%w: PROMPT_COOKIE_DAYS must not be negative", ErrParsingConfig)
	}
	if cfg.Session.TTL <= 0 {
		return Config{}, fmt.Errorf("%w: SESSION_TTL must be positive", ErrParsingConfig)
	}
	if cfg.AppEnv == "production" && cfg.Auth.JWTSecret == defaultJWTSecret {
		return Config{}, fmt.Errorf("%w: JWT_SECRET_KEY must be set in production", ErrParsingConfig)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.AppEnv == "production" {
			cfg.LogFormat = "json"
		}
	}
	return cfg, nil
}
