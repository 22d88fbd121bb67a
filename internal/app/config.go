package app

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// Remote events API, reached only through the secured client.
	APIBaseURL string        `envconfig:"API_BASE_URL" required:"true"`
	APITimeout time.Duration `envconfig:"API_TIMEOUT" default:"15s"`

	// Hosted identity provider. Leave IDPBaseURL empty in development to
	// run the in-process provider instead.
	IDPBaseURL    string        `envconfig:"IDP_BASE_URL" default:""`
	IDPAPIKey     string        `envconfig:"IDP_API_KEY" default:""`
	IDPTimeout    time.Duration `envconfig:"IDP_TIMEOUT" default:"10s"`
	IDPHookSecret string        `envconfig:"IDP_HOOK_SECRET" default:""`

	// Federated sign-in (Google authorization-code flow).
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID" default:""`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET" default:""`
	PublicBaseURL      string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionCookie  string        `envconfig:"SESSION_COOKIE" default:"gatherly_session"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"168h"`
	ResolveTimeout time.Duration `envconfig:"SESSION_RESOLVE_TIMEOUT" default:"15s"`
	RoleCacheTTL   time.Duration `envconfig:"ROLE_CACHE_TTL" default:"5m"`

	// Audit trail database. Optional: empty disables auditing.
	PGDSN string `envconfig:"PG_DSN" default:""`

	// Payment provider used by the donations flow.
	PaymentBaseURL string `envconfig:"PAYMENT_BASE_URL" default:""`
	PaymentAPIKey  string `envconfig:"PAYMENT_API_KEY" default:""`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("API_BASE_URL must be provided")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
