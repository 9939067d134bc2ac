package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the engine configuration loaded from environment variables.
type Config struct {
	APIBaseURL string `env:"CLUBSYNC_API_URL,required"`
	PushURL    string `env:"CLUBSYNC_PUSH_URL"` // WebSocket endpoint; derived from APIBaseURL when empty
	DBPath     string `env:"CLUBSYNC_DB_PATH" envDefault:"./data/clubsync.db"`
	Env        string `env:"CLUBSYNC_ENV" envDefault:"development"`
	LogLevel   string `env:"CLUBSYNC_LOG_LEVEL" envDefault:"info"`

	// Status server
	StatusHost string `env:"CLUBSYNC_STATUS_HOST" envDefault:"127.0.0.1"`
	StatusPort int    `env:"CLUBSYNC_STATUS_PORT" envDefault:"7380"`

	// Sync tuning
	SyncInterval    time.Duration `env:"CLUBSYNC_SYNC_INTERVAL" envDefault:"5m"`
	ThrottleWindow  time.Duration `env:"CLUBSYNC_THROTTLE_WINDOW" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"CLUBSYNC_REQUEST_TIMEOUT" envDefault:"10s"`
	RetryCeiling    int           `env:"CLUBSYNC_RETRY_CEILING" envDefault:"2"`
	RetryBaseDelay  time.Duration `env:"CLUBSYNC_RETRY_BASE_DELAY" envDefault:"500ms"`
	DebounceWindow  time.Duration `env:"CLUBSYNC_DEBOUNCE_WINDOW" envDefault:"500ms"`
	RefreshCooldown time.Duration `env:"CLUBSYNC_REFRESH_COOLDOWN" envDefault:"5s"`

	// Cache configuration
	RedisURL     string `env:"CLUBSYNC_REDIS_URL"`                           // Optional Redis URL for a shared cache tier
	CachePrefix  string `env:"CLUBSYNC_CACHE_PREFIX" envDefault:"clubsync:"` // Redis key prefix
	CacheTTL     int    `env:"CLUBSYNC_CACHE_TTL" envDefault:"3600"`         // Default cache TTL in seconds
	CacheMaxSize int    `env:"CLUBSYNC_CACHE_MAX_SIZE" envDefault:"10000"`   // Max memory cache entries

	// Club-local calendar timezone for announcement date windows.
	Timezone string `env:"CLUBSYNC_TIMEZONE" envDefault:"America/New_York"`

	// DevMemberEmail injects a fixed identity and skips the session probe.
	// Intended for local development against a stub server only.
	DevMemberEmail string `env:"CLUBSYNC_DEV_MEMBER_EMAIL"`
}

// IsDevelopment returns true if the engine is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// StatusAddr returns the status server address in host:port format.
func (c Config) StatusAddr() string {
	return fmt.Sprintf("%s:%d", c.StatusHost, c.StatusPort)
}

// UseRedisCache returns true if Redis caching is configured.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// WebSocketURL returns the push channel endpoint, deriving a ws:// or wss://
// URL from APIBaseURL when PushURL is not set explicitly.
func (c Config) WebSocketURL() (string, error) {
	if c.PushURL != "" {
		return c.PushURL, nil
	}

	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return "", fmt.Errorf("deriving push URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("deriving push URL: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("CLUBSYNC_API_URL %q is not a valid absolute URL", cfg.APIBaseURL)
	}
	if cfg.SyncInterval < time.Second {
		return nil, fmt.Errorf("CLUBSYNC_SYNC_INTERVAL must be at least 1s, got %s", cfg.SyncInterval)
	}
	if cfg.RetryCeiling < 0 {
		return nil, fmt.Errorf("CLUBSYNC_RETRY_CEILING must not be negative, got %d", cfg.RetryCeiling)
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("CLUBSYNC_REQUEST_TIMEOUT must be positive, got %s", cfg.RequestTimeout)
	}
	if cfg.DebounceWindow >= cfg.RefreshCooldown {
		return nil, fmt.Errorf("CLUBSYNC_DEBOUNCE_WINDOW (%s) must be shorter than CLUBSYNC_REFRESH_COOLDOWN (%s)",
			cfg.DebounceWindow, cfg.RefreshCooldown)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("CLUBSYNC_TIMEZONE %q is not a valid IANA timezone: %w", cfg.Timezone, err)
	}

	return cfg, nil
}
