package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Answer-list store backends.
const (
	StoreNone     = "none"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	TerminologyServer string        `mapstructure:"TERMINOLOGY_SERVER"`
	FHIRServerURL     string        `mapstructure:"FHIR_SERVER_URL"`
	HTTPTimeout       time.Duration `mapstructure:"HTTP_TIMEOUT"`
	TerminologyRPS    float64       `mapstructure:"TERMINOLOGY_RPS"`
	TerminologyBurst  int           `mapstructure:"TERMINOLOGY_BURST"`
	AllowHTML         bool          `mapstructure:"ALLOW_HTML"`
	ExpandConcurrency int           `mapstructure:"EXPAND_CONCURRENCY"`

	ValueSetCacheSize int           `mapstructure:"VALUESET_CACHE_SIZE"`
	ValueSetStore     string        `mapstructure:"VALUESET_STORE"`
	ValueSetTTL       time.Duration `mapstructure:"VALUESET_TTL"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV",
	"TERMINOLOGY_SERVER", "FHIR_SERVER_URL", "HTTP_TIMEOUT", "TERMINOLOGY_RPS",
	"TERMINOLOGY_BURST", "ALLOW_HTML", "EXPAND_CONCURRENCY",
	"VALUESET_CACHE_SIZE", "VALUESET_STORE", "VALUESET_TTL", "REDIS_URL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
}

// Load reads .env, when present, and the environment. Environment variables
// win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("TERMINOLOGY_RPS", 20)
	v.SetDefault("TERMINOLOGY_BURST", 40)
	v.SetDefault("EXPAND_CONCURRENCY", 4)
	v.SetDefault("VALUESET_CACHE_SIZE", 1000)
	v.SetDefault("VALUESET_STORE", StoreNone)
	v.SetDefault("VALUESET_TTL", "24h")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "16M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ValueSetStore = strings.ToLower(strings.TrimSpace(cfg.ValueSetStore))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether bearer tokens are required.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Validate checks that the settings fit together. Production requires
// authentication.
func (c *Config) Validate() error {
	switch c.ValueSetStore {
	case StoreNone, "":
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when VALUESET_STORE is %q", StoreRedis)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when VALUESET_STORE is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("VALUESET_STORE must be %q, %q or %q, got %q", StoreNone, StoreRedis, StorePostgres, c.ValueSetStore)
	}

	for name, raw := range map[string]string{
		"TERMINOLOGY_SERVER": c.TerminologyServer,
		"FHIR_SERVER_URL":    c.FHIRServerURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
		}
	}

	if c.ValueSetCacheSize <= 0 {
		return fmt.Errorf("VALUESET_CACHE_SIZE must be positive, got %d", c.ValueSetCacheSize)
	}
	if c.ExpandConcurrency <= 0 {
		return fmt.Errorf("EXPAND_CONCURRENCY must be positive, got %d", c.ExpandConcurrency)
	}
	if c.TerminologyRPS < 0 {
		return fmt.Errorf("TERMINOLOGY_RPS must not be negative, got %v", c.TerminologyRPS)
	}

	if c.IsProduction() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.AuthEnabled() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	return nil
}
