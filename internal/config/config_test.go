package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.ValueSetStore != StoreNone {
		t.Errorf("expected store none, got %s", cfg.ValueSetStore)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.HTTPTimeout)
	}
	if cfg.ValueSetCacheSize != 1000 {
		t.Errorf("expected cache size 1000, got %d", cfg.ValueSetCacheSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("TERMINOLOGY_SERVER", "https://tx.example.org/fhir")
	t.Setenv("VALUESET_STORE", " Redis ")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("ALLOW_HTML", "true")
	t.Setenv("DB_MAX_CONNS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TerminologyServer != "https://tx.example.org/fhir" {
		t.Errorf("unexpected terminology server %q", cfg.TerminologyServer)
	}
	if cfg.ValueSetStore != StoreRedis {
		t.Errorf("expected normalized store redis, got %q", cfg.ValueSetStore)
	}
	if cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.HTTPTimeout)
	}
	if !cfg.AllowHTML {
		t.Error("expected ALLOW_HTML to be true")
	}
	if cfg.DBMaxConns != 7 {
		t.Errorf("expected 7 max conns, got %d", cfg.DBMaxConns)
	}
}

func validConfig() Config {
	return Config{
		Env:               "development",
		ValueSetStore:     StoreNone,
		ValueSetCacheSize: 100,
		ExpandConcurrency: 4,
	}
}

func TestValidate(t *testing.T) {
	key := strings.Repeat("k", 32)
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"redis without url", func(c *Config) { c.ValueSetStore = StoreRedis }, "REDIS_URL"},
		{"postgres without url", func(c *Config) { c.ValueSetStore = StorePostgres }, "DATABASE_URL"},
		{"postgres with url", func(c *Config) {
			c.ValueSetStore = StorePostgres
			c.DatabaseURL = "postgres://localhost/formimport"
		}, ""},
		{"unknown store", func(c *Config) { c.ValueSetStore = "memcached" }, "VALUESET_STORE"},
		{"relative terminology server", func(c *Config) { c.TerminologyServer = "tx/fhir" }, "TERMINOLOGY_SERVER"},
		{"ftp fhir server", func(c *Config) { c.FHIRServerURL = "ftp://example.org" }, "FHIR_SERVER_URL"},
		{"zero cache", func(c *Config) { c.ValueSetCacheSize = 0 }, "VALUESET_CACHE_SIZE"},
		{"zero concurrency", func(c *Config) { c.ExpandConcurrency = 0 }, "EXPAND_CONCURRENCY"},
		{"negative rps", func(c *Config) { c.TerminologyRPS = -1 }, "TERMINOLOGY_RPS"},
		{"production without auth", func(c *Config) { c.Env = "production" }, "AUTH_SIGNING_KEY is required"},
		{"production with auth", func(c *Config) {
			c.Env = "production"
			c.AuthSigningKey = key
		}, ""},
		{"short key", func(c *Config) { c.AuthSigningKey = "short" }, "at least 32 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}
	c.Env = "production"
	if c.IsDev() || !c.IsProduction() {
		t.Error("expected production mode")
	}
}
