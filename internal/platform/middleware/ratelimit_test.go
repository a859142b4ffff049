package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func runLimited(mw echo.MiddlewareFunc, ip string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	return rec, mw(okHandler)(e.NewContext(req, rec))
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})
	for i := 0; i < 3; i++ {
		rec, err := runLimited(mw, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "1" {
			t.Errorf("expected limit header 1, got %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 1})
	if _, err := runLimited(mw, "10.0.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := runLimited(mw, "10.0.0.1")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})
	if _, err := runLimited(mw, "10.0.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := runLimited(mw, "10.0.0.2"); err != nil {
		t.Errorf("expected a separate bucket for another client, got %v", err)
	}
}

func TestRateLimit_EvictsOldClients(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1, MaxClients: 1})
	runLimited(mw, "10.0.0.1")
	runLimited(mw, "10.0.0.2")
	if _, err := runLimited(mw, "10.0.0.1"); err != nil {
		t.Errorf("expected an evicted client to start with a full bucket, got %v", err)
	}
}

func TestRateLimit_KeyFunc(t *testing.T) {
	mw := RateLimit(RateLimitConfig{
		RequestsPerSecond: 0.1,
		BurstSize:         1,
		KeyFunc:           func(echo.Context) string { return "everyone" },
	})
	runLimited(mw, "10.0.0.1")
	if _, err := runLimited(mw, "10.0.0.2"); err == nil {
		t.Error("expected clients sharing a key to share a bucket")
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 || cfg.MaxClients <= 0 {
		t.Errorf("expected positive defaults, got %+v", cfg)
	}
}
