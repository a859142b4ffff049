package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRunChecks_AllHealthy(t *testing.T) {
	report := RunChecks(context.Background(), map[string]Check{
		"redis": func(ctx context.Context) error { return nil },
		"cache": func(ctx context.Context) error { return nil },
	})
	if report.Status != "healthy" {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if len(report.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(report.Components))
	}
	if report.Components[0].Name != "cache" {
		t.Errorf("expected components sorted by name, got %s first", report.Components[0].Name)
	}
}

func TestRunChecks_OneFailing(t *testing.T) {
	report := RunChecks(context.Background(), map[string]Check{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	if report.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", report.Status)
	}
	if report.Components[0].Error != "connection refused" {
		t.Errorf("expected error text, got %q", report.Components[0].Error)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"healthy", nil, http.StatusOK, `"status":"healthy"`},
		{"unhealthy", errors.New("down"), http.StatusServiceUnavailable, `"error":"down"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := HealthHandler(nil, map[string]Check{
				"redis": func(ctx context.Context) error { return tt.err },
			})
			if err := h(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %s, got %s", tt.wantBody, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), `"pool"`) {
				t.Error("expected no pool stats without a database")
			}
		})
	}
}
