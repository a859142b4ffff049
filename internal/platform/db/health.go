package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Check tests one dependency.
type Check func(ctx context.Context) error

// ComponentStatus is the health of one dependency.
type ComponentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthReport is the body of the health endpoint.
type HealthReport struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
	Pool       *PoolStats        `json:"pool,omitempty"`
}

// RunChecks runs every check with a shared deadline.
func RunChecks(ctx context.Context, checks map[string]Check) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := HealthReport{Status: "healthy"}
	for _, name := range names {
		cs := ComponentStatus{Name: name, Status: "healthy"}
		if err := checks[name](ctx); err != nil {
			cs.Status = "unhealthy"
			cs.Error = err.Error()
			report.Status = "unhealthy"
		}
		report.Components = append(report.Components, cs)
	}
	return report
}

// HealthHandler reports the health of the service and its stores. pool may
// be nil when no database is configured.
func HealthHandler(pool *pgxpool.Pool, checks map[string]Check) echo.HandlerFunc {
	all := make(map[string]Check, len(checks)+1)
	for name, c := range checks {
		all[name] = c
	}
	if pool != nil {
		all["database"] = pool.Ping
	}

	return func(c echo.Context) error {
		report := RunChecks(c.Request().Context(), all)
		if pool != nil {
			report.Pool = GetPoolStats(pool)
		}
		if report.Status != "healthy" {
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}
