package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ehr/formimport/internal/config"
	"github.com/ehr/formimport/internal/domain/forms"
	"github.com/ehr/formimport/internal/form"
	"github.com/ehr/formimport/internal/platform/db"
	"github.com/ehr/formimport/internal/platform/ucum"
	"github.com/ehr/formimport/internal/valueset"
)

const redisKeyPrefix = "formimport:valueset:"

// app holds the service and the connections it was built on.
type app struct {
	cfg    *config.Config
	svc    *forms.Service
	pool   *pgxpool.Pool
	redis  *redis.Client
	logger zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	cache, err := valueset.NewCache(cfg.ValueSetCacheSize, store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	limiter := terminologyLimiter(cfg.TerminologyRPS, cfg.TerminologyBurst)

	opts := valueset.Options{
		NewClient:     valueset.ClientFactory(httpClient, limiter),
		DefaultServer: cfg.TerminologyServer,
		AllowHTML:     cfg.AllowHTML,
		Concurrency:   cfg.ExpandConcurrency,
	}
	if cfg.FHIRServerURL != "" {
		opts.Ambient = valueset.NewHTTPClient(cfg.FHIRServerURL, httpClient, limiter)
	}
	resolver := valueset.NewResolver(cache, opts, logger)

	values := form.NewValueConverter(ucum.NewConverter())
	a.svc = forms.NewService(values, resolver, cache, logger)
	return a, nil
}

// terminologyLimiter bounds outbound terminology requests. A zero rate leaves
// them unlimited.
func terminologyLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// openStore connects the shared answer-list store, if one is configured. The
// postgres store migrates its schema on open.
func (a *app) openStore(ctx context.Context) (valueset.Store, error) {
	switch a.cfg.ValueSetStore {
	case config.StoreRedis:
		client, err := valueset.NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.logger.Info().Msg("connected to redis")
		return valueset.NewRedisStore(client, redisKeyPrefix, a.cfg.ValueSetTTL), nil

	case config.StorePostgres:
		pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.logger.Info().Msg("connected to database")

		applied, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrating value set store: %w", err)
		}
		if applied > 0 {
			a.logger.Info().Int("count", applied).Msg("applied migrations")
		}
		return valueset.NewPGStore(pool), nil
	}
	return nil, nil
}

func (a *app) storeName() string {
	if a.cfg.ValueSetStore == "" {
		return config.StoreNone
	}
	return a.cfg.ValueSetStore
}

// healthChecks lists the dependencies checked by the health endpoint besides
// the database pool.
func (a *app) healthChecks() map[string]db.Check {
	checks := make(map[string]db.Check)
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing redis client")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
