package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/cachestore"
	"github.com/mykull23/us-census-map-shanir/internal/demographics"
	"github.com/mykull23/us-census-map-shanir/internal/ratelimit"
	"github.com/mykull23/us-census-map-shanir/pkg/census"
)

// fetchEnv bundles the fetch service with the dependencies the composition
// root owns on its behalf. Commands build one env, use the service, and
// Close when done.
type fetchEnv struct {
	Cache   cachestore.Store
	Limiter *ratelimit.Window
	Service *demographics.Service
}

// Close releases the cache store. Safe to call on a partially initialized
// env.
func (e *fetchEnv) Close() {
	if e == nil {
		return
	}
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("cache close failed", zap.Error(err))
		}
	}
}

// initFetchEnv wires the cache store, the sliding-window limiter and the
// Census API client into a fetch service, all from the loaded config.
func initFetchEnv(ctx context.Context) (*fetchEnv, error) {
	store, err := openCache(ctx)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	})

	client := census.NewClient(
		census.WithBaseURL(cfg.Census.BaseURL),
		census.WithRateLimit(cfg.Census.RequestsPerSecond),
		census.WithTimeout(time.Duration(cfg.Census.TimeoutSecs)*time.Second),
	)

	svc := demographics.New(store, limiter, client, demographics.Options{
		Dataset:           cfg.Census.Dataset,
		Year:              cfg.Census.Year,
		APIKey:            cfg.Census.Key,
		BatchSize:         cfg.Fetch.BatchSize,
		MaxConcurrent:     cfg.Fetch.MaxConcurrent,
		MaxAttempts:       cfg.Fetch.MaxAttempts,
		InitialBackoff:    cfg.Fetch.InitialBackoff,
		MaxBackoff:        cfg.Fetch.MaxBackoff,
		RateLimitCooldown: cfg.Census.RateLimitCooldown,
	})

	return &fetchEnv{Cache: store, Limiter: limiter, Service: svc}, nil
}

// openCache opens the configured cache backend. The sqlite driver takes the
// file path as its DSN, postgres takes the connection string.
func openCache(ctx context.Context) (cachestore.Store, error) {
	dsn := cfg.Cache.Path
	if cfg.Cache.Driver == "postgres" {
		dsn = cfg.Cache.DatabaseURL
	}
	return cachestore.Open(ctx, cfg.Cache.Driver, dsn, cachestore.Options{
		Namespace:  cfg.Cache.Namespace,
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
		EvictBatch: cfg.Cache.EvictBatch,
	})
}
