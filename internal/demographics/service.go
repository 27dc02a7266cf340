// Package demographics orchestrates per-ZIP variable fetches across the
// cache store, the sliding-window rate limiter and the Census API client.
package demographics

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mykull23/us-census-map-shanir/internal/cachestore"
	"github.com/mykull23/us-census-map-shanir/internal/ratelimit"
	"github.com/mykull23/us-census-map-shanir/internal/resilience"
	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
	"github.com/mykull23/us-census-map-shanir/pkg/census"
)

// Options tunes the fetch service.
type Options struct {
	// Dataset is the ACS dataset path, e.g. "acs/acs5". Default: "acs/acs5".
	Dataset string

	// Year is the dataset vintage. Default: 2023.
	Year int

	// APIKey is the Census API key sent with every request.
	APIKey string

	// BatchSize is how many ZIPs share one provider request. Default: 10.
	BatchSize int

	// MaxConcurrent bounds in-flight batches. Default: 4.
	MaxConcurrent int

	// MaxAttempts, InitialBackoff and MaxBackoff shape the per-batch retry
	// schedule; zero values take the resilience defaults.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimitCooldown adds an extra wait after a provider 429, ahead of
	// the normal backoff. Zero disables it.
	RateLimitCooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.Dataset == "" {
		o.Dataset = "acs/acs5"
	}
	if o.Year == 0 {
		o.Year = 2023
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	return o
}

// FetchOptions overrides per-call fetch parameters. Zero values fall back to
// the service configuration.
type FetchOptions struct {
	Dataset string
	Year    int
}

// Service coordinates cache probes, batch dispatch and write-through for
// variable fetches.
type Service struct {
	cache   cachestore.Store
	limiter *ratelimit.Window
	client  census.Client
	opts    Options

	calls     atomic.Int64
	cacheHits atomic.Int64
	fetched   atomic.Int64
	failures  atomic.Int64
}

// New creates a fetch service over explicit injected dependencies.
func New(cache cachestore.Store, limiter *ratelimit.Window, client census.Client, opts Options) *Service {
	return &Service{
		cache:   cache,
		limiter: limiter,
		client:  client,
		opts:    opts.withDefaults(),
	}
}

// FetchVariables resolves the requested variables for the requested ZIPs,
// serving from cache where possible and batching the rest through the
// provider. ZIPs the provider does not know go to Missing; a batch that
// exhausts its retries goes to Failures while sibling batches still deliver.
func (s *Service) FetchVariables(ctx context.Context, zips, vars []string, opts FetchOptions) (*Result, error) {
	s.calls.Add(1)

	if len(zips) == 0 {
		return nil, resilience.NewValidationError("demographics: no ZIPs requested")
	}
	if len(vars) == 0 {
		return nil, resilience.NewValidationError("demographics: no variables requested")
	}

	normalized := normalizeZips(zips)
	if len(normalized) == 0 {
		return nil, resilience.NewValidationError("demographics: no usable ZIPs after normalization")
	}

	dataset := opts.Dataset
	if dataset == "" {
		dataset = s.opts.Dataset
	}
	year := opts.Year
	if year == 0 {
		year = s.opts.Year
	}

	requestID := uuid.New().String()
	log := zap.L().With(zap.String("request_id", requestID))

	result := &Result{
		RequestID: requestID,
		Values:    make(map[string]ZipValues, len(normalized)),
	}

	misses := s.probeCache(ctx, log, normalized, vars, result)
	if len(misses) == 0 {
		log.Info("fetch served entirely from cache", zap.Int("zips", len(normalized)))
		return result, nil
	}

	log.Info("dispatching provider batches",
		zap.Int("misses", len(misses)),
		zap.Int("batch_size", s.opts.BatchSize),
		zap.Int("max_concurrent", s.opts.MaxConcurrent),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrent)

	for _, batch := range partition(misses, s.opts.BatchSize) {
		batch := batch
		g.Go(func() error {
			fetched, failure := s.fetchBatch(gctx, log, dataset, year, vars, batch)

			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				result.Failures = append(result.Failures, *failure)
				return nil // don't abort the call on one failed batch
			}
			for _, zip := range batch {
				values, ok := fetched[zip]
				if !ok {
					result.Missing = append(result.Missing, zip)
					continue
				}
				s.fetched.Add(1)
				result.Values[zip] = ZipValues{Zip: zip, Values: values, Source: "api"}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	sort.Strings(result.Missing)

	log.Info("fetch complete",
		zap.Int("resolved", len(result.Values)),
		zap.Int("missing", len(result.Missing)),
		zap.Int("failed_batches", len(result.Failures)),
	)
	return result, nil
}

// probeCache fills result with cache hits and returns the ZIPs that still
// need the provider. Read failures and undecodable payloads count as misses;
// a later write-through replaces them in place.
func (s *Service) probeCache(ctx context.Context, log *zap.Logger, zips, vars []string, result *Result) []string {
	var misses []string
	for _, zip := range zips {
		key := s.cache.Key(zip, vars)
		entry, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn("cache read failed", zap.String("zip", zip), zap.Error(err))
			misses = append(misses, zip)
			continue
		}
		if entry == nil {
			misses = append(misses, zip)
			continue
		}
		var values map[string]string
		if err := json.Unmarshal(entry.Payload, &values); err != nil {
			log.Warn("cached payload undecodable, refetching", zap.String("zip", zip), zap.Error(err))
			misses = append(misses, zip)
			continue
		}
		s.cacheHits.Add(1)
		result.Values[zip] = ZipValues{Zip: zip, Values: values, Source: "cache"}
	}
	return misses
}

// fetchBatch runs one retry-wrapped provider request for a batch of ZIPs.
// Every attempt passes rate-limit admission first, so retries are never
// exempt from the window. Successful responses are written through to the
// cache before the batch reports back.
func (s *Service) fetchBatch(ctx context.Context, log *zap.Logger, dataset string, year int, vars, zips []string) (map[string]map[string]string, *BatchFailure) {
	cfg := resilience.RetryConfig{
		MaxAttempts:    s.opts.MaxAttempts,
		InitialBackoff: s.opts.InitialBackoff,
		MaxBackoff:     s.opts.MaxBackoff,
	}
	logRetry := resilience.RetryLogger("census", "fetch_batch")
	cfg.OnRetry = func(attempt int, err error) {
		logRetry(attempt, err)
		if s.opts.RateLimitCooldown > 0 && resilience.IsRateLimit(err) {
			log.Warn("provider throttled, cooling down",
				zap.Duration("cooldown", s.opts.RateLimitCooldown),
			)
			sleepCtx(ctx, s.opts.RateLimitCooldown)
		}
	}

	var attempts int
	fetched, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (map[string]map[string]string, error) {
		attempts++
		if err := s.limiter.Admit(ctx); err != nil {
			return nil, err
		}
		return s.client.FetchBatch(ctx, dataset, year, vars, zips, s.opts.APIKey)
	})
	if err != nil {
		s.failures.Add(1)
		log.Error("batch exhausted retries",
			zap.Strings("zips", zips),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, &BatchFailure{Zips: zips, Attempts: attempts, Error: err.Error()}
	}

	s.writeThrough(ctx, log, dataset, year, vars, fetched)
	return fetched, nil
}

// writeThrough persists fetched values. Cache trouble never fails a fetch
// that already has its data.
func (s *Service) writeThrough(ctx context.Context, log *zap.Logger, dataset string, year int, vars []string, fetched map[string]map[string]string) {
	writes := make([]cachestore.Write, 0, len(fetched))
	for zip, values := range fetched {
		payload, err := json.Marshal(values)
		if err != nil {
			log.Warn("marshal cache payload", zap.String("zip", zip), zap.Error(err))
			continue
		}
		writes = append(writes, cachestore.Write{
			Key:     s.cache.Key(zip, vars),
			Payload: payload,
			Meta: cachestore.Meta{
				Zip:     zip,
				Source:  "api",
				Dataset: dataset,
				Year:    year,
			},
		})
	}
	if len(writes) == 0 {
		return
	}
	if err := s.cache.PutMany(ctx, writes); err != nil {
		log.Warn("cache write-through failed", zap.Int("writes", len(writes)), zap.Error(err))
	}
}

// ClearCache drops every cached entry in the service's namespace.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	return s.cache.Clear(ctx)
}

// CacheStats reports entry count and payload size for the cache namespace.
func (s *Service) CacheStats(ctx context.Context) (CacheStats, error) {
	count, err := s.cache.Count(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	size, err := s.cache.SizeBytes(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	return CacheStats{Entries: count, SizeBytes: size}, nil
}

// ValidateCredential probes the provider with the configured key.
func (s *Service) ValidateCredential(ctx context.Context) (census.KeyStatus, error) {
	return s.client.ValidateKey(ctx, s.opts.APIKey)
}

// Stats returns the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Calls:     s.calls.Load(),
		CacheHits: s.cacheHits.Load(),
		Fetched:   s.fetched.Load(),
		Failures:  s.failures.Load(),
	}
}

// normalizeZips pads, dedupes and drops empty entries, preserving first-seen
// order.
func normalizeZips(zips []string) []string {
	out := make([]string, 0, len(zips))
	seen := make(map[string]struct{}, len(zips))
	for _, z := range zips {
		nz := zipdata.NormalizeZip(z)
		if nz == "" {
			continue
		}
		if _, dup := seen[nz]; dup {
			continue
		}
		seen[nz] = struct{}{}
		out = append(out, nz)
	}
	return out
}

// partition splits zips into batches of at most size.
func partition(zips []string, size int) [][]string {
	batches := make([][]string, 0, (len(zips)+size-1)/size)
	for i := 0; i < len(zips); i += size {
		end := i + size
		if end > len(zips) {
			end = len(zips)
		}
		batches = append(batches, zips[i:end])
	}
	return batches
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
