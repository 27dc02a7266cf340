package fetcher

import (
	"context"
	"io"
	"maps"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher. Zero values are filled with
// defaults by NewHTTPFetcher.
type HTTPOptions struct {
	UserAgent string

	// Timeout bounds a single request, not the whole retry sequence.
	Timeout time.Duration

	// MaxRetries is the total attempt count, including the first try.
	MaxRetries int

	// RateLimiters maps a host to its fixed limiter. Hosts absent from the
	// map get a permissive default.
	RateLimiters map[string]*rate.Limiter
}

// AdaptiveLimiter tunes a rate.Limiter from response feedback. A success
// nudges the rate up 20%, capped at twice the starting rate; a 429 halves
// it, floored at a quarter of the starting rate.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	floor   rate.Limit
	ceil    rate.Limit
}

// NewAdaptiveLimiter builds an adaptive limiter starting at initial req/s.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		current: initial,
		floor:   initial / 4,
		ceil:    initial * 2,
	}
}

// Wait blocks until the limiter releases a slot or ctx ends.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// apply clamps r into [floor, ceil] and installs it. Callers hold mu.
func (a *AdaptiveLimiter) apply(r rate.Limit) {
	if r < a.floor {
		r = a.floor
	}
	if r > a.ceil {
		r = a.ceil
	}
	a.current = r
	a.limiter.SetLimit(r)
}

// OnSuccess nudges the rate up 20%.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apply(a.current * 1.2)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apply(a.current / 2)
	zap.L().Warn("halving download rate after 429",
		zap.Float64("rate", float64(a.current)),
	)
}

// Limit reports the rate currently in force.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// datasetHosts are the servers the loader pulls gazetteer and boundary
// archives from, with the request rates they comfortably absorb. The Census
// download mirrors tolerate more traffic than the data API does.
var datasetHosts = map[string]rate.Limit{
	"www2.census.gov":       10,
	"ftp2.census.gov":       10,
	"api.census.gov":        5,
	"www.huduser.gov":       5,
	"download.geonames.org": 5,
}

// DefaultRateLimiters returns fixed per-host limiters for the dataset hosts.
func DefaultRateLimiters() map[string]*rate.Limiter {
	out := make(map[string]*rate.Limiter, len(datasetHosts))
	for host, rps := range datasetHosts {
		out[host] = rate.NewLimiter(rps, int(rps))
	}
	return out
}

// DefaultAdaptiveLimiters returns adaptive limiters for the same hosts.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	out := make(map[string]*AdaptiveLimiter, len(datasetHosts))
	for host, rps := range datasetHosts {
		out[host] = NewAdaptiveLimiter(rps, int(rps))
	}
	return out
}

// HTTPFetcher implements Fetcher over net/http with retry and per-host rate
// limiting.
type HTTPFetcher struct {
	client           *http.Client
	opts             HTTPOptions
	limiters         map[string]*rate.Limiter
	adaptiveLimiters map[string]*AdaptiveLimiter
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.UserAgent == "" {
		o.UserAgent = "us-census-map/1.0"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}

// NewHTTPFetcher builds a fetcher, filling unset options with defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	opts = opts.withDefaults()
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:             opts,
		limiters:         maps.Clone(opts.RateLimiters),
		adaptiveLimiters: DefaultAdaptiveLimiters(),
	}
}

// adaptiveLimiterFor returns the adaptive limiter for the URL's host, if any.
func (f *HTTPFetcher) adaptiveLimiterFor(rawURL string) *AdaptiveLimiter {
	if u, err := url.Parse(rawURL); err == nil {
		return f.adaptiveLimiters[u.Host]
	}
	return nil
}

// limiterFor returns the fixed limiter for the URL's host. Hosts outside the
// table get a permissive 20 req/s limiter.
func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	if u, err := url.Parse(rawURL); err == nil {
		if lim, ok := f.limiters[u.Host]; ok {
			return lim
		}
	}
	return rate.NewLimiter(20, 20)
}

// waitTurn blocks on the host's limiter, preferring the adaptive one.
func (f *HTTPFetcher) waitTurn(ctx context.Context, target string, adaptive *AdaptiveLimiter) error {
	var err error
	if adaptive != nil {
		err = adaptive.Wait(ctx)
	} else {
		err = f.limiterFor(target).Wait(ctx)
	}
	if err != nil {
		return eris.Wrap(err, "rate limiter wait")
	}
	return nil
}

// doWithRetry sends req up to MaxRetries times. Connection errors, 429s and
// 5xx responses are retried after an exponential backoff; a 429 also feeds
// the adaptive limiter. Any other status returns as-is.
func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	target := req.URL.String()
	adaptive := f.adaptiveLimiterFor(target)

	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxRetries; attempt++ {
		if err := f.waitTurn(ctx, target, adaptive); err != nil {
			return nil, err
		}

		resp, err := f.client.Do(req.Clone(ctx))
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http 429 from %s", target)
			if adaptive != nil {
				adaptive.OnRateLimit()
			}
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, target)
		default:
			if adaptive != nil {
				adaptive.OnSuccess()
			}
			return resp, nil
		}

		zap.L().Warn("download attempt failed",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt < f.opts.MaxRetries {
			f.backoff(ctx, attempt-1)
		}
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

// backoff sleeps out the nth retry delay: one second doubled n times, capped
// at 30s, plus up to 50% jitter. Returns early if ctx ends.
func (f *HTTPFetcher) backoff(ctx context.Context, n int) {
	const ceiling = 30 * time.Second
	d := time.Second
	for i := 0; i < n && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	d += time.Duration(rand.Int63n(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Download issues a GET for rawURL and returns the body stream. The caller
// owns the body and must close it.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "create request for %s", rawURL)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile streams the URL into path and reports bytes written.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer out.Close() //nolint:errcheck

	written, err := io.Copy(out, body)
	if err != nil {
		return written, eris.Wrapf(err, "write %s", path)
	}
	return written, nil
}
