// Package census provides a client for the Census Bureau data API, fetching
// American Community Survey variables for ZIP Code Tabulation Areas.
package census

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/mykull23/us-census-map-shanir/internal/resilience"
)

const (
	defaultBaseURL = "https://api.census.gov/data"
	defaultTimeout = 30 * time.Second

	// zctaClause is the pre-encoded geography predicate for ZCTA queries.
	// The API names the geography with spaces, so the clause is baked in
	// percent-encoded rather than run through url.Values.
	zctaClause = "zip%20code%20tabulation%20area"
)

// Client fetches ACS variables for ZIP Code Tabulation Areas.
type Client interface {
	// FetchBatch retrieves the given variables for the given ZCTAs in a
	// single request. The returned map is keyed by ZCTA code; ZCTAs the API
	// did not match are simply absent.
	FetchBatch(ctx context.Context, dataset string, year int, vars []string, zips []string, key string) (map[string]map[string]string, error)

	// ValidateKey issues a one-variable, one-ZCTA probe and classifies the
	// outcome.
	ValidateKey(ctx context.Context, key string) (KeyStatus, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(base string) Option {
	return func(c *client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithRateLimit sets the requests-per-second politeness limit against the API.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout overrides the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		c.httpClient.Timeout = d
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a Census data API client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		limiter:    rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBatch implements Client.
func (c *client) FetchBatch(ctx context.Context, dataset string, year int, vars []string, zips []string, key string) (map[string]map[string]string, error) {
	if dataset == "" {
		return nil, resilience.NewValidationError("census: dataset is required")
	}
	if year <= 0 {
		return nil, resilience.NewValidationError("census: year %d out of range", year)
	}
	if len(vars) == 0 {
		return nil, resilience.NewValidationError("census: no variables requested")
	}
	if len(zips) == 0 {
		return nil, resilience.NewValidationError("census: no ZCTAs requested")
	}

	reqURL := fmt.Sprintf("%s/%d/%s?get=%s&for=%s:%s",
		c.baseURL, year, dataset, strings.Join(vars, ","), zctaClause, strings.Join(zips, ","))
	if key != "" {
		reqURL += "&key=" + url.QueryEscape(key)
	}

	body, err := c.do(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	return parseBatchResponse(body)
}

// do issues one GET against the API and classifies the response.
func (c *client) do(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "census: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "census: request cancelled")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "census: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "census: read response"), resp.StatusCode)
	}

	if err := classifyResponse(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// classifyResponse maps an API response onto the retry taxonomy. The Census
// API reports a bad key as a 200 with a plain-text "Invalid Key" body, so a
// 200 that does not look like JSON is sniffed for that marker.
func classifyResponse(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.NewCredentialError(eris.Errorf("census: key rejected with status %d", status), status)
	case status == http.StatusTooManyRequests:
		return resilience.NewRateLimitError(eris.New("census: rate limited (429)"))
	case status >= 500 || status == http.StatusRequestTimeout:
		return resilience.NewTransientError(eris.Errorf("census: server error %d", status), status)
	case status != http.StatusOK:
		return eris.Errorf("census: unexpected status %d: %s", status, truncateBody(body))
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] != '[' && bytes.Contains(trimmed, []byte("Invalid Key")) {
		return resilience.NewCredentialError(eris.New("census: invalid API key"), status)
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
