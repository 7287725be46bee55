package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/pubmed-harvester/internal/domain"
)

// DefaultMaxBodySize caps a single response body read.
const DefaultMaxBodySize = 64 << 20

// ErrBodyTooLarge is returned when a response body exceeds MaxBodySize.
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// RateLimit is the maximum requests per second. Requests are spaced at
	// least 1/RateLimit apart.
	RateLimit float64

	// MaxRetries is the total number of attempts per call.
	MaxRetries int

	// BackoffBase is the exponential backoff base.
	BackoffBase float64

	// BackoffMax caps a single backoff delay.
	BackoffMax time.Duration

	// BackoffUnit scales base^attempt into a duration (default: 1s).
	BackoffUnit time.Duration

	// RateLimitedDelay is used after a 429 without a usable Retry-After header.
	RateLimitedDelay time.Duration

	// DefaultTimeout applies when a call passes a zero timeout.
	DefaultTimeout time.Duration

	// MaxBodySize caps the response body size in bytes.
	MaxBodySize int64

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string
}

// RequestObserver receives per-attempt and per-call request outcomes.
type RequestObserver interface {
	ObserveSourceRequest(endpoint string, statusCode int, duration time.Duration)
	ObserveSourceRetry(endpoint, reason string)
	ObserveSourceFailure(endpoint, kind string)
}

type noopObserver struct{}

func (noopObserver) ObserveSourceRequest(string, int, time.Duration) {}
func (noopObserver) ObserveSourceRetry(string, string)               {}
func (noopObserver) ObserveSourceFailure(string, string)             {}

// HTTPClient issues GET requests through a single minimum-interval gate and
// applies a bounded retry policy. It is safe for concurrent use; pacing is
// shared across all callers.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
	observer    RequestObserver
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithObserver sets the request observer.
func WithObserver(o RequestObserver) Option {
	return func(c *HTTPClient) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logger.With().Str("component", "http_client").Logger()
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewHTTPClient creates a new rate-limited, retrying HTTP client.
func NewHTTPClient(cfg HTTPClientConfig, opts ...Option) *HTTPClient {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase < 1 {
		cfg.BackoffBase = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.RateLimitedDelay <= 0 {
		cfg.RateLimitedDelay = 60 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pubmed-harvester/1.0"
	}

	c := &HTTPClient{
		client:      &http.Client{},
		rateLimiter: NewMinIntervalLimiter(cfg.RateLimit),
		config:      cfg,
		observer:    noopObserver{},
		logger:      zerolog.Nop(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Debug().
		Dur("min_interval", c.rateLimiter.Interval()).
		Int("max_retries", cfg.MaxRetries).
		Msg("source client configured")
	return c
}

// Backoff returns min(base^attempt, max) scaled by the backoff unit.
func (c *HTTPClient) Backoff(attempt int) time.Duration {
	return ComputeBackoff(c.config.BackoffBase, attempt, c.config.BackoffUnit, c.config.BackoffMax)
}

// ComputeBackoff returns min(base^attempt * unit, max). The result is
// non-decreasing in attempt for base >= 1.
func ComputeBackoff(base float64, attempt int, unit, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := math.Pow(base, float64(attempt)) * float64(unit)
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(max) {
		return max
	}
	return time.Duration(d)
}

// Get issues a GET to endpointURL with params and returns the response body.
// timeout bounds each attempt; zero uses the configured default. Failures
// after the retry budget is spent are returned as *domain.NetworkError.
// Cancellation of ctx is returned as-is and never retried.
func (c *HTTPClient) Get(ctx context.Context, endpointURL string, params url.Values, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}

	target := endpointURL
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	endpoint := endpointLabel(endpointURL)

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		body, status, header, err := c.do(ctx, target, timeout, endpoint)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		last := attempt == c.config.MaxRetries-1
		var (
			kind  domain.NetworkErrorKind
			delay time.Duration
		)

		switch {
		case errors.Is(err, ErrBodyTooLarge):
			c.observer.ObserveSourceFailure(endpoint, string(domain.NetworkErrorClient))
			return nil, domain.NewNetworkError(domain.NetworkErrorClient, endpoint, status, attempt+1, err)
		case err != nil && isTimeout(err):
			kind, delay = domain.NetworkErrorTimeout, c.Backoff(attempt)
		case err != nil:
			kind, delay = domain.NetworkErrorTransport, c.Backoff(attempt)
		case status == http.StatusTooManyRequests:
			kind, delay = domain.NetworkErrorRateLimited, c.retryAfter(header)
			err = fmt.Errorf("server returned status %d", status)
		case status >= 500 && status < 600:
			kind, delay = domain.NetworkErrorServer, c.Backoff(attempt)
			err = fmt.Errorf("server returned status %d", status)
		case status >= 400:
			c.observer.ObserveSourceFailure(endpoint, string(domain.NetworkErrorClient))
			return nil, domain.NewNetworkError(domain.NetworkErrorClient, endpoint, status, attempt+1,
				fmt.Errorf("server returned status %d", status))
		default:
			return body, nil
		}

		if last {
			c.observer.ObserveSourceFailure(endpoint, string(kind))
			c.logger.Error().
				Str("endpoint", endpoint).
				Str("kind", string(kind)).
				Int("attempts", attempt+1).
				Err(err).
				Msg("request failed after retries")
			return nil, domain.NewNetworkError(kind, endpoint, status, attempt+1, err)
		}

		c.observer.ObserveSourceRetry(endpoint, string(kind))
		c.logger.Warn().
			Str("endpoint", endpoint).
			Str("kind", string(kind)).
			Int("attempt", attempt+1).
			Int("max_attempts", c.config.MaxRetries).
			Dur("wait", delay).
			Err(err).
			Msg("request failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	// MaxRetries is always >= 1, so the loop returns before reaching here.
	return nil, errors.New("unexpected error: no attempt made")
}

// do performs one attempt bounded by timeout and reads the whole body.
func (c *HTTPClient) do(ctx context.Context, target string, timeout time.Duration, endpoint string) ([]byte, int, http.Header, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observer.ObserveSourceRequest(endpoint, 0, time.Since(start))
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	// One byte past the cap tells a full body from a truncated one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodySize+1))
	c.observer.ObserveSourceRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > c.config.MaxBodySize {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, c.config.MaxBodySize)
	}
	return body, resp.StatusCode, resp.Header, nil
}

// retryAfter determines how long to wait after a 429.
// It respects the Retry-After header if present, otherwise uses the configured delay.
func (c *HTTPClient) retryAfter(header http.Header) time.Duration {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RateLimitedDelay
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RateLimitedDelay
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return c.config.RateLimitedDelay
}

// isTimeout reports whether err is a per-attempt timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// endpointLabel reduces a URL to its last path element for logs and metrics.
func endpointLabel(endpointURL string) string {
	u, err := url.Parse(endpointURL)
	if err != nil || u.Path == "" {
		return endpointURL
	}
	return path.Base(u.Path)
}

// sleepContext waits for the specified duration, respecting context cancellation.
func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
