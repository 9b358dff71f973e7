// Package httpclient is the outbound HTTP client used for playlist fetches
// and stream resolution. Each upstream host gets its own circuit breaker,
// failures are retried with capped exponential backoff, Retry-After is
// honoured, and compressed bodies are decoded transparently.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultRetryAttempts     = 2
	DefaultRetryDelay        = time.Second
	DefaultRetryMaxDelay     = 10 * time.Second
	DefaultCircuitThreshold  = 5
	DefaultCircuitTimeout    = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultUserAgent         = "tvrec-httpclient/1.0"

	acceptEncoding = "gzip, deflate, br"
)

// Config holds client settings. The zero value of an optional field
// disables that feature.
type Config struct {
	// Timeout bounds a whole attempt, redirects included.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts     int
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	// CircuitThreshold is the number of consecutive failures against one
	// host before its circuit opens.
	CircuitThreshold int
	CircuitTimeout   time.Duration

	// RequestsPerSecond throttles outgoing attempts across all hosts.
	RequestsPerSecond float64

	// UserAgent and Headers fill in headers the request leaves unset.
	UserAgent string
	Headers   map[string]string

	Logger *slog.Logger

	EnableDecompression bool

	// MaxResponseSize caps the decoded body.
	MaxResponseSize int64

	// BaseClient overrides the underlying transport client.
	BaseClient *http.Client
}

// DefaultConfig returns the settings used for playlist downloads.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		UserAgent:           DefaultUserAgent,
		EnableDecompression: true,
	}
}

// Client wraps http.Client with retries and per-host breakers.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	c := &Client{
		cfg:      cfg,
		http:     cfg.BaseClient,
		logger:   cfg.Logger,
		breakers: make(map[string]*CircuitBreaker),
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

func (c *Client) breaker(host string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[host]
	if !ok {
		b = NewCircuitBreaker(c.cfg.CircuitThreshold, c.cfg.CircuitTimeout)
		c.breakers[host] = b
	}
	return b
}

// CircuitState reports the breaker state for host.
func (c *Client) CircuitState(host string) CircuitState {
	return c.breaker(host).State()
}

// Do sends req, retrying transport errors and 429/502/503/504 responses.
// Context errors end the loop immediately. Any other status is returned to
// the caller as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	c.applyHeaders(req)
	cb := c.breaker(req.URL.Host)
	log := c.logger.With(slog.String("host", req.URL.Host))

	var lastErr error
	delay := c.cfg.RetryDelay
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			log.Debug("retrying request", slog.Int("attempt", attempt), slog.Duration("delay", delay))
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay = c.nextDelay(delay)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if !cb.Allow() {
			lastErr = ErrCircuitOpen
			log.Warn("circuit open, skipping attempt", slog.String("state", cb.State().String()))
			continue
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			cb.RecordFailure()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			log.Warn("request failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			continue
		}

		if retryable(resp.StatusCode) {
			cb.RecordFailure()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			if wait, ok := retryAfter(resp.Header); ok && wait > delay {
				delay = wait
			}
			resp.Body.Close()
			log.Warn("retryable status", slog.Int("attempt", attempt), slog.Int("status", resp.StatusCode))
			continue
		}

		if resp.StatusCode >= 500 {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
		log.Debug("request completed",
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)))

		if c.cfg.EnableDecompression {
			resp.Body = c.decode(resp)
		}
		if c.cfg.MaxResponseSize > 0 {
			resp.Body = &limitedBody{ReadCloser: resp.Body, remaining: c.cfg.MaxResponseSize}
		}
		return resp, nil
	}

	if lastErr == nil {
		return nil, ErrMaxRetries
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// Get issues a GET for url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// GetOK is Get that treats any non-2xx status as an error.
func (c *Client) GetOK(ctx context.Context, url string) (*http.Response, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.cfg.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.EnableDecompression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
}

func (c *Client) nextDelay(d time.Duration) time.Duration {
	mult := c.cfg.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(d) * mult)
	if c.cfg.RetryMaxDelay > 0 && next > c.cfg.RetryMaxDelay {
		next = c.cfg.RetryMaxDelay
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header) (time.Duration, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func (c *Client) decode(resp *http.Response) io.ReadCloser {
	var r io.Reader
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("invalid gzip body, passing through", slog.String("error", err.Error()))
			return resp.Body
		}
		r = gz
	case "deflate":
		r = flate.NewReader(resp.Body)
	case "br":
		r = brotli.NewReader(resp.Body)
	default:
		return resp.Body
	}
	resp.Header.Del("Content-Encoding")
	resp.ContentLength = -1
	return &decodedBody{Reader: r, raw: resp.Body}
}

type decodedBody struct {
	io.Reader
	raw io.Closer
}

func (d *decodedBody) Close() error {
	if c, ok := d.Reader.(io.Closer); ok {
		c.Close()
	}
	return d.raw.Close()
}

type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrResponseTooLarge
	}
	return n, err
}
