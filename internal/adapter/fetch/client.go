// Package fetch retrieves remote DWD files over HTTP with retries, a circuit
// breaker and an optional in-memory cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/dwd-ingest/internal/observability"
)

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Fetcher retrieves the body of a URL. It matches stations.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StatusError reports a non-retryable HTTP status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

var errRetryableStatus = errors.New("retryable status")

// Options configures a Client.
type Options struct {
	Timeout        time.Duration
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client downloads files from opendata.dwd.de and similar servers.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a client. Zero backoff options default to 500ms doubling
// up to 10s.
func NewClient(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dwd-opendata",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Fetch returns the body of url. Transport errors, 429 and 5xx responses are
// retried with exponential backoff; other statuses fail immediately with a
// *StatusError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	defer func() { c.metrics.FetchDuration.Observe(time.Since(start).Seconds()) }()

	backoff := c.opts.InitialBackoff
	for attempt := 0; ; attempt++ {
		body, err := c.attempt(ctx, url)
		if err == nil {
			c.metrics.FetchRequests.WithLabelValues("success").Inc()
			return body, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.FetchRequests.WithLabelValues("circuit_open").Inc()
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, url)
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) || attempt >= c.opts.Retries || ctx.Err() != nil {
			c.metrics.FetchRequests.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}

		c.logger.Warn("fetch failed, retrying", "url", url, "attempt", attempt+1, "backoff", backoff, "error", err)
		if !sleepWithContext(ctx, backoff) {
			c.metrics.FetchRequests.WithLabelValues("error").Inc()
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff, c.opts.MaxBackoff)
	}
}

// attempt performs one request through the breaker. Client errors do not
// count as breaker failures.
func (c *Client) attempt(ctx context.Context, url string) ([]byte, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %d", errRetryableStatus, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{URL: url, Status: resp.StatusCode}, nil
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	if statusErr, ok := res.(*StatusError); ok {
		return nil, statusErr
	}
	return res.([]byte), nil
}

// Download stores the body of url in dir under the URL's base name and
// returns the file path.
func (c *Client) Download(ctx context.Context, url, dir string) (string, error) {
	return Download(ctx, c, url, dir)
}

// Download stores the body fetched by f in dir under the URL's base name.
func Download(ctx context.Context, f Fetcher, rawURL, dir string) (string, error) {
	name, err := baseName(rawURL)
	if err != nil {
		return "", err
	}
	body, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, body, 0o644); err != nil {
		return "", fmt.Errorf("store %s: %w", rawURL, err)
	}
	return dst, nil
}

func baseName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", fmt.Errorf("url %s has no file name", rawURL)
	}
	return name, nil
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
