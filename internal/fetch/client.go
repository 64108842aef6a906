// internal/fetch/client.go
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harbourline/ingest/internal/monitoring"
)

// maxBodyBytes caps how much of a response body is read. Scraped pages are
// documents, not downloads.
const maxBodyBytes = 4 << 20

// ClientConfig defines configuration options for the fetch client.
type ClientConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	UserAgents  []string
	Headers     map[string]string
	RateLimit   float64 // requests per second
	RateBurst   int
}

// Client is an HTTP client for scraping: per-request timeout, retry with
// exponential backoff, user-agent rotation, and a shared rate limiter that
// doubles as the politeness delay between item fetches.
type Client struct {
	httpClient  *http.Client
	userAgents  []string
	currentUA   int
	uaMutex     sync.Mutex
	rateLimiter *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	headers     map[string]string
	logger      *zap.Logger
	metrics     *monitoring.Metrics
}

// NewClient creates a fetch client with the given configuration. A nil logger
// or metrics is replaced with a no-op.
func NewClient(config ClientConfig, logger *zap.Logger, metrics *monitoring.Metrics) *Client {
	if config.Timeout == 0 {
		config.Timeout = 12 * time.Second
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay == 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.RateLimit == 0 {
		config.RateLimit = 4.0 // ~250ms between item fetches
	}
	if config.RateBurst == 0 {
		config.RateBurst = 1
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = defaultUserAgents()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		httpClient:  httpClient,
		userAgents:  config.UserAgents,
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		maxAttempts: config.MaxAttempts,
		baseDelay:   config.BaseDelay,
		headers:     config.Headers,
		logger:      logger,
		metrics:     metrics,
	}
}

// Get performs an HTTP GET with retry and backoff. The full response body is
// returned so that callers never hold an open connection across parse work.
func (c *Client) Get(ctx context.Context, targetURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, targetURL, "", nil)
}

// Post performs an HTTP POST with retry and backoff.
func (c *Client) Post(ctx context.Context, targetURL, contentType string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, targetURL, contentType, body)
}

// do runs the retry loop: up to maxAttempts tries, with a delay of
// baseDelay * 2^(n-1) before attempt n+1. The last observed error is
// returned once attempts are exhausted.
func (c *Client) do(ctx context.Context, method, targetURL, contentType string, body []byte) ([]byte, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", targetURL, err)
	}
	host := parsed.Hostname()

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, targetURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setRequestHeaders(req)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		data, err := c.attempt(req)
		if err == nil {
			c.metrics.RecordFetch(host, "success", time.Since(start))
			return data, nil
		}
		lastErr = fmt.Errorf("%s %s (attempt %d/%d): %w", method, targetURL, attempt, c.maxAttempts, err)

		if !shouldRetry(err) {
			break
		}
		if attempt < c.maxAttempts {
			c.metrics.RecordRetry(host)
			c.logger.Debug("retrying fetch",
				zap.String("url", targetURL),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if err := sleepContext(ctx, c.baseDelay<<uint(attempt-1)); err != nil {
				return nil, err
			}
		}
	}

	c.metrics.RecordFetch(host, "error", time.Since(start))
	return nil, lastErr
}

// attempt performs a single HTTP round trip and reads the body.
func (c *Client) attempt(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: req.URL.String()}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return data, nil
}

// HTMLResult is the outcome of a best-effort page fetch.
type HTMLResult struct {
	HTML     string
	FinalURL string
	Err      error
}

// FetchHTMLBestEffort fetches a page, preferring an https-upgraded form of
// the URL before the original scheme. Failures are returned as a value, not
// an error return, because page-fetch failures are expected and must not
// abort the rest of a source.
func (c *Client) FetchHTMLBestEffort(ctx context.Context, pageURL string) HTMLResult {
	var lastErr error
	for _, candidate := range httpsFirst(pageURL) {
		data, err := c.Get(ctx, candidate)
		if err != nil {
			lastErr = err
			c.logger.Debug("best-effort fetch failed",
				zap.String("url", candidate), zap.Error(err))
			continue
		}
		return HTMLResult{HTML: string(data), FinalURL: candidate}
	}
	return HTMLResult{Err: fmt.Errorf("fetch failed for %s: %w", pageURL, lastErr)}
}

// httpsFirst returns the candidate URLs to try: the https-upgraded URL (when
// the input is plain http) followed by the original.
func httpsFirst(pageURL string) []string {
	if strings.HasPrefix(pageURL, "http://") {
		return []string{"https://" + strings.TrimPrefix(pageURL, "http://"), pageURL}
	}
	return []string{pageURL}
}

// setRequestHeaders applies rotating user agent plus configured headers.
func (c *Client) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-NZ,en;q=0.8")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
}

// nextUserAgent returns the next user agent in rotation.
func (c *Client) nextUserAgent() string {
	c.uaMutex.Lock()
	defer c.uaMutex.Unlock()
	ua := c.userAgents[c.currentUA]
	c.currentUA = (c.currentUA + 1) % len(c.userAgents)
	return ua
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StatusError is a non-2xx response surfaced as an error.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Status, e.URL)
}

// shouldRetry reports whether an attempt error warrants another try.
// Network errors and retryable status codes do; permanent 4xx do not.
func shouldRetry(err error) bool {
	if statusErr, ok := err.(*StatusError); ok {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return statusErr.StatusCode >= 520 // CloudFlare errors
		}
	}
	return true
}

// defaultUserAgents returns a small pool of realistic user agent strings.
func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
	}
}
