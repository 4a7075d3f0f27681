package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/arzfeed/arzfeed/internal/domain"
)

const (
	// baseRetryDelay is doubled per attempt, capped at maxRetryDelay.
	baseRetryDelay = time.Second
	maxRetryDelay  = 10 * time.Second
)

// Options tunes a fetch Client.
type Options struct {
	TokenInterval  time.Duration
	CoalesceTTL    time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
}

// Client is the rate-limited upstream fetch client. The token bucket and the
// coalescer are process-wide: every vendor adapter shares one Client so the
// combined call rate stays under the upstream limit.
type Client struct {
	httpClient *http.Client
	bucket     *TokenBucket
	coalescer  *Coalescer
	maxRetries int
	logger     *slog.Logger

	sleep func(context.Context, time.Duration) error
}

// NewClient creates a fetch Client from opts.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.TokenInterval <= 0 {
		opts.TokenInterval = 5 * time.Second
	}
	if opts.CoalesceTTL <= 0 {
		opts.CoalesceTTL = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		bucket:     NewTokenBucket(opts.TokenInterval, 1),
		coalescer:  NewCoalescer(opts.CoalesceTTL),
		maxRetries: opts.MaxRetries,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Fetch performs a rate-limited GET against endpoint with params, coalescing
// concurrent identical requests and retrying retryable failures with
// exponential backoff. The returned bytes are the raw response body.
func (c *Client) Fetch(ctx context.Context, endpoint string, params domain.Params) ([]byte, error) {
	key := coalesceKey(endpoint, params)
	return c.coalescer.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		return c.fetchWithRetry(ctx, endpoint, params)
	})
}

func (c *Client) fetchWithRetry(ctx context.Context, endpoint string, params domain.Params) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * (1 << (attempt - 1))
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			c.logger.Debug("retrying upstream fetch",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, err := c.doFetch(ctx, endpoint, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// doFetch waits for a token, performs one HTTP GET, and classifies failures
// into the domain error taxonomy.
func (c *Client) doFetch(ctx context.Context, endpoint string, params domain.Params) ([]byte, error) {
	if err := c.bucket.Wait(ctx); err != nil {
		return nil, fmt.Errorf("upstream: token wait: %w", err)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &domain.ValidationError{Endpoint: endpoint, Reason: "bad endpoint", Err: err}
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Endpoint: endpoint, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Endpoint: endpoint, Retryable: true, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &domain.AuthError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitError{Endpoint: endpoint, RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		return nil, &domain.UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Retryable: true}
	case resp.StatusCode >= 400:
		return nil, &domain.UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Retryable: false}
	}

	return body, nil
}

// coalesceKey derives a stable cache key from the endpoint and params.
func coalesceKey(endpoint string, params domain.Params) string {
	if len(params) == 0 {
		return endpoint
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, k := range keys {
		b.WriteByte('?')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
