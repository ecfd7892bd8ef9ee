// Package linear is the outbound client for Linear's GraphQL API. Every
// call is admitted through the concurrency gate and the provider-aware
// rate limiter, runs under a per-attempt timeout, and retries with
// exponential backoff and jitter, preferring the provider's own reset
// hint when it signals throttling.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	apperrors "linearmcp/internal/errors"
	"linearmcp/internal/models"
	"linearmcp/internal/ratelimit"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3

	// backoffBase is the first retry delay; each retry doubles it.
	backoffBase = 500 * time.Millisecond

	// backoffCap bounds any single delay, including provider resets.
	backoffCap = 30 * time.Second

	// maxBackoffShift caps the exponential growth: backoffBase<<6 is
	// already past backoffCap, and larger shifts overflow the duration.
	maxBackoffShift = 6
)

// Client issues rate-limited, retried calls against the Linear API.
type Client struct {
	httpClient     *http.Client
	apiURL         string
	gate           *ratelimit.Gate
	limiters       map[models.AuthType]*ratelimit.ProviderLimiter
	maxRetries     int
	attemptTimeout time.Duration
	logger         *slog.Logger

	// sleep is swappable in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientConfig holds the client's dependencies and tuning.
type ClientConfig struct {
	APIURL         string
	Gate           *ratelimit.Gate
	Limiters       map[models.AuthType]*ratelimit.ProviderLimiter
	MaxRetries     int
	AttemptTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// NewClient creates a Linear API client. Missing limiters are created
// with default budgets; a nil HTTPClient falls back to the default.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultTimeout
	}
	if cfg.Gate == nil {
		cfg.Gate = ratelimit.NewGate(5)
	}
	if cfg.Limiters == nil {
		cfg.Limiters = make(map[models.AuthType]*ratelimit.ProviderLimiter)
	}
	for _, at := range []models.AuthType{models.AuthTypeAPIKey, models.AuthTypeOAuth, models.AuthTypeNone} {
		if cfg.Limiters[at] == nil {
			cfg.Limiters[at] = ratelimit.NewProviderLimiter(at, ratelimit.Limits{})
		}
	}

	return &Client{
		httpClient:     cfg.HTTPClient,
		apiURL:         cfg.APIURL,
		gate:           cfg.Gate,
		limiters:       cfg.Limiters,
		maxRetries:     cfg.MaxRetries,
		attemptTimeout: cfg.AttemptTimeout,
		logger:         cfg.Logger,
		sleep:          sleepCtx,
	}
}

// Query runs one GraphQL document under admission control and the retry
// policy. pageSize feeds the complexity estimate; pass the requested
// page size or 0 for single-object operations.
//
// Linear signals throttling inside 2xx envelopes, so the body is
// inspected for an embedded RATELIMITED error on every success.
func (c *Client) Query(ctx context.Context, cred models.Credential, query string, variables map[string]any, pageSize int) ([]byte, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquiring request slot: %w", err)
	}
	defer c.gate.Release()

	complexity := ratelimit.EstimateComplexity(query, pageSize)
	limiter := c.limiters[cred.Type]
	if limiter == nil {
		// Unrecognized auth types get the most conservative bucket.
		limiter = c.limiters[models.AuthTypeNone]
	}

	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		// An outer cancellation aborts the whole operation; the
		// per-attempt timeout below only kills a single HTTP call.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := limiter.WaitForTokens(ctx, complexity); err != nil {
			return nil, err
		}

		body, header, status, err := c.do(ctx, cred, query, variables)
		limiter.RecordRequest(complexity, header)

		lastAttempt := attempt == c.maxRetries-1

		switch {
		case err != nil:
			lastErr = err
		case status < 200 || status > 299:
			lastErr = fmt.Errorf("linear api status %d: %s", status, truncate(body, 200))
		case isRateLimited(body):
			lastErr = fmt.Errorf("%w: provider throttled request", apperrors.ErrRateLimited)
		default:
			if msg := gjson.GetBytes(body, "errors.0.message"); msg.Exists() {
				// Application errors other than throttling are not
				// transient; retrying replays the same failure.
				return nil, fmt.Errorf("linear api error: %s", msg.String())
			}
			return body, nil
		}

		if lastAttempt {
			break
		}

		delay := c.backoff(attempt, limiter.ResetAt())
		c.logger.Debug("retrying linear request",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// do issues a single HTTP attempt with an absolute timeout.
func (c *Client) do(ctx context.Context, cred models.Credential, query string, variables map[string]any) ([]byte, http.Header, int, error) {
	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("marshalling request body: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuthHeader(req, cred)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	return body, resp.Header, resp.StatusCode, nil
}

// setAuthHeader presents the credential the way Linear expects it:
// personal API keys go bare, OAuth tokens as Bearer.
func setAuthHeader(req *http.Request, cred models.Credential) {
	switch cred.Type {
	case models.AuthTypeAPIKey:
		req.Header.Set("Authorization", cred.Token)
	case models.AuthTypeOAuth:
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
}

// backoff computes the delay before the next attempt. A future
// provider-supplied reset time wins over exponential backoff; both are
// bounded by backoffCap.
func (c *Client) backoff(attempt int, resetAt time.Time) time.Duration {
	if !resetAt.IsZero() {
		if until := time.Until(resetAt); until > 0 {
			return min(until, backoffCap)
		}
	}

	delay := backoffBase << min(attempt, maxBackoffShift)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return min(delay+jitter, backoffCap)
}

// isRateLimited detects Linear's embedded throttle signal: a GraphQL
// error with extensions.code RATELIMITED, delivered inside an otherwise
// successful response.
func isRateLimited(body []byte) bool {
	return gjson.GetBytes(body, `errors.#(extensions.code=="RATELIMITED")`).Exists()
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

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
