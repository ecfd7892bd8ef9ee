package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"linearmcp/internal/errors"
	"linearmcp/internal/models"
)

const (
	// waitPollInterval caps how long a single admission wait sleeps
	// before rechecking; provider resets can land at any moment.
	waitPollInterval = time.Second

	// waitTimeout is the hard ceiling on waiting for admission. Beyond
	// it the caller gets an error instead of hanging.
	waitTimeout = 60 * time.Second

	// maxComplexityPerCall is Linear's ceiling on a single call's cost.
	maxComplexityPerCall = 10000
)

// Limits describes Linear's hourly budget for one auth type. The
// complexity budget is distinct from plain request count: every GraphQL
// call costs complexity points proportional to the data it asks for.
type Limits struct {
	RequestsPerHour      int
	ComplexityPerHour    int
	MaxComplexityPerCall int
}

// Default budgets mirror Linear's published limits per auth type.
var defaultLimits = map[models.AuthType]Limits{
	models.AuthTypeAPIKey: {RequestsPerHour: 1500, ComplexityPerHour: 250000, MaxComplexityPerCall: maxComplexityPerCall},
	models.AuthTypeOAuth:  {RequestsPerHour: 1200, ComplexityPerHour: 200000, MaxComplexityPerCall: maxComplexityPerCall},
	models.AuthTypeNone:   {RequestsPerHour: 60, ComplexityPerHour: 10000, MaxComplexityPerCall: maxComplexityPerCall},
}

// DefaultLimits returns the built-in budget for an auth type.
func DefaultLimits(authType models.AuthType) Limits {
	if l, ok := defaultLimits[authType]; ok {
		return l
	}
	return defaultLimits[models.AuthTypeNone]
}

// ProviderLimiter tracks Linear's dual request/complexity budget for
// one auth type. Counters refill lazily from elapsed wall time; limits
// and reset hints from the provider's response headers are absorbed
// after every completed call.
type ProviderLimiter struct {
	mu         sync.Mutex
	limits     Limits
	requests   float64
	complexity float64
	lastRefill time.Time

	// Provider hints from the last response, if any. A zero resetAt
	// means no hint; the lazy refill is the only replenishment then.
	resetAt time.Time

	now func() time.Time
}

// NewProviderLimiter creates a limiter starting with a full budget.
// Zero fields in limits fall back to the built-in defaults for the
// auth type.
func NewProviderLimiter(authType models.AuthType, limits Limits) *ProviderLimiter {
	def := DefaultLimits(authType)
	if limits.RequestsPerHour <= 0 {
		limits.RequestsPerHour = def.RequestsPerHour
	}
	if limits.ComplexityPerHour <= 0 {
		limits.ComplexityPerHour = def.ComplexityPerHour
	}
	if limits.MaxComplexityPerCall <= 0 {
		limits.MaxComplexityPerCall = def.MaxComplexityPerCall
	}

	l := &ProviderLimiter{
		limits:     limits,
		requests:   float64(limits.RequestsPerHour),
		complexity: float64(limits.ComplexityPerHour),
		now:        defaultNow,
	}
	l.lastRefill = l.now()

	return l
}

// Limits returns the configured budget.
func (l *ProviderLimiter) Limits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

// clampComplexity bounds a single call's cost at the per-call ceiling.
func (l *ProviderLimiter) clampComplexity(complexity int) float64 {
	if complexity < 1 {
		complexity = 1
	}
	if complexity > l.limits.MaxComplexityPerCall {
		complexity = l.limits.MaxComplexityPerCall
	}
	return float64(complexity)
}

// refillLocked replenishes both counters from elapsed wall time. A
// provider reset time in the past restores the full budget at once.
func (l *ProviderLimiter) refillLocked() {
	now := l.now()

	if !l.resetAt.IsZero() && !now.Before(l.resetAt) {
		l.requests = float64(l.limits.RequestsPerHour)
		l.complexity = float64(l.limits.ComplexityPerHour)
		l.resetAt = time.Time{}
		l.lastRefill = now
		return
	}

	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	l.requests = min(l.requests+elapsed*float64(l.limits.RequestsPerHour)/3600, float64(l.limits.RequestsPerHour))
	l.complexity = min(l.complexity+elapsed*float64(l.limits.ComplexityPerHour)/3600, float64(l.limits.ComplexityPerHour))
	l.lastRefill = now
}

// CanMakeRequest reports whether a call of the given complexity fits in
// the current budget, refilling lazily first.
func (l *ProviderLimiter) CanMakeRequest(complexity int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()

	return l.requests >= 1 && l.complexity >= l.clampComplexity(complexity)
}

// RecordRequest debits both counters for a completed call and absorbs
// any updated limits or reset hints from the response headers.
func (l *ProviderLimiter) RecordRequest(complexity int, h http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()

	l.requests = max(l.requests-1, 0)
	l.complexity = max(l.complexity-l.clampComplexity(complexity), 0)

	if h == nil {
		return
	}

	if v, ok := headerInt(h, "X-RateLimit-Requests-Limit"); ok && v > 0 {
		l.limits.RequestsPerHour = v
	}
	if v, ok := headerInt(h, "X-RateLimit-Complexity-Limit"); ok && v > 0 {
		l.limits.ComplexityPerHour = v
	}
	if v, ok := headerInt(h, "X-RateLimit-Requests-Remaining"); ok {
		l.requests = min(l.requests, float64(v))
	}
	if v, ok := headerInt(h, "X-RateLimit-Complexity-Remaining"); ok {
		l.complexity = min(l.complexity, float64(v))
	}

	if t, ok := headerResetTime(h, "X-RateLimit-Requests-Reset"); ok {
		l.resetAt = t
	} else if t, ok := headerResetTime(h, "X-RateLimit-Complexity-Reset"); ok {
		l.resetAt = t
	}
}

// ResetAt returns the provider-supplied reset time, or zero when the
// provider has not hinted one.
func (l *ProviderLimiter) ResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resetAt
}

// WaitForTokens blocks until a call of the given complexity is
// admitted, polling in capped increments. It fails hard with
// ErrRateLimitWait after 60 seconds rather than hanging, and returns
// early when ctx is done.
func (l *ProviderLimiter) WaitForTokens(ctx context.Context, complexity int) error {
	deadline := l.now().Add(waitTimeout)

	for {
		if l.CanMakeRequest(complexity) {
			return nil
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return errors.ErrRateLimitWait
		}

		sleep := min(remaining, waitPollInterval)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// headerInt parses an integer header value.
func headerInt(h http.Header, key string) (int, bool) {
	raw := h.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// headerResetTime parses a reset timestamp header. Linear sends epoch
// milliseconds; epoch seconds are tolerated for safety.
func headerResetTime(h http.Header, key string) (time.Time, bool) {
	v, ok := headerInt(h, key)
	if !ok || v <= 0 {
		return time.Time{}, false
	}

	// Values beyond ~5000 CE in seconds are clearly milliseconds.
	if v > 100_000_000_000 {
		return time.UnixMilli(int64(v)), true
	}
	return time.Unix(int64(v), 0), true
}

func defaultNow() time.Time {
	return time.Now()
}
