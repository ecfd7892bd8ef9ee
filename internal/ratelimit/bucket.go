package ratelimit

import (
	"golang.org/x/time/rate"

	"linearmcp/internal/errors"
)

// Bucket is a simple capacity/refill token bucket for generic
// throttling. Take fails fast when empty rather than waiting; callers
// that want to block use the provider-aware limiter instead.
type Bucket struct {
	limiter *rate.Limiter
}

// NewBucket creates a bucket holding up to capacity tokens, refilled at
// refillPerSec tokens per second. The bucket starts full.
func NewBucket(capacity int, refillPerSec float64) *Bucket {
	return &Bucket{limiter: rate.NewLimiter(rate.Limit(refillPerSec), capacity)}
}

// Take consumes one token, or returns ErrRateLimited when none are
// available.
func (b *Bucket) Take() error {
	return b.TakeN(1)
}

// TakeN consumes n tokens atomically, or returns ErrRateLimited.
func (b *Bucket) TakeN(n int) error {
	if !b.limiter.AllowN(timeNow(), n) {
		return errors.ErrRateLimited
	}
	return nil
}

// timeNow is swappable in tests.
var timeNow = defaultNow
