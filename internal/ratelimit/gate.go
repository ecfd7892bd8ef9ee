// Package ratelimit provides admission control for outbound Linear API
// calls: a bounded concurrent-request gate, a simple token bucket, and
// a provider-aware dual bucket tracking Linear's request and complexity
// budgets per auth type.
package ratelimit

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of in-flight upstream requests. Excess callers
// queue and are admitted strictly FIFO as slots free up; there is no
// fairness beyond that and no priority.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
}

// NewGate creates a gate admitting at most n concurrent holders.
func NewGate(n int64) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(n), capacity: n}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire takes a slot without blocking. Returns false at capacity.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release frees a slot, admitting the longest-waiting caller if any.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Capacity returns the configured slot count.
func (g *Gate) Capacity() int64 {
	return g.capacity
}
