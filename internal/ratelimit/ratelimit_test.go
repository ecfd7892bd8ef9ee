package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linearmcp/internal/errors"
	"linearmcp/internal/models"
)

// --- Gate ---

func TestGate_BoundsConcurrency(t *testing.T) {
	const capacity = 3
	const callers = 20

	g := NewGate(capacity)

	var inFlight, maxInFlight atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background()); err != nil {
				return
			}
			defer g.Release()

			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxInFlight.Load(), int64(capacity))
}

func TestGate_FIFOAdmission(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background()))

	const waiters = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := g.Acquire(context.Background()); err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			g.Release()
		}(i)
		// Let each waiter queue before launching the next.
		time.Sleep(20 * time.Millisecond)
	}

	g.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestGate_AcquireHonorsContext(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background()))
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_TryAcquire(t *testing.T) {
	g := NewGate(1)
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGate_MinimumCapacity(t *testing.T) {
	g := NewGate(0)
	assert.Equal(t, int64(1), g.Capacity())
}

// --- Bucket ---

func TestBucket_ExhaustionAndRefill(t *testing.T) {
	base := time.Now()
	now := base
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = defaultNow })

	b := NewBucket(3, 1) // 3 capacity, 1 token/sec

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Take())
	}
	assert.ErrorIs(t, b.Take(), errors.ErrRateLimited)

	now = base.Add(2 * time.Second)
	assert.NoError(t, b.Take())
	assert.NoError(t, b.Take())
	assert.ErrorIs(t, b.Take(), errors.ErrRateLimited)
}

// --- ProviderLimiter ---

// testLimiter creates a limiter with a controllable clock.
func testLimiter(t *testing.T, authType models.AuthType, limits Limits) (*ProviderLimiter, *time.Time) {
	t.Helper()
	l := NewProviderLimiter(authType, limits)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.lastRefill = now
	return l, &now
}

func TestProviderLimiter_Defaults(t *testing.T) {
	l := NewProviderLimiter(models.AuthTypeAPIKey, Limits{})
	assert.Equal(t, 1500, l.Limits().RequestsPerHour)
	assert.Equal(t, 250000, l.Limits().ComplexityPerHour)

	l = NewProviderLimiter(models.AuthTypeNone, Limits{})
	assert.Equal(t, 60, l.Limits().RequestsPerHour)
}

func TestProviderLimiter_Overrides(t *testing.T) {
	l := NewProviderLimiter(models.AuthTypeOAuth, Limits{RequestsPerHour: 10})
	assert.Equal(t, 10, l.Limits().RequestsPerHour)
	// Unset fields keep the built-in default.
	assert.Equal(t, 200000, l.Limits().ComplexityPerHour)
}

func TestProviderLimiter_ExhaustsRequests(t *testing.T) {
	l, _ := testLimiter(t, models.AuthTypeNone, Limits{RequestsPerHour: 2, ComplexityPerHour: 1000})

	require.True(t, l.CanMakeRequest(1))
	l.RecordRequest(1, nil)
	require.True(t, l.CanMakeRequest(1))
	l.RecordRequest(1, nil)

	assert.False(t, l.CanMakeRequest(1))
}

func TestProviderLimiter_ExhaustsComplexity(t *testing.T) {
	l, _ := testLimiter(t, models.AuthTypeNone, Limits{RequestsPerHour: 100, ComplexityPerHour: 500})

	require.True(t, l.CanMakeRequest(400))
	l.RecordRequest(400, nil)

	assert.False(t, l.CanMakeRequest(200))
	assert.True(t, l.CanMakeRequest(100))
}

func TestProviderLimiter_LazyRefill(t *testing.T) {
	l, now := testLimiter(t, models.AuthTypeNone, Limits{RequestsPerHour: 3600, ComplexityPerHour: 3600})

	for i := 0; i < 10; i++ {
		l.RecordRequest(360, nil)
	}
	require.False(t, l.CanMakeRequest(1))

	// 3600/hour refills one request and one complexity point per second.
	*now = now.Add(10 * time.Second)
	assert.True(t, l.CanMakeRequest(10))
	assert.False(t, l.CanMakeRequest(11))
}

func TestProviderLimiter_HeaderAbsorption(t *testing.T) {
	l, _ := testLimiter(t, models.AuthTypeAPIKey, Limits{})

	h := http.Header{}
	h.Set("X-RateLimit-Requests-Limit", "2000")
	h.Set("X-RateLimit-Requests-Remaining", "5")
	h.Set("X-RateLimit-Complexity-Limit", "300000")
	h.Set("X-RateLimit-Complexity-Remaining", "100")

	l.RecordRequest(1, h)

	assert.Equal(t, 2000, l.Limits().RequestsPerHour)
	assert.Equal(t, 300000, l.Limits().ComplexityPerHour)

	// Remaining counts clamp local counters down.
	assert.True(t, l.CanMakeRequest(100))
	assert.False(t, l.CanMakeRequest(101))
}

func TestProviderLimiter_ResetRestoresBudget(t *testing.T) {
	l, now := testLimiter(t, models.AuthTypeNone, Limits{RequestsPerHour: 2, ComplexityPerHour: 100})

	resetAt := now.Add(30 * time.Second)
	h := http.Header{}
	h.Set("X-RateLimit-Requests-Remaining", "0")
	h.Set("X-RateLimit-Requests-Reset", strconv.FormatInt(resetAt.UnixMilli(), 10))

	l.RecordRequest(1, h)
	require.False(t, l.CanMakeRequest(1))
	assert.Equal(t, resetAt.UnixMilli(), l.ResetAt().UnixMilli())

	// Past the reset the full budget comes back at once.
	*now = now.Add(31 * time.Second)
	assert.True(t, l.CanMakeRequest(1))
	assert.True(t, l.ResetAt().IsZero())
}

func TestProviderLimiter_ResetSecondsTolerated(t *testing.T) {
	l, now := testLimiter(t, models.AuthTypeNone, Limits{})

	resetAt := now.Add(45 * time.Second)
	h := http.Header{}
	h.Set("X-RateLimit-Requests-Reset", strconv.FormatInt(resetAt.Unix(), 10))

	l.RecordRequest(1, h)
	assert.Equal(t, resetAt.Unix(), l.ResetAt().Unix())
}

func TestProviderLimiter_WaitForTokensImmediate(t *testing.T) {
	l, _ := testLimiter(t, models.AuthTypeAPIKey, Limits{})
	assert.NoError(t, l.WaitForTokens(context.Background(), 1))
}

func TestProviderLimiter_WaitForTokensContextCancel(t *testing.T) {
	l, _ := testLimiter(t, models.AuthTypeNone, Limits{RequestsPerHour: 1, ComplexityPerHour: 10})
	l.RecordRequest(1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.WaitForTokens(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProviderLimiter_WaitForTokensTimesOut(t *testing.T) {
	l := NewProviderLimiter(models.AuthTypeNone, Limits{RequestsPerHour: 1, ComplexityPerHour: 10})

	// Advance the clock 30s per observation so the 60s wait budget is
	// spent after a couple of polls, while the one-per-hour refill stays
	// far below a whole token. The wait must fail hard, not hang.
	base := time.Now()
	cur := base
	l.now = func() time.Time {
		cur = cur.Add(30 * time.Second)
		return cur
	}
	l.lastRefill = base
	l.requests = 0

	err := l.WaitForTokens(context.Background(), 1)
	assert.ErrorIs(t, err, errors.ErrRateLimitWait)
}

func TestProviderLimiter_ClampsPerCallComplexity(t *testing.T) {
	l, _ := testLimiter(t, models.AuthTypeAPIKey, Limits{})

	// A request priced above the per-call ceiling is charged at the cap.
	assert.True(t, l.CanMakeRequest(999999))
}

// --- Complexity estimator ---

func TestEstimateComplexity_ScalesWithPageSize(t *testing.T) {
	query := `query { issues { nodes { id title } } }`

	small := EstimateComplexity(query, 1)
	large := EstimateComplexity(query, 50)
	assert.Greater(t, large, small)
	assert.Equal(t, small*50, large)
}

func TestEstimateComplexity_MinimumOne(t *testing.T) {
	assert.Equal(t, 1, EstimateComplexity("", 0))
}

func TestEstimateComplexity_Capped(t *testing.T) {
	query := `query { issues { nodes { id title description state assignee team url } } }`
	assert.Equal(t, maxComplexityPerCall, EstimateComplexity(query, 10000))
}

func TestEstimateComplexity_SkipsVariablesAndKeywords(t *testing.T) {
	withVars := EstimateComplexity(`query($first: Int!) { teams(first: $first) { nodes { id } } }`, 1)
	withLiterals := EstimateComplexity(`query(first: Int!) { teams(first: first) { nodes { id } } }`, 1)
	assert.Less(t, withVars, withLiterals)
}
