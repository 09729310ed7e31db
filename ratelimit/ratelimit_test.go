package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyKeyRejected(t *testing.T) {
	tb, err := NewTokenBucket(Config{RequestsPerSecond: 10})
	require.NoError(t, err)
	defer tb.Close()

	_, err = tb.Check("")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := NewTokenBucket(Config{RequestsPerSecond: 0})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewSlidingWindow(Config{RequestsPerSecond: -1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

// TestTokenBucketRejectsImmediateSecondCall: rps=1, capacity=1. First
// check("a") is allowed; the immediate second is rejected with
// retryAfter > 0.
func TestTokenBucketRejectsImmediateSecondCall(t *testing.T) {
	tb, err := NewTokenBucket(Config{RequestsPerSecond: 1, BucketCapacity: 1})
	require.NoError(t, err)
	defer tb.Close()

	r1, err := tb.Check("a")
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := tb.Check("a")
	require.NoError(t, err)
	assert.False(t, r2.Allowed)
	assert.Greater(t, r2.RetryAfter, time.Duration(0))
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb, err := NewTokenBucket(Config{RequestsPerSecond: 20, BucketCapacity: 1})
	require.NoError(t, err)
	defer tb.Close()

	r1, _ := tb.Check("a")
	require.True(t, r1.Allowed)

	r2, _ := tb.Check("a")
	require.False(t, r2.Allowed)

	time.Sleep(100 * time.Millisecond)

	r3, _ := tb.Check("a")
	assert.True(t, r3.Allowed)
}

func TestTokenBucketPerTenantLimits(t *testing.T) {
	tb, err := NewTokenBucket(Config{
		RequestsPerSecond:     1,
		EnablePerTenantLimits: true,
		TenantLimits:          map[string]float64{"vip": 100},
		DefaultTenantLimit:    1,
	})
	require.NoError(t, err)
	defer tb.Close()

	for i := 0; i < 5; i++ {
		r, err := tb.Check("vip")
		require.NoError(t, err)
		assert.True(t, r.Allowed, "vip tenant should have headroom at iteration %d", i)
	}

	r1, _ := tb.Check("free")
	assert.True(t, r1.Allowed)
	r2, _ := tb.Check("free")
	assert.False(t, r2.Allowed)
}

// TestSlidingWindowRejectsImmediateSecondCall: window sized to admit
// exactly one request, second immediate check rejected with
// retryAfter > 0.
func TestSlidingWindowRejectsImmediateSecondCall(t *testing.T) {
	sw, err := NewSlidingWindow(Config{RequestsPerSecond: 1, WindowSize: time.Second})
	require.NoError(t, err)
	defer sw.Close()

	r1, err := sw.Check("a")
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := sw.Check("a")
	require.NoError(t, err)
	assert.False(t, r2.Allowed)
	assert.Greater(t, r2.RetryAfter, time.Duration(0))
}

func TestSlidingWindowAdmitsAfterExpiry(t *testing.T) {
	sw, err := NewSlidingWindow(Config{RequestsPerSecond: 10, WindowSize: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sw.Close()

	r1, _ := sw.Check("a")
	require.True(t, r1.Allowed)

	time.Sleep(60 * time.Millisecond)

	r2, err := sw.Check("a")
	require.NoError(t, err)
	assert.True(t, r2.Allowed)
}

func TestMetricsAggregate(t *testing.T) {
	tb, err := NewTokenBucket(Config{RequestsPerSecond: 1, BucketCapacity: 1})
	require.NoError(t, err)
	defer tb.Close()

	tb.Check("a")
	tb.Check("a")
	tb.Check("b")

	m := tb.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(1), m.AllowedRequests)
	assert.Equal(t, int64(2), m.RejectedRequests)
	assert.Equal(t, 1, m.ActiveKeys)
}

func TestNewDispatchesByAlgorithm(t *testing.T) {
	l, err := New(TokenBucketAlgorithm, Config{RequestsPerSecond: 1})
	require.NoError(t, err)
	_, ok := l.(*TokenBucket)
	assert.True(t, ok)
	l.Close()

	l, err = New(SlidingWindowAlgorithm, Config{RequestsPerSecond: 1})
	require.NoError(t, err)
	_, ok = l.(*SlidingWindow)
	assert.True(t, ok)
	l.Close()
}
