package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := b.Execute(ctx, func(context.Context) error { return errBoom })
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, Closed, b.State())
	}

	err := b.Execute(ctx, func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.State())

	// Further calls are rejected immediately without invoking fn.
	called := false
	err = b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 2, SuccessThreshold: 3, Timeout: 100 * time.Millisecond})
	ctx := context.Background()

	b.Execute(ctx, func(context.Context) error { return errBoom })
	b.Execute(ctx, func(context.Context) error { return errBoom })
	require.Equal(t, Open, b.State())

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.Execute(ctx, func(context.Context) error { return nil })
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, ErrOpen, "the only acceptable rejection is a probe-in-flight reject")
		}
	}
	assert.Equal(t, Closed, b.State())
}

func TestConcurrentMixedOutcomesStayClosed(t *testing.T) {
	b := New(Config{FailureThreshold: 1000, FailureRateThreshold: 1.0, MinimumThroughput: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				b.Execute(ctx, func(context.Context) error { return nil })
			} else {
				b.Execute(ctx, func(context.Context) error { return errBoom })
			}
		}(i)
	}
	wg.Wait()

	m := b.Metrics()
	assert.Equal(t, int64(50), m.SuccessfulCalls)
	assert.Equal(t, int64(50), m.FailedCalls)
	assert.Equal(t, Closed, b.State())
}

func TestCancellationNotRecordedAsFailure(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, int64(0), b.Metrics().FailedCalls)
}
