package backpressure

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineLimiterCapsConcurrency(t *testing.T) {
	gl := NewGoroutineLimiter(2)
	require.True(t, gl.Acquire())
	require.True(t, gl.Acquire())
	assert.False(t, gl.Acquire(), "third acquire must fail at capacity 2")

	gl.Release()
	assert.True(t, gl.Acquire())
}

func TestAllowPublishRejectsOnCPUOverload(t *testing.T) {
	c := NewController(Config{
		CPURejectThreshold: 80,
		CPUProbe:           func() (float64, error) { return 95, nil },
	})
	allow, cpuOverloaded := c.AllowPublish()
	assert.False(t, allow)
	assert.True(t, cpuOverloaded)
}

func TestAllowPublishIgnoresProbeError(t *testing.T) {
	c := NewController(Config{
		CPURejectThreshold: 80,
		CPUProbe:           func() (float64, error) { return 0, errors.New("unavailable") },
	})
	allow, cpuOverloaded := c.AllowPublish()
	assert.True(t, allow)
	assert.False(t, cpuOverloaded)
}

func TestAllowPublishRateLimits(t *testing.T) {
	c := NewController(Config{PublishRatePerSecond: 1, PublishBurst: 1})
	allow1, _ := c.AllowPublish()
	allow2, _ := c.AllowPublish()
	assert.True(t, allow1)
	assert.False(t, allow2)
}

func TestAcquireDispatchRespectsContextCancellation(t *testing.T) {
	c := NewController(Config{MaxConcurrentDispatch: 1})
	require.True(t, c.AcquireDispatch(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, c.AcquireDispatch(ctx), "second acquire should time out while the first slot is held")
}

func TestBatcherFlushesOnSize(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]any
	b := NewBatcher(3, time.Second, func(items []any) {
		mu.Lock()
		flushed = append(flushed, items)
		mu.Unlock()
	})

	b.Add(1)
	b.Add(2)
	b.Add(3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 1)
	assert.Equal(t, []any{1, 2, 3}, flushed[0])
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]any
	b := NewBatcher(100, 20*time.Millisecond, func(items []any) {
		mu.Lock()
		flushed = append(flushed, items)
		mu.Unlock()
	})

	b.Add("x")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 1)
	assert.Equal(t, []any{"x"}, flushed[0])
}

func TestBatcherDisabledFlushesImmediately(t *testing.T) {
	var flushed [][]any
	b := NewBatcher(1, time.Second, func(items []any) { flushed = append(flushed, items) })

	b.Add("a")
	b.Add("b")

	require.Len(t, flushed, 2)
}

func TestBatcherCloseFlushesRemainder(t *testing.T) {
	var flushed [][]any
	b := NewBatcher(10, time.Second, func(items []any) { flushed = append(flushed, items) })

	b.Add("a")
	b.Close()

	require.Len(t, flushed, 1)
	assert.Equal(t, []any{"a"}, flushed[0])
}
