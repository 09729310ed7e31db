// Package backpressure adapts the ResourceGuard/WorkerPool
// admission-control shape (internal/shared/limits/resource_guard.go,
// worker_pool.go) into the broker skeleton's publish/dispatch gates.
package backpressure

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// GoroutineLimiter bounds concurrent handler dispatches with a
// semaphore, unchanged in shape from limits.GoroutineLimiter.
type GoroutineLimiter struct {
	sem chan struct{}
	max int
}

// NewGoroutineLimiter creates a limiter admitting at most max
// concurrent holders.
func NewGoroutineLimiter(max int) *GoroutineLimiter {
	if max <= 0 {
		max = 1
	}
	return &GoroutineLimiter{sem: make(chan struct{}, max), max: max}
}

// Acquire attempts to acquire a slot, returning false if at capacity.
func (gl *GoroutineLimiter) Acquire() bool {
	select {
	case gl.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (gl *GoroutineLimiter) Release() { <-gl.sem }

// Current returns the number of held slots.
func (gl *GoroutineLimiter) Current() int { return len(gl.sem) }

// Max returns the limiter's capacity.
func (gl *GoroutineLimiter) Max() int { return gl.max }

// CPUProbe reports the current CPU utilization percentage, e.g.
// platform.CPUMonitor.GetPercent. Returning an error treats
// CPU as unknown (0%), never as a reason to reject.
type CPUProbe func() (percent float64, err error)

// Config configures a Controller.
type Config struct {
	PublishRatePerSecond   float64
	PublishBurst           int
	DispatchRatePerSecond  float64
	DispatchBurst          int
	MaxConcurrentDispatch  int
	CPURejectThreshold     float64 // 0 disables CPU-aware admission
	CPUProbe               CPUProbe
	MaxBatchSize           int
	MaxBatchInterval       time.Duration
}

// Controller is the broker skeleton's backpressure boundary: publish
// and dispatch admission gates, a handler-dispatch concurrency limiter,
// and optional CPU-aware rejection.
type Controller struct {
	cfg Config

	publishLimiter  *rate.Limiter
	dispatchLimiter *rate.Limiter
	dispatchSem     *GoroutineLimiter
}

// NewController constructs a Controller. A zero-valued rate field
// disables that gate (always allow).
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	if cfg.PublishRatePerSecond > 0 {
		burst := cfg.PublishBurst
		if burst <= 0 {
			burst = int(cfg.PublishRatePerSecond)
		}
		c.publishLimiter = rate.NewLimiter(rate.Limit(cfg.PublishRatePerSecond), burst)
	}
	if cfg.DispatchRatePerSecond > 0 {
		burst := cfg.DispatchBurst
		if burst <= 0 {
			burst = int(cfg.DispatchRatePerSecond)
		}
		c.dispatchLimiter = rate.NewLimiter(rate.Limit(cfg.DispatchRatePerSecond), burst)
	}
	if cfg.MaxConcurrentDispatch > 0 {
		c.dispatchSem = NewGoroutineLimiter(cfg.MaxConcurrentDispatch)
	}
	return c
}

// AllowPublish reports whether a publish may proceed now. When the
// configured CPU probe exceeds CPURejectThreshold it rejects with
// cpuOverloaded=true so the caller can surface a retriable transport
// failure instead of a hard rejection.
func (c *Controller) AllowPublish() (allow bool, cpuOverloaded bool) {
	if c.cfg.CPUProbe != nil && c.cfg.CPURejectThreshold > 0 {
		if pct, err := c.cfg.CPUProbe(); err == nil && pct > c.cfg.CPURejectThreshold {
			return false, true
		}
	}
	if c.publishLimiter == nil {
		return true, false
	}
	return c.publishLimiter.Allow(), false
}

// AllowDispatch reports whether a handler dispatch may proceed now.
func (c *Controller) AllowDispatch() bool {
	if c.dispatchLimiter == nil {
		return true
	}
	return c.dispatchLimiter.Allow()
}

// AcquireDispatch acquires a concurrency slot for handler dispatch,
// blocking until one is free or ctx is cancelled. A nil sem means
// dispatch concurrency is unbounded.
func (c *Controller) AcquireDispatch(ctx context.Context) bool {
	if c.dispatchSem == nil {
		return true
	}
	for {
		if c.dispatchSem.Acquire() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
		}
	}
}

// ReleaseDispatch releases a dispatch concurrency slot acquired via
// AcquireDispatch.
func (c *Controller) ReleaseDispatch() {
	if c.dispatchSem != nil {
		c.dispatchSem.Release()
	}
}
