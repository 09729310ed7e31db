package ratelimit

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// window holds one key's request timestamps within the trailing
// WindowSize, evicted lazily on Check.
type window struct {
	mu       sync.Mutex
	stamps   *list.List // front = oldest
	limit    int
	size     time.Duration
	lastUsed time.Time
}

func newWindow(limit int, size time.Duration) *window {
	return &window{stamps: list.New(), limit: limit, size: size, lastUsed: time.Now()}
}

func (w *window) evictLocked(now time.Time) {
	cutoff := now.Add(-w.size)
	for e := w.stamps.Front(); e != nil; {
		next := e.Next()
		if e.Value.(time.Time).Before(cutoff) {
			w.stamps.Remove(e)
		} else {
			break
		}
		e = next
	}
}

func (w *window) tryAdmit() (allowed bool, remaining float64, retryAfter time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.lastUsed = now
	w.evictLocked(now)

	count := w.stamps.Len()
	if count < w.limit {
		w.stamps.PushBack(now)
		return true, float64(w.limit - count - 1), 0
	}

	oldest := w.stamps.Front().Value.(time.Time)
	wait := oldest.Add(w.size).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return false, 0, wait
}

// SlidingWindow is a Limiter implementing the sliding-window algorithm:
// at most RequestsPerSecond*WindowSize admissions in any trailing
// WindowSize interval, global or keyed per tenant.
type SlidingWindow struct {
	cfg     Config
	windows sync.Map // key -> *window

	total    atomic.Int64
	allowed  atomic.Int64
	rejected atomic.Int64

	stop chan struct{}
}

// NewSlidingWindow constructs a sliding-window limiter.
func NewSlidingWindow(cfg Config) (*SlidingWindow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = time.Second
	}
	sw := &SlidingWindow{cfg: cfg, stop: make(chan struct{})}
	go sw.cleanupLoop(cleanupIntervalOr(cfg.CleanupInterval, time.Minute))
	return sw, nil
}

func (sw *SlidingWindow) keyFor(key string) string {
	if !sw.cfg.EnablePerTenantLimits {
		return GlobalKey
	}
	return key
}

func (sw *SlidingWindow) limitFor(key string) int {
	rps := sw.cfg.limitFor(key)
	n := int(rps * sw.cfg.WindowSize.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

// Check admits key if fewer than the window's limit requests occurred in
// the trailing WindowSize interval.
func (sw *SlidingWindow) Check(key string) (Result, error) {
	if key == "" {
		return Result{}, ErrInvalidArgument
	}
	wk := sw.keyFor(key)

	v, _ := sw.windows.LoadOrStore(wk, newWindow(sw.limitFor(key), sw.cfg.WindowSize))
	w := v.(*window)

	sw.total.Add(1)
	allowed, remaining, retryAfter := w.tryAdmit()
	if allowed {
		sw.allowed.Add(1)
	} else {
		sw.rejected.Add(1)
	}

	return Result{
		Allowed:    allowed,
		Remaining:  remaining,
		RetryAfter: retryAfter,
		ResetAt:    time.Now().Add(retryAfter),
	}, nil
}

// GetMetrics returns the aggregate usage counters.
func (sw *SlidingWindow) GetMetrics() Metrics {
	keys := 0
	sw.windows.Range(func(_, _ any) bool { keys++; return true })

	total := sw.total.Load()
	allowed := sw.allowed.Load()
	var rate float64
	if total > 0 {
		rate = float64(allowed) / float64(total)
	}

	return Metrics{
		TotalRequests:    total,
		AllowedRequests:  allowed,
		RejectedRequests: sw.rejected.Load(),
		CurrentRate:      rate,
		ActiveKeys:       keys,
	}
}

// Close stops the background cleanup timer.
func (sw *SlidingWindow) Close() {
	select {
	case <-sw.stop:
	default:
		close(sw.stop)
	}
}

func (sw *SlidingWindow) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sw.reapIdle(interval)
		case <-sw.stop:
			return
		}
	}
}

func (sw *SlidingWindow) reapIdle(idleFor time.Duration) {
	now := time.Now()
	sw.windows.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		stale := now.Sub(w.lastUsed) > idleFor
		w.mu.Unlock()
		if stale {
			sw.windows.Delete(k)
		}
		return true
	})
}
