package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucket holds one key's fractional token state, following the shape of
// internal/single/limits/rate_limiter.go's TokenBucket:
// float64 tokens for fractional accumulation, refilled lazily on Check.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
	lastUsed   time.Time
}

func newBucket(capacity, refillRate float64) *bucket {
	now := time.Now()
	return &bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// tryConsume refills, caps, then consumes one token if available,
// returning the remaining tokens and, when rejected, the wait time until
// one token will be available.
func (b *bucket) tryConsume() (allowed bool, remaining float64, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
	b.lastUsed = now

	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens, 0
	}

	wait := (1 - b.tokens) / b.refillRate
	return false, b.tokens, time.Duration(wait * float64(time.Second))
}

// TokenBucket is a Limiter implementing the token-bucket algorithm,
// global or keyed per tenant.
type TokenBucket struct {
	cfg     Config
	buckets sync.Map // key -> *bucket

	total    atomic.Int64
	allowed  atomic.Int64
	rejected atomic.Int64

	stop chan struct{}
}

// NewTokenBucket constructs a token-bucket limiter.
func NewTokenBucket(cfg Config) (*TokenBucket, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tb := &TokenBucket{cfg: cfg, stop: make(chan struct{})}
	go tb.cleanupLoop(cleanupIntervalOr(cfg.CleanupInterval, time.Minute))
	return tb, nil
}

func (tb *TokenBucket) keyFor(key string) string {
	if !tb.cfg.EnablePerTenantLimits {
		return GlobalKey
	}
	return key
}

// Check consumes one token for key, creating its bucket on first use.
func (tb *TokenBucket) Check(key string) (Result, error) {
	if key == "" {
		return Result{}, ErrInvalidArgument
	}
	bk := tb.keyFor(key)

	v, _ := tb.buckets.LoadOrStore(bk, newBucket(tb.cfg.capacityFor(key), tb.cfg.limitFor(key)))
	b := v.(*bucket)

	tb.total.Add(1)
	allowed, remaining, retryAfter := b.tryConsume()
	if allowed {
		tb.allowed.Add(1)
	} else {
		tb.rejected.Add(1)
	}

	return Result{
		Allowed:    allowed,
		Remaining:  remaining,
		RetryAfter: retryAfter,
		ResetAt:    time.Now().Add(retryAfter),
	}, nil
}

// GetMetrics returns the aggregate usage counters.
func (tb *TokenBucket) GetMetrics() Metrics {
	keys := 0
	tb.buckets.Range(func(_, _ any) bool { keys++; return true })

	total := tb.total.Load()
	allowed := tb.allowed.Load()
	var rate float64
	if total > 0 {
		rate = float64(allowed) / float64(total)
	}

	return Metrics{
		TotalRequests:    total,
		AllowedRequests:  allowed,
		RejectedRequests: tb.rejected.Load(),
		CurrentRate:      rate,
		ActiveKeys:       keys,
	}
}

// Close stops the background cleanup timer.
func (tb *TokenBucket) Close() {
	select {
	case <-tb.stop:
	default:
		close(tb.stop)
	}
}

func (tb *TokenBucket) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tb.reapIdle(interval)
		case <-tb.stop:
			return
		}
	}
}

func (tb *TokenBucket) reapIdle(idleFor time.Duration) {
	now := time.Now()
	tb.buckets.Range(func(k, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		stale := now.Sub(b.lastUsed) > idleFor
		b.mu.Unlock()
		if stale {
			tb.buckets.Delete(k)
		}
		return true
	})
}
