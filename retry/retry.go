// Package retry implements C4, the retry engine wrapping backend calls
// with exponential or linear backoff and jitter, grounded
// on the ExecuteWithRetry/calculateDelay pattern seen in the pack's
// resilience helpers.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrExhausted wraps the last error once MaxAttempts is reached.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy configures a retry loop. Zero or negative InitialDelay,
// MaxDelay and BackoffMultiplier default to 1s, 30s and 2.0;
// MaxAttempts and UseExponentialBackoff are used as given.
type Policy struct {
	MaxAttempts           int
	InitialDelay          time.Duration
	MaxDelay              time.Duration
	BackoffMultiplier     float64
	UseExponentialBackoff bool
	JitterFraction        float64

	// IsRetriable, when set, decides whether an error should be retried.
	// nil means every non-nil, non-context error is retriable.
	IsRetriable func(error) bool
}

func (p Policy) withDefaults() Policy {
	out := p
	if out.InitialDelay <= 0 {
		out.InitialDelay = time.Second
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 30 * time.Second
	}
	if out.BackoffMultiplier <= 0 {
		out.BackoffMultiplier = 2.0
	}
	return out
}

// delay returns the backoff duration before the given retry attempt
// (attempt is 1-based: the delay preceding the first retry).
func (p Policy) delay(attempt int, rnd *rand.Rand, mu *sync.Mutex) time.Duration {
	var d float64
	if p.UseExponentialBackoff {
		d = float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	} else {
		d = float64(p.InitialDelay) * (1 + float64(attempt-1)*(p.BackoffMultiplier-1))
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.JitterFraction > 0 {
		mu.Lock()
		jitter := rnd.Float64() * p.JitterFraction * d
		mu.Unlock()
		d += jitter
	}
	return time.Duration(d)
}

func (p Policy) retriable(err error) bool {
	if err == nil {
		return false
	}
	if p.IsRetriable != nil {
		return p.IsRetriable(err)
	}
	return true
}

// Runner executes operations under a fixed Policy. A Runner may be
// shared across goroutines.
type Runner struct {
	policy Policy
	rnd    *rand.Rand
	mu     sync.Mutex
}

// New constructs a Runner for the given policy.
func New(policy Policy) *Runner {
	return &Runner{
		policy: policy.withDefaults(),
		rnd:    rand.New(rand.NewSource(1)),
	}
}

// Attempt records what happened on a single try, surfaced via the
// onAttempt hook of DoWithHook for telemetry.
type Attempt struct {
	Number int
	Err    error
	Delay  time.Duration
}

// Do runs fn, retrying on error per the Runner's policy. A MaxAttempts
// of 0 performs zero attempts and returns ErrExhausted immediately.
// Context cancellation aborts immediately without counting as a
// policy-driven exhaustion.
func (r *Runner) Do(ctx context.Context, fn func(context.Context) error) error {
	return r.DoWithHook(ctx, fn, nil)
}

// DoWithHook is Do with an observer invoked after every attempt.
func (r *Runner) DoWithHook(ctx context.Context, fn func(context.Context) error, onAttempt func(Attempt)) error {
	if r.policy.MaxAttempts <= 0 {
		return ErrExhausted
	}

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			d := r.policy.delay(attempt-1, r.rnd, &r.mu)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}

		err := fn(ctx)
		if onAttempt != nil {
			onAttempt(Attempt{Number: attempt, Err: err})
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}

		lastErr = err
		if !r.policy.retriable(err) {
			return err
		}
	}

	return errors.Join(ErrExhausted, lastErr)
}
