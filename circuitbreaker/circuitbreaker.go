// Package circuitbreaker implements the C2 three-state availability gate:
// Closed admits all calls and watches for failure, Open sheds load until
// a timeout elapses, HalfOpen probes recovery one call at a time.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected by an open circuit.
var ErrOpen = errors.New("circuitbreaker: circuit is open")

// rollingWindowSize bounds the sample history used for the failure-rate
// evaluation once minimumThroughput samples have accumulated.
const rollingWindowSize = 128

// Config configures a Breaker.
type Config struct {
	Name                 string
	FailureThreshold     int
	SuccessThreshold     int
	Timeout              time.Duration
	FailureRateThreshold float64
	MinimumThroughput    int
	SlowCallDuration     time.Duration
	SlowCallThreshold    int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.SuccessThreshold <= 0 {
		out.SuccessThreshold = 1
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	return out
}

// Metrics reports the breaker's call outcome counters.
type Metrics struct {
	SuccessfulCalls int64
	FailedCalls     int64
	RejectedCalls   int64
	SlowCalls       int64
}

// Breaker is a single instance's circuit breaker. All exported methods
// are safe for concurrent use.
type Breaker struct {
	cfg Config

	mu                sync.Mutex
	state             State
	consecutiveFails  int
	halfOpenSuccesses int
	openedAt          time.Time
	window            [rollingWindowSize]bool // true = failure/slow
	windowCount       int
	windowPos         int

	probing atomic.Bool

	successfulCalls atomic.Int64
	failedCalls     atomic.Int64
	rejectedCalls   atomic.Int64
	slowCalls       atomic.Int64

	onOpen func()
}

// New constructs a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	c := cfg.withDefaults()
	return &Breaker{cfg: c, state: Closed}
}

// OnOpen registers a callback invoked (asynchronously) whenever the
// breaker transitions into Open, for telemetry hooks such as a
// circuit_breaker.opened event.
func (b *Breaker) OnOpen(fn func()) { b.onOpen = fn }

// State returns the current state, first resolving an elapsed Open
// timeout into HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireOpen()
	return b.state
}

// Metrics returns a snapshot of the call counters.
func (b *Breaker) Metrics() Metrics {
	return Metrics{
		SuccessfulCalls: b.successfulCalls.Load(),
		FailedCalls:     b.failedCalls.Load(),
		RejectedCalls:   b.rejectedCalls.Load(),
		SlowCalls:       b.slowCalls.Load(),
	}
}

// maybeExpireOpen must be called with mu held.
func (b *Breaker) maybeExpireOpen() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.Timeout {
		b.transitionLocked(HalfOpen)
	}
}

// allow reports whether a call may proceed (admitted) and whether it was
// admitted as the HalfOpen probe (wasProbe).
func (b *Breaker) allow() (admitted bool, wasProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeExpireOpen()

	switch b.state {
	case Closed:
		return true, false
	case Open:
		return false, false
	case HalfOpen:
		if !b.probing.CompareAndSwap(false, true) {
			return false, false
		}
		return true, true
	default:
		return false, false
	}
}

// Execute runs fn through the breaker, classifying ctx cancellation as
// neither success nor failure: cancellation surfaces the cancellation
// error without recording a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	admitted, wasProbe := b.allow()
	if !admitted {
		b.rejectedCalls.Add(1)
		return ErrOpen
	}
	if wasProbe {
		defer b.probing.Store(false)
	}

	start := time.Now()
	err := fn(ctx)
	took := time.Since(start)

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}

	slow := b.cfg.SlowCallDuration > 0 && took >= b.cfg.SlowCallDuration
	if slow {
		b.slowCalls.Add(1)
	}
	// A slow call counts as a failure for state-machine purposes when
	// SlowCallThreshold is configured, even when fn itself returned no
	// error.
	countsAsFailure := err != nil || (slow && b.cfg.SlowCallThreshold > 0)

	if err != nil {
		b.failedCalls.Add(1)
	} else {
		b.successfulCalls.Add(1)
	}
	b.reportOutcome(wasProbe, !countsAsFailure)
	return err
}

// reportOutcome records a sample into the rolling window and drives state
// transitions. Must not be called with mu held.
func (b *Breaker) reportOutcome(wasProbe bool, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordSampleLocked(!success)

	switch b.state {
	case Closed:
		if success {
			b.consecutiveFails = 0
			return
		}
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.transitionLocked(Open)
			return
		}
		if b.windowCount >= max(b.cfg.MinimumThroughput, 1) && b.cfg.FailureRateThreshold > 0 {
			if b.failureRateLocked() >= b.cfg.FailureRateThreshold {
				b.transitionLocked(Open)
			}
		}
	case HalfOpen:
		if !success {
			b.transitionLocked(Open)
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	case Open:
		// A late report arriving after Open re-expired into HalfOpen via
		// maybeExpireOpen is handled on the next allow() call; nothing to
		// do here.
	}
}

func (b *Breaker) recordSampleLocked(failedOrSlow bool) {
	b.window[b.windowPos] = failedOrSlow
	b.windowPos = (b.windowPos + 1) % rollingWindowSize
	if b.windowCount < rollingWindowSize {
		b.windowCount++
	}
}

func (b *Breaker) failureRateLocked() float64 {
	if b.windowCount == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < b.windowCount; i++ {
		if b.window[i] {
			failed++
		}
	}
	return float64(failed) / float64(b.windowCount)
}

// transitionLocked must be called with mu held.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case Open:
		b.openedAt = time.Now()
		b.halfOpenSuccesses = 0
		b.probing.Store(false)
		if b.onOpen != nil {
			go b.onOpen()
		}
	case HalfOpen:
		b.halfOpenSuccesses = 0
		b.probing.Store(false)
	case Closed:
		b.consecutiveFails = 0
		b.halfOpenSuccesses = 0
		b.windowCount = 0
		b.windowPos = 0
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
