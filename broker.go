// Package relay implements the core of a multi-backend message broker
// abstraction: a unified publish/subscribe façade applying
// serialization, compression, rate limiting, circuit breaking, retry,
// and backpressure uniformly across pluggable wire-transport backends.
package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaymq/relay/backpressure"
	"github.com/relaymq/relay/circuitbreaker"
	"github.com/relaymq/relay/compression"
	"github.com/relaymq/relay/ratelimit"
	"github.com/relaymq/relay/retry"
	"github.com/relaymq/relay/telemetry"
)

// State is the broker's lifecycle state. Transitions form
// a DAG: Created→Starting→Running→Stopping→Stopped→Disposed.
type State int

const (
	Created State = iota
	Starting
	Running
	Stopping
	Stopped
	Disposed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Adapter is the extension-point interface every backend implements.
// The skeleton calls these extension points and never talks to the
// underlying transport directly.
type Adapter interface {
	// Name identifies the backend for error messages and telemetry
	// attributes (e.g. "amqp", "distributed_log").
	Name() string

	StartInternal(ctx context.Context) error
	StopInternal(ctx context.Context) error
	DisposeInternal(ctx context.Context) error

	// PublishInternal sends already-serialized (and possibly
	// compressed) bytes to the backend under routingKey, carrying the
	// envelope headers.
	PublishInternal(ctx context.Context, routingKey string, body []byte, headers Headers) error

	// SubscribeInternal binds a subscription record to a physical
	// consumer. Called during Start (for records registered before
	// Start) or immediately upon registration (if already Running),
	// per backend semantics.
	SubscribeInternal(ctx context.Context, sub *Subscription, deliver func(ctx context.Context, headers Headers, body []byte)) (stop func() error, err error)
}

// Validator checks a message against a per-type contract before
// serialization. Returning a non-empty slice of
// violations fails the publish with ValidationFailed.
type Validator func(m any) (violations []string)

// Config wires a Broker's cross-cutting reliability stack together
// with its backend adapter.
type Config struct {
	Options Options
	Adapter Adapter

	// Validator is optional; nil means no contract validation runs.
	Validator Validator

	// Telemetry defaults to telemetry.NoopRecorder when nil.
	Telemetry telemetry.Recorder

	// Backpressure is optional; nil disables publish/dispatch gating.
	Backpressure *backpressure.Controller

	// Logger defaults to a discarding logger when nil, so callers that
	// don't care about structured logs never need to construct one.
	Logger *zerolog.Logger
}

// Broker is the shared skeleton (C5): lifecycle, subscription registry,
// and the publish/subscribe pipeline wired into C1-C4 and the backend's
// extension points.
type Broker struct {
	adapter   Adapter
	opts      Options
	validator Validator
	telem     telemetry.Recorder
	bp        *backpressure.Controller
	log       zerolog.Logger

	compressor *compression.Registry
	breaker    *circuitbreaker.Breaker
	limiter    ratelimit.Limiter
	retrier    *retry.Runner

	mu    sync.Mutex
	state State
	subs  *registry
}

// New constructs a Broker in the Created state. A nil Adapter or a
// backend sub-bag that fails validation fails construction: a
// backend-specific option bag is required, and its absence fails with
// InvalidConfiguration.
func New(cfg Config) (*Broker, error) {
	if cfg.Adapter == nil {
		return nil, InvalidArgument("Adapter", "an Adapter is required")
	}
	if err := cfg.Options.validateBackend(); err != nil {
		return nil, err
	}

	b := &Broker{
		adapter:   cfg.Adapter,
		opts:      cfg.Options,
		validator: cfg.Validator,
		telem:     cfg.Telemetry,
		bp:        cfg.Backpressure,
		state:     Created,
		subs:      newRegistry(),
	}
	if b.telem == nil {
		b.telem = telemetry.NoopRecorder{}
	}
	if cfg.Logger != nil {
		b.log = *cfg.Logger
	} else {
		b.log = zerolog.New(io.Discard)
	}
	b.log = b.log.With().Str("component", "relay.broker").Str("broker_type", cfg.Options.BrokerType.String()).Logger()

	b.compressor = compression.NewRegistry()

	if cfg.Options.CircuitBreaker.Enabled {
		b.breaker = circuitbreaker.New(cfg.Options.CircuitBreaker.toConfig(cfg.Adapter.Name()))
		b.breaker.OnOpen(func() {
			b.telem.RecordCircuitOpened(telemetry.Attributes{
				MessagingSystem:     cfg.Adapter.Name(),
				CircuitBreakerState: circuitbreaker.Open.String(),
			})
		})
	}

	if cfg.Options.RateLimit.Enabled {
		algo := ratelimit.TokenBucketAlgorithm
		if cfg.Options.RateLimit.Algorithm == RateLimitSlidingWindow {
			algo = ratelimit.SlidingWindowAlgorithm
		}
		limiter, err := ratelimit.New(algo, cfg.Options.RateLimit.toConfig())
		if err != nil {
			return nil, InvalidConfiguration(cfg.Adapter.Name(), "RateLimit", err.Error())
		}
		b.limiter = limiter
	}

	b.retrier = retry.New(cfg.Options.RetryPolicy.toPolicy())

	return b, nil
}

// State returns the broker's current lifecycle state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start transitions Created/Stopped→Starting→Running. Idempotent: a
// no-op when already Running.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state == Running {
		b.mu.Unlock()
		return nil
	}
	if b.state == Disposed {
		b.mu.Unlock()
		return ErrDisposed("start")
	}
	b.state = Starting
	b.mu.Unlock()

	if err := b.adapter.StartInternal(ctx); err != nil {
		b.log.Error().Err(err).Msg("backend start failed")
		return TransportFailure(b.adapter.Name(), err)
	}

	for _, sub := range b.subs.all() {
		if err := b.bindSubscription(ctx, sub); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.state = Running
	b.mu.Unlock()
	b.log.Info().Msg("broker started")
	return nil
}

// Stop transitions Running→Stopping→Stopped. A no-op before Start.
// Backend teardown errors are logged and swallowed by Dispose; Stop
// itself still returns the error so a caller may choose to log it.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.state != Running {
		b.mu.Unlock()
		return nil
	}
	b.state = Stopping
	b.mu.Unlock()

	err := b.adapter.StopInternal(ctx)

	b.mu.Lock()
	b.state = Stopped
	b.mu.Unlock()

	if err != nil {
		b.log.Warn().Err(err).Msg("backend stop failed")
		return TransportFailure(b.adapter.Name(), err)
	}
	b.log.Info().Msg("broker stopped")
	return nil
}

// Dispose stops if Running and releases backend resources. Safe to
// call multiple times.
func (b *Broker) Dispose(ctx context.Context) error {
	b.mu.Lock()
	if b.state == Disposed {
		b.mu.Unlock()
		return nil
	}
	wasRunning := b.state == Running
	b.mu.Unlock()

	if wasRunning {
		_ = b.Stop(ctx)
	}

	err := b.adapter.DisposeInternal(ctx)
	if b.limiter != nil {
		b.limiter.Close()
	}

	b.mu.Lock()
	b.state = Disposed
	b.mu.Unlock()

	if err != nil {
		return TransportFailure(b.adapter.Name(), err)
	}
	return nil
}

// PublishOptions overrides per-call publish behavior.
type PublishOptions struct {
	RoutingKey             string
	MessageGroupID         string
	MessageDeduplicationID string
	CorrelationID          string
	RateLimitKey           string
}

// Publish runs the full publish pipeline: validate,
// serialize, compress, rate-limit, circuit-break, retry-wrapped
// backend call, telemetry.
func (b *Broker) Publish(ctx context.Context, m any, opts PublishOptions) error {
	if m == nil {
		return InvalidArgument("message", "message must not be nil")
	}

	if b.validator != nil {
		if violations := b.validator(m); len(violations) > 0 {
			return ValidationFailed(violations)
		}
	}

	body, err := Serialize(m)
	if err != nil {
		return err
	}

	routingKey := opts.RoutingKey
	if routingKey == "" {
		routingKey = resolveRoutingKey(b.opts.DefaultRoutingKeyPattern, m)
	}

	mt := typeName(m)
	headers := Headers{HeaderRoutingKey: routingKey, HeaderMessageType: mt}
	if opts.CorrelationID != "" {
		headers.Set(HeaderCorrelationID, opts.CorrelationID)
	}
	if opts.MessageGroupID != "" {
		headers.Set(HeaderMessageGroupID, opts.MessageGroupID)
	}
	if opts.MessageDeduplicationID != "" {
		headers.Set(HeaderDeduplicationID, opts.MessageDeduplicationID)
	}

	compressed := false
	if b.shouldCompress(body, mt) {
		algo := b.opts.Compression.Algorithm
		c, ok := b.compressor.Get(algo)
		if !ok {
			return InvalidConfiguration(b.adapter.Name(), "Compression.Algorithm", "unknown compression algorithm")
		}
		out, cerr := c.Compress(body, b.opts.Compression.Level)
		if cerr != nil {
			return TransportFailure(b.adapter.Name(), cerr)
		}
		body = out
		headers.Set(HeaderCompressionAlgo, string(algo))
		compressed = true
	}

	if b.bp != nil {
		if allow, cpuOverloaded := b.bp.AllowPublish(); !allow {
			if cpuOverloaded {
				return TransportFailure(b.adapter.Name(), context.DeadlineExceeded)
			}
			return RateLimited(1)
		}
	}

	if b.limiter != nil {
		key := opts.RateLimitKey
		if key == "" {
			key = ratelimit.GlobalKey
		}
		res, lerr := b.limiter.Check(key)
		if lerr != nil {
			return InvalidArgument("RateLimitKey", lerr.Error())
		}
		if !res.Allowed {
			return RateLimited(res.RetryAfter.Seconds())
		}
	}

	attrs := telemetry.Attributes{
		MessagingSystem:      b.adapter.Name(),
		MessagingDestination: routingKey,
		MessagingOperation:   "publish",
		MessageType:          mt,
		MessageCompressed:    compressed,
	}
	if b.breaker != nil {
		attrs.CircuitBreakerState = b.breaker.State().String()
	}

	start := time.Now()
	publishFn := func(ctx context.Context) error {
		return b.adapter.PublishInternal(ctx, routingKey, body, headers)
	}

	var callErr error
	if b.breaker != nil {
		callErr = b.breaker.Execute(ctx, func(ctx context.Context) error {
			return b.retrier.Do(ctx, publishFn)
		})
		if callErr == circuitbreaker.ErrOpen {
			callErr = CircuitOpen(b.adapter.Name())
		}
	} else {
		callErr = b.retrier.Do(ctx, publishFn)
	}

	b.telem.RecordPublish(attrs, len(body), time.Since(start), callErr)
	if callErr != nil {
		b.log.Warn().Err(callErr).Str("message_type", mt).Str("routing_key", routingKey).
			Dur("duration_ms", time.Since(start)).Msg("publish failed")
	}

	if callErr != nil && ctx.Err() != nil {
		return Cancelled(ctx.Err())
	}
	var relayErr *Error
	if callErr != nil && !errors.As(callErr, &relayErr) {
		return TransportFailure(b.adapter.Name(), callErr)
	}
	return callErr
}

func (b *Broker) shouldCompress(body []byte, messageType string) bool {
	if !b.opts.Compression.Enabled {
		return false
	}
	if len(body) < b.opts.Compression.MinimumSize {
		return false
	}
	if b.opts.Compression.SkipTypes != nil {
		if _, skip := b.opts.Compression.SkipTypes[messageType]; skip {
			return false
		}
	}
	return true
}

// Subscribe registers a handler for messageType. If the broker has not
// been started, it auto-starts. Repeated registrations
// for the same type are allowed and yield independent consumers.
func (b *Broker) Subscribe(ctx context.Context, messageType string, handler Handler, opts SubscribeOptions) (*Subscription, error) {
	if handler == nil {
		return nil, InvalidArgument("handler", "handler must not be nil")
	}

	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state == Disposed {
		return nil, ErrDisposed("subscribe")
	}

	sub := b.subs.add(messageType, handler, opts)

	if state == Running {
		if err := b.bindSubscription(ctx, sub); err != nil {
			b.subs.remove(sub)
			return nil, err
		}
	} else if state == Created || state == Stopped {
		if err := b.Start(ctx); err != nil {
			b.subs.remove(sub)
			return nil, err
		}
	}

	return sub, nil
}

// bindSubscription asks the adapter to bind a physical consumer and
// wires the delivery callback to run the subscribe-side pipeline
// outside any broker-internal lock.
func (b *Broker) bindSubscription(ctx context.Context, sub *Subscription) error {
	stop, err := b.adapter.SubscribeInternal(ctx, sub, func(ctx context.Context, headers Headers, body []byte) {
		b.deliver(ctx, sub, headers, body)
	})
	if err != nil {
		return TransportFailure(b.adapter.Name(), err)
	}
	sub.stopInternal = stop
	return nil
}

// deliver runs the receive-side pipeline: decompress, dispatch to
// handler. Handler invocation happens with no broker lock held.
func (b *Broker) deliver(ctx context.Context, sub *Subscription, headers Headers, body []byte) {
	attrs := telemetry.Attributes{
		MessagingSystem:      b.adapter.Name(),
		MessagingDestination: sub.Options.RoutingKeyOrTopic,
		MessagingOperation:   "receive",
		MessageType:          sub.MessageType,
	}
	b.telem.RecordReceive(attrs, len(body))

	payload := body
	if algoStr := headers.Get(HeaderCompressionAlgo); algoStr != "" {
		if c, found := b.compressor.Get(compression.Algorithm(algoStr)); found {
			if decompressed, derr := c.Decompress(body); derr == nil {
				payload = decompressed
			}
		}
	}

	if b.bp != nil && !b.bp.AcquireDispatch(ctx) {
		return
	}
	defer func() {
		if b.bp != nil {
			b.bp.ReleaseDispatch()
		}
	}()

	start := time.Now()
	err := sub.Handler(ctx, payload, func() {
		if sub.stopInternal != nil {
			_ = sub.stopInternal()
		}
		b.subs.remove(sub)
	})
	b.telem.RecordProcessed(attrs, time.Since(start), err)
	if err != nil {
		b.log.Warn().Err(err).Str("message_type", sub.MessageType).Uint64("subscription", sub.ID).
			Msg("handler returned error")
	}
}
