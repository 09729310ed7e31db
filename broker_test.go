package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name string

	mu        sync.Mutex
	started   bool
	stopped   bool
	disposed  bool
	published []publishedMsg
	publishErr error

	subs map[*Subscription]func(ctx context.Context, headers Headers, body []byte)
}

type publishedMsg struct {
	routingKey string
	body       []byte
	headers    Headers
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, subs: make(map[*Subscription]func(context.Context, Headers, []byte))}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) StartInternal(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeAdapter) StopInternal(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeAdapter) DisposeInternal(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	return nil
}

func (f *fakeAdapter) PublishInternal(ctx context.Context, routingKey string, body []byte, headers Headers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{routingKey: routingKey, body: body, headers: headers})
	return nil
}

func (f *fakeAdapter) SubscribeInternal(ctx context.Context, sub *Subscription, deliver func(context.Context, Headers, []byte)) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub] = deliver
	return func() error { return nil }, nil
}

func (f *fakeAdapter) deliverTo(sub *Subscription, headers Headers, body []byte) {
	f.mu.Lock()
	fn := f.subs[sub]
	f.mu.Unlock()
	fn(context.Background(), headers, body)
}

type testMessage struct {
	Value string
}

func newTestBroker(t *testing.T, adapter *fakeAdapter, configure func(*Config)) *Broker {
	t.Helper()
	cfg := Config{
		Adapter: adapter,
		Options: Options{
			BrokerType: BrokerTypeDistributedLog,
			DistributedLog: &DistributedLogOptions{
				BootstrapServers: []string{"localhost:9092"},
			},
			RetryPolicy: RetryOptions{MaxAttempts: 1, InitialDelay: time.Millisecond},
		},
	}
	if configure != nil {
		configure(&cfg)
	}
	b, err := New(cfg)
	require.NoError(t, err)
	return b
}

func TestNewRequiresAdapter(t *testing.T) {
	_, err := New(Config{Options: Options{BrokerType: BrokerTypeDistributedLog}})
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindInvalidArgument, relayErr.Kind)
}

func TestNewFailsWithoutBackendOptions(t *testing.T) {
	_, err := New(Config{Adapter: newFakeAdapter("kafka"), Options: Options{BrokerType: BrokerTypeDistributedLog}})
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindInvalidConfiguration, relayErr.Kind)
}

func TestPublishNilMessageRejected(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	b := newTestBroker(t, adapter, nil)
	err := b.Publish(context.Background(), nil, PublishOptions{})
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindInvalidArgument, relayErr.Kind)
}

func TestPublishBeforeStartDeliversToBackend(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	b := newTestBroker(t, adapter, nil)

	require.Equal(t, Created, b.State())
	err := b.Publish(context.Background(), testMessage{Value: "hi"}, PublishOptions{})
	require.NoError(t, err)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	require.Len(t, adapter.published, 1)
	assert.Equal(t, "testmessage", adapter.published[0].routingKey)
}

func TestSubscribeAutoStartsBroker(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	b := newTestBroker(t, adapter, nil)

	var received string
	var wg sync.WaitGroup
	wg.Add(1)
	sub, err := b.Subscribe(context.Background(), "testmessage", func(ctx context.Context, m any, cancel func()) error {
		defer wg.Done()
		received = string(m.([]byte))
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, Running, b.State())

	adapter.deliverTo(sub, Headers{}, []byte("payload"))
	wg.Wait()
	assert.Equal(t, "payload", received)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	b := newTestBroker(t, adapter, nil)
	err := b.Stop(context.Background())
	require.NoError(t, err)
	adapter.mu.Lock()
	assert.False(t, adapter.stopped)
	adapter.mu.Unlock()
}

func TestStartIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	b := newTestBroker(t, adapter, nil)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, Running, b.State())
}

func TestDisposeIsIdempotentAndStopsIfRunning(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	b := newTestBroker(t, adapter, nil)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.Dispose(context.Background()))
	require.NoError(t, b.Dispose(context.Background()))

	assert.Equal(t, Disposed, b.State())
	adapter.mu.Lock()
	assert.True(t, adapter.stopped)
	assert.True(t, adapter.disposed)
	adapter.mu.Unlock()
}

func TestRateLimitRejectsSecondPublish(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	b := newTestBroker(t, adapter, func(cfg *Config) {
		cfg.Options.RateLimit = RateLimitOptions{
			Enabled:           true,
			RequestsPerSecond: 1,
			BucketCapacity:    1,
		}
	})

	require.NoError(t, b.Publish(context.Background(), testMessage{Value: "a"}, PublishOptions{}))
	err := b.Publish(context.Background(), testMessage{Value: "b"}, PublishOptions{})
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindRateLimited, relayErr.Kind)
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	adapter.publishErr = errors.New("boom")
	b := newTestBroker(t, adapter, func(cfg *Config) {
		cfg.Options.CircuitBreaker = CircuitBreakerOptions{
			Enabled:          true,
			FailureThreshold: 1,
			Timeout:          time.Minute,
		}
	})

	err1 := b.Publish(context.Background(), testMessage{Value: "a"}, PublishOptions{})
	require.Error(t, err1)

	err2 := b.Publish(context.Background(), testMessage{Value: "b"}, PublishOptions{})
	var relayErr *Error
	require.ErrorAs(t, err2, &relayErr)
	assert.Equal(t, KindCircuitOpen, relayErr.Kind)
}

func TestCompressionAppliedAboveMinimumSize(t *testing.T) {
	adapter := newFakeAdapter("kafka")
	b := newTestBroker(t, adapter, func(cfg *Config) {
		cfg.Options.Compression = CompressionOptions{Enabled: true, Algorithm: "gzip", MinimumSize: 1}
	})

	require.NoError(t, b.Publish(context.Background(), testMessage{Value: "compress me please"}, PublishOptions{}))

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	require.Len(t, adapter.published, 1)
	assert.Equal(t, "gzip", adapter.published[0].headers.Get(HeaderCompressionAlgo))
}
