// Package kafka implements the distributed-log backend adapter over
// github.com/twmb/franz-go, generalizing the single-topic consumer
// (kafka/consumer.go, internal/shared/kafka, internal/single/kafka)
// into a relay.Adapter bound to a message-type subscription registry
// rather than a fixed bundle of trading topics.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/relaymq/relay"
)

// Options mirrors relay.DistributedLogOptions.
type Options struct {
	BootstrapServers []string
	ConsumerGroupID  string
	AutoOffsetReset  string
	EnableAutoCommit bool
	CompressionType  string
}

// Adapter binds the broker skeleton's five extension points to a
// franz-go producer/consumer pair. One topic per message type, named by
// the skeleton's resolved routing key.
type Adapter struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	producer *kgo.Client
	consumer *kgo.Client

	consumeCancel context.CancelFunc
	consumeWG     sync.WaitGroup

	subMu sync.Mutex
	subs  map[*relay.Subscription]func(ctx context.Context, headers relay.Headers, body []byte)
	// topics tracks which topics the consumer client is already bound to,
	// since franz-go's consumer group membership is set once at client
	// construction (kgo.ConsumeTopics), mirroring the fixed-topic-list
	// consumer shape.
	topics map[string]struct{}
}

// New constructs a distributed-log adapter. Validation of required
// fields (BootstrapServers non-empty) is performed by relay.Options at
// broker construction time; this constructor assumes a validated value.
func New(opts Options, log zerolog.Logger) *Adapter {
	return &Adapter{
		opts:   opts,
		log:    log.With().Str("component", "relay.backend.kafka").Logger(),
		subs:   make(map[*relay.Subscription]func(context.Context, relay.Headers, []byte)),
		topics: make(map[string]struct{}),
	}
}

func (a *Adapter) Name() string { return "distributed_log" }

func (a *Adapter) StartInternal(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	producer, err := kgo.NewClient(kgo.SeedBrokers(a.opts.BootstrapServers...))
	if err != nil {
		return fmt.Errorf("distributed log: create producer client: %w", err)
	}
	a.producer = producer
	a.log.Info().Strs("brokers", a.opts.BootstrapServers).Msg("distributed log producer started")
	return nil
}

func (a *Adapter) StopInternal(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.consumeCancel != nil {
		a.consumeCancel()
	}
	a.consumeWG.Wait()

	if a.consumer != nil {
		a.consumer.Close()
		a.consumer = nil
	}
	if a.producer != nil {
		a.producer.Close()
		a.producer = nil
	}
	a.log.Info().Msg("distributed log backend stopped")
	return nil
}

func (a *Adapter) DisposeInternal(ctx context.Context) error {
	return a.StopInternal(ctx)
}

func (a *Adapter) PublishInternal(ctx context.Context, routingKey string, body []byte, headers relay.Headers) error {
	a.mu.Lock()
	producer := a.producer
	a.mu.Unlock()
	if producer == nil {
		return fmt.Errorf("distributed log: producer not started")
	}

	record := &kgo.Record{Topic: routingKey, Value: body}
	if groupID := headers.Get(relay.HeaderMessageGroupID); groupID != "" {
		record.Key = []byte(groupID)
	}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(s)})
		}
	}

	result := producer.ProduceSync(ctx, record)
	return result.FirstErr()
}

// SubscribeInternal registers the delivery callback for sub's message
// type and (re)creates the consumer client bound to every topic seen so
// far. franz-go does not support adding topics to a running consumer
// group member without a rejoin, so each new message type triggers a
// consumer restart, matching the "one consumer, fixed topic list" shape
// generalized to a dynamic topic set.
func (a *Adapter) SubscribeInternal(ctx context.Context, sub *relay.Subscription, deliver func(ctx context.Context, headers relay.Headers, body []byte)) (func() error, error) {
	topic := sub.Options.RoutingKeyOrTopic
	if topic == "" {
		topic = sub.MessageType
	}

	a.subMu.Lock()
	a.subs[sub] = deliver
	a.topics[topic] = struct{}{}
	topics := make([]string, 0, len(a.topics))
	for t := range a.topics {
		topics = append(topics, t)
	}
	a.subMu.Unlock()

	if err := a.rebindConsumer(topics); err != nil {
		return nil, err
	}

	stop := func() error {
		a.subMu.Lock()
		delete(a.subs, sub)
		a.subMu.Unlock()
		return nil
	}
	return stop, nil
}

func (a *Adapter) rebindConsumer(topics []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.consumeCancel != nil {
		a.consumeCancel()
		a.consumeWG.Wait()
	}
	if a.consumer != nil {
		a.consumer.Close()
	}

	groupID := a.opts.ConsumerGroupID
	if groupID == "" {
		groupID = "relay"
	}
	offset := kgo.NewOffset().AtEnd()
	if a.opts.AutoOffsetReset == "earliest" {
		offset = kgo.NewOffset().AtStart()
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(a.opts.BootstrapServers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(offset),
	)
	if err != nil {
		return fmt.Errorf("distributed log: create consumer client: %w", err)
	}
	a.consumer = consumer

	consumeCtx, cancel := context.WithCancel(context.Background())
	a.consumeCancel = cancel
	a.consumeWG.Add(1)
	go a.consumeLoop(consumeCtx, consumer)
	return nil
}

func (a *Adapter) consumeLoop(ctx context.Context, client *kgo.Client) {
	defer a.consumeWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		for _, err := range fetches.Errors() {
			a.log.Error().Err(err.Err).Str("topic", err.Topic).Msg("fetch error")
		}
		fetches.EachRecord(func(record *kgo.Record) {
			headers := relay.Headers{}
			for _, h := range record.Headers {
				headers.Set(h.Key, string(h.Value))
			}
			a.dispatch(record.Topic, headers, record.Value)
		})
	}
}

func (a *Adapter) dispatch(topic string, headers relay.Headers, body []byte) {
	a.subMu.Lock()
	var targets []func(context.Context, relay.Headers, []byte)
	for sub, deliver := range a.subs {
		routingTopic := sub.Options.RoutingKeyOrTopic
		if routingTopic == "" {
			routingTopic = sub.MessageType
		}
		if routingTopic == topic {
			targets = append(targets, deliver)
		}
	}
	a.subMu.Unlock()

	for _, deliver := range targets {
		deliver(context.Background(), headers, body)
	}
}
