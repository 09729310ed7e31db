package relay

import (
	"context"
	"sync"
)

// Handler processes a received message. cancel lets a handler signal
// the broker it no longer wants further deliveries on this
// subscription.
type Handler func(ctx context.Context, m any, cancel func()) error

// SubscribeOptions configures a subscription record.
type SubscribeOptions struct {
	QueueOrStreamName string
	RoutingKeyOrTopic string
	ConsumerGroup     string
	PrefetchCount     int
	Durable           bool
	Exclusive         bool
	AutoDelete        bool
	AutoAck           bool
}

// Subscription is one registered {messageType, handler, options} record
//. A subscription is active iff it is registered AND the
// broker is Running.
type Subscription struct {
	ID          uint64
	MessageType string
	Handler     Handler
	Options     SubscribeOptions

	// stopInternal, set by the backend adapter when the record is bound
	// to a physical consumer, releases that consumer.
	stopInternal func() error
}

// registry is the broker's mutex-guarded map of active subscriptions,
// keyed by message type with multiple independent consumers permitted
// per type.
type registry struct {
	mu      sync.Mutex
	nextID  uint64
	records map[string][]*Subscription
}

func newRegistry() *registry {
	return &registry{records: make(map[string][]*Subscription)}
}

func (r *registry) add(messageType string, handler Handler, opts SubscribeOptions) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub := &Subscription{ID: r.nextID, MessageType: messageType, Handler: handler, Options: opts}
	r.records[messageType] = append(r.records[messageType], sub)
	return sub
}

func (r *registry) forType(messageType string) []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, len(r.records[messageType]))
	copy(out, r.records[messageType])
	return out
}

func (r *registry) all() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, subs := range r.records {
		out = append(out, subs...)
	}
	return out
}

func (r *registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.records[sub.MessageType]
	for i, s := range subs {
		if s == sub {
			r.records[sub.MessageType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
