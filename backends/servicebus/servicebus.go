// Package servicebus implements the Azure Service Bus backend adapter
// over github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus.
// No Azure example repo was retrieved for this spec (see DESIGN.md).
package servicebus

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog"

	"github.com/relaymq/relay"
)

// EntityType distinguishes queue vs topic entities, mirroring
// relay.CloudServiceBusEntityType.
type EntityType int

const (
	EntityTypeQueue EntityType = iota
	EntityTypeTopic
)

// Options mirrors relay.CloudServiceBusOptions.
type Options struct {
	ConnectionString  string
	EntityType        EntityType
	DefaultEntityName string
}

// Adapter binds the broker skeleton to a single Service Bus
// queue or topic/subscription pair named by the resolved routing key (or
// DefaultEntityName when the caller supplies none).
type Adapter struct {
	opts Options
	log  zerolog.Logger

	client *azservicebus.Client

	subMu     sync.Mutex
	receivers map[*relay.Subscription]*azservicebus.Receiver
	cancels   map[*relay.Subscription]context.CancelFunc
	wg        sync.WaitGroup
}

func New(opts Options, log zerolog.Logger) *Adapter {
	return &Adapter{
		opts:      opts,
		log:       log.With().Str("component", "relay.backend.servicebus").Logger(),
		receivers: make(map[*relay.Subscription]*azservicebus.Receiver),
		cancels:   make(map[*relay.Subscription]context.CancelFunc),
	}
}

func (a *Adapter) Name() string { return "cloud_service_bus" }

func (a *Adapter) StartInternal(ctx context.Context) error {
	client, err := azservicebus.NewClientFromConnectionString(a.opts.ConnectionString, nil)
	if err != nil {
		return fmt.Errorf("service bus: connect: %w", err)
	}
	a.client = client
	a.log.Info().Msg("service bus backend started")
	return nil
}

func (a *Adapter) StopInternal(ctx context.Context) error {
	a.subMu.Lock()
	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = make(map[*relay.Subscription]context.CancelFunc)
	receivers := a.receivers
	a.receivers = make(map[*relay.Subscription]*azservicebus.Receiver)
	a.subMu.Unlock()

	a.wg.Wait()
	for _, r := range receivers {
		_ = r.Close(ctx)
	}

	if a.client != nil {
		_ = a.client.Close(ctx)
		a.client = nil
	}
	a.log.Info().Msg("service bus backend stopped")
	return nil
}

func (a *Adapter) DisposeInternal(ctx context.Context) error {
	return a.StopInternal(ctx)
}

func (a *Adapter) entityName(routingKey string) string {
	if routingKey != "" {
		return routingKey
	}
	return a.opts.DefaultEntityName
}

func (a *Adapter) PublishInternal(ctx context.Context, routingKey string, body []byte, headers relay.Headers) error {
	entity := a.entityName(routingKey)
	if entity == "" {
		return relay.InvalidConfiguration("cloud_service_bus", "DefaultEntityName", "a queue or topic name is required: set DefaultEntityName or publish with a routing key")
	}
	sender, err := a.client.NewSender(entity, nil)
	if err != nil {
		return fmt.Errorf("service bus: new sender for %q: %w", entity, err)
	}
	defer sender.Close(ctx)

	msg := &azservicebus.Message{Body: body}
	if groupID := headers.Get(relay.HeaderMessageGroupID); groupID != "" {
		msg.SessionID = &groupID
	}
	if correlationID := headers.Get(relay.HeaderCorrelationID); correlationID != "" {
		msg.CorrelationID = &correlationID
	}

	return sender.SendMessage(ctx, msg, nil)
}

func (a *Adapter) SubscribeInternal(ctx context.Context, sub *relay.Subscription, deliver func(ctx context.Context, headers relay.Headers, body []byte)) (func() error, error) {
	entity := a.entityName(sub.Options.RoutingKeyOrTopic)
	if entity == "" {
		entity = sub.MessageType
	}

	var receiver *azservicebus.Receiver
	var err error
	if a.opts.EntityType == EntityTypeTopic {
		subName := sub.Options.ConsumerGroup
		if subName == "" {
			subName = "relay"
		}
		receiver, err = a.client.NewReceiverForSubscription(entity, subName, nil)
	} else {
		receiver, err = a.client.NewReceiverForQueue(entity, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("service bus: new receiver for %q: %w", entity, err)
	}

	receiveCtx, cancel := context.WithCancel(ctx)
	a.subMu.Lock()
	a.receivers[sub] = receiver
	a.cancels[sub] = cancel
	a.subMu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			if receiveCtx.Err() != nil {
				return
			}
			msgs, err := receiver.ReceiveMessages(receiveCtx, 10, nil)
			if err != nil {
				if receiveCtx.Err() != nil {
					return
				}
				a.log.Error().Err(err).Str("entity", entity).Msg("receive messages failed")
				continue
			}
			for _, msg := range msgs {
				headers := relay.Headers{}
				if msg.SessionID != nil {
					headers.Set(relay.HeaderMessageGroupID, *msg.SessionID)
				}
				if msg.CorrelationID != nil {
					headers.Set(relay.HeaderCorrelationID, *msg.CorrelationID)
				}
				deliver(receiveCtx, headers, msg.Body)
				if !sub.Options.AutoAck {
					_ = receiver.CompleteMessage(receiveCtx, msg, nil)
				}
			}
		}
	}()

	stop := func() error {
		cancel()
		a.subMu.Lock()
		delete(a.receivers, sub)
		delete(a.cancels, sub)
		a.subMu.Unlock()
		return receiver.Close(context.Background())
	}
	return stop, nil
}
