// Package lightweight implements the NATS-style lightweight pub/sub
// backend adapter, using the nats.go client library required across
// all four ws_poc variants. This adapter treats the routingKey argument
// as the NATS subject verbatim. The broker passes the routing key
// resolved from its routing-key pattern; it does not derive a
// "{prefix}.{TypeName}" subject (routing.go's resolveSubject is not
// called by the broker), and Options.StreamName is not read.
package lightweight

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/relaymq/relay"
)

// Options mirrors relay.LightweightOptions.
type Options struct {
	Servers       []string
	Username      string
	Password      string
	Name          string
	MaxReconnects int
	StreamName    string
}

// Adapter binds the broker skeleton to a NATS connection.
type Adapter struct {
	opts Options
	log  zerolog.Logger

	conn *nats.Conn

	subMu sync.Mutex
	subs  map[*relay.Subscription]*nats.Subscription
}

func New(opts Options, log zerolog.Logger) *Adapter {
	return &Adapter{
		opts: opts,
		log:  log.With().Str("component", "relay.backend.lightweight").Logger(),
		subs: make(map[*relay.Subscription]*nats.Subscription),
	}
}

func (a *Adapter) Name() string { return "lightweight" }

func (a *Adapter) StartInternal(ctx context.Context) error {
	var natsOpts []nats.Option
	if a.opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(a.opts.Name))
	}
	if a.opts.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(a.opts.Username, a.opts.Password))
	}
	if a.opts.MaxReconnects != 0 {
		natsOpts = append(natsOpts, nats.MaxReconnects(a.opts.MaxReconnects))
	}

	servers := a.opts.Servers
	if len(servers) == 0 {
		servers = []string{nats.DefaultURL}
	}
	url := servers[0]
	for _, s := range servers[1:] {
		url += "," + s
	}

	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return fmt.Errorf("lightweight: connect: %w", err)
	}
	a.conn = conn
	a.log.Info().Strs("servers", servers).Msg("lightweight backend started")
	return nil
}

func (a *Adapter) StopInternal(ctx context.Context) error {
	a.subMu.Lock()
	for sub, natsSub := range a.subs {
		_ = natsSub.Unsubscribe()
		delete(a.subs, sub)
	}
	a.subMu.Unlock()

	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.log.Info().Msg("lightweight backend stopped")
	return nil
}

func (a *Adapter) DisposeInternal(ctx context.Context) error {
	return a.StopInternal(ctx)
}

func (a *Adapter) PublishInternal(ctx context.Context, routingKey string, body []byte, headers relay.Headers) error {
	if a.conn == nil {
		return fmt.Errorf("lightweight: connection not started")
	}
	msg := &nats.Msg{Subject: routingKey, Data: body, Header: nats.Header{}}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			msg.Header.Set(k, s)
		}
	}
	return a.conn.PublishMsg(msg)
}

func (a *Adapter) SubscribeInternal(ctx context.Context, sub *relay.Subscription, deliver func(ctx context.Context, headers relay.Headers, body []byte)) (func() error, error) {
	subject := sub.Options.RoutingKeyOrTopic
	if subject == "" {
		subject = sub.MessageType
	}

	handler := func(msg *nats.Msg) {
		headers := relay.Headers{}
		for k := range msg.Header {
			headers.Set(k, msg.Header.Get(k))
		}
		deliver(context.Background(), headers, msg.Data)
	}

	var natsSub *nats.Subscription
	var err error
	if sub.Options.ConsumerGroup != "" {
		natsSub, err = a.conn.QueueSubscribe(subject, sub.Options.ConsumerGroup, handler)
	} else {
		natsSub, err = a.conn.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("lightweight: subscribe %q: %w", subject, err)
	}

	a.subMu.Lock()
	a.subs[sub] = natsSub
	a.subMu.Unlock()

	stop := func() error {
		a.subMu.Lock()
		delete(a.subs, sub)
		a.subMu.Unlock()
		return natsSub.Unsubscribe()
	}
	return stop, nil
}
