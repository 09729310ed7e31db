// Command relaydemo wires a Broker to the distributed-log backend and
// runs a publish/subscribe loop until interrupted. It exists to show how
// the pieces plug together, not as a deployable service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/relaymq/relay"
	"github.com/relaymq/relay/backends/kafka"
	"github.com/relaymq/relay/telemetry"
)

// orderPlaced is the demo message type. Its lowercase type name becomes
// the default routing key / subject.
type orderPlaced struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount_cents"`
}

func newLogger(format, level string) zerolog.Logger {
	var w interface{ Write([]byte) (int, error) } = os.Stdout
	if format == "pretty" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		logger = logger.Level(lvl)
	}
	return logger
}

func main() {
	bootstrap := zerolog.New(os.Stdout).With().Timestamp().Logger()

	maxProcs := runtime.GOMAXPROCS(0)
	bootstrap.Info().Int("gomaxprocs", maxProcs).Msg("starting relaydemo")

	cfg, err := loadConfig(&bootstrap)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.LogFormat, cfg.LogLevel)

	adapter := kafka.New(kafka.Options{
		BootstrapServers: splitBrokers(cfg.KafkaBrokers),
		ConsumerGroupID:  cfg.KafkaConsumerGrp,
		AutoOffsetReset:  "latest",
		EnableAutoCommit: true,
	}, logger)

	broker, err := relay.New(relay.Config{
		Adapter: adapter,
		Options: relay.Options{
			BrokerType:               relay.BrokerTypeDistributedLog,
			DefaultRoutingKeyPattern: "{MessageType}",
			Compression: relay.CompressionOptions{
				Enabled:     true,
				Algorithm:   "gzip",
				MinimumSize: 512,
			},
			RetryPolicy:    relay.DefaultRetryOptions(),
			CircuitBreaker: relay.DefaultCircuitBreakerOptions(),
			RateLimit: relay.RateLimitOptions{
				Enabled:           true,
				Algorithm:         relay.RateLimitTokenBucket,
				RequestsPerSecond: cfg.PublishRate,
				BucketCapacity:    cfg.PublishRate,
			},
			DistributedLog: &relay.DistributedLogOptions{
				BootstrapServers: splitBrokers(cfg.KafkaBrokers),
				ConsumerGroupID:  cfg.KafkaConsumerGrp,
			},
		},
		Telemetry: telemetry.NewPrometheusRecorder(prometheus.DefaultRegisterer),
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct broker")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := broker.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start broker")
	}

	received := make(chan orderPlaced, 16)
	_, err = broker.Subscribe(ctx, "orderplaced", func(ctx context.Context, m any, cancelSub func()) error {
		body, ok := m.([]byte)
		if !ok {
			return relay.InvalidData("unexpected payload type", fmt.Errorf("%T", m))
		}
		var order orderPlaced
		if err := relay.Deserialize(body, &order); err != nil {
			return err
		}
		select {
		case received <- order:
		case <-ctx.Done():
		}
		return nil
	}, relay.SubscribeOptions{
		QueueOrStreamName: "orders",
		ConsumerGroup:     cfg.KafkaConsumerGrp,
		AutoAck:           true,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe")
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if cfg.RunFor > 0 {
		t := time.NewTimer(cfg.RunFor)
		defer t.Stop()
		deadline = t.C
	}

	seq := int64(0)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			seq++
			order := &orderPlaced{OrderID: fmt.Sprintf("order-%d", seq), Amount: seq * 100}
			if err := broker.Publish(ctx, order, relay.PublishOptions{}); err != nil {
				logger.Warn().Err(err).Msg("publish failed")
			}
		case order := <-received:
			logger.Info().Str("order_id", order.OrderID).Int64("amount_cents", order.Amount).Msg("order received")
		}
	}

	logger.Info().Msg("shutting down relaydemo")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := broker.Dispose(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error during shutdown")
	}
}
