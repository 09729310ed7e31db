package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// config holds the demo's environment-driven settings. Tags follow the
// same env/envDefault convention as every variant's broker config:
// ENV vars > .env file > defaults.
type config struct {
	Backend          string `env:"RELAY_BACKEND" envDefault:"distributed_log"`
	KafkaBrokers     string `env:"RELAY_KAFKA_BROKERS" envDefault:"localhost:19092"`
	KafkaConsumerGrp string `env:"RELAY_KAFKA_CONSUMER_GROUP" envDefault:"relay-demo"`

	LogLevel  string `env:"RELAY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"RELAY_LOG_FORMAT" envDefault:"pretty"`

	PublishRate float64       `env:"RELAY_PUBLISH_RATE" envDefault:"50"`
	RunFor      time.Duration `env:"RELAY_RUN_FOR" envDefault:"0s"`
}

// loadConfig reads .env then the environment: a missing .env file is
// informational, not fatal.
func loadConfig(logger *zerolog.Logger) (*config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func splitBrokers(brokers string) []string {
	result := []string{}
	for _, b := range strings.Split(brokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
