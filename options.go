package relay

import (
	"errors"
	"strings"
	"time"

	"github.com/relaymq/relay/circuitbreaker"
	"github.com/relaymq/relay/compression"
	"github.com/relaymq/relay/ratelimit"
	"github.com/relaymq/relay/retry"
)

// BrokerType enumerates the supported backends.
type BrokerType int

const (
	BrokerTypeAMQP BrokerType = iota
	BrokerTypeDistributedLog
	BrokerTypeCloudQueue
	BrokerTypeCloudServiceBus
	BrokerTypeLightweight
	BrokerTypeStreamInStore
)

func (t BrokerType) String() string {
	switch t {
	case BrokerTypeAMQP:
		return "amqp"
	case BrokerTypeDistributedLog:
		return "distributed_log"
	case BrokerTypeCloudQueue:
		return "cloud_queue"
	case BrokerTypeCloudServiceBus:
		return "cloud_service_bus"
	case BrokerTypeLightweight:
		return "lightweight"
	case BrokerTypeStreamInStore:
		return "stream_in_store"
	default:
		return "unknown"
	}
}

// CompressionOptions configures C1, the compressor registry boundary.
type CompressionOptions struct {
	Enabled     bool
	Algorithm   compression.Algorithm
	Level       int
	MinimumSize int
	SkipTypes   map[string]struct{}
}

// RetryOptions configures C4. Defaults: 3, 1s, 30s, 2.0, true.
type RetryOptions struct {
	MaxAttempts           int
	InitialDelay          time.Duration
	MaxDelay              time.Duration
	BackoffMultiplier     float64
	UseExponentialBackoff bool
	JitterFraction        float64
}

// DefaultRetryOptions returns the package's default retry policy.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:           3,
		InitialDelay:          time.Second,
		MaxDelay:              30 * time.Second,
		BackoffMultiplier:     2.0,
		UseExponentialBackoff: true,
	}
}

func (r RetryOptions) toPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:           r.MaxAttempts,
		InitialDelay:          r.InitialDelay,
		MaxDelay:              r.MaxDelay,
		BackoffMultiplier:     r.BackoffMultiplier,
		UseExponentialBackoff: r.UseExponentialBackoff,
		JitterFraction:        r.JitterFraction,
		IsRetriable:           isRetriableErr,
	}
}

// isRetriableErr excludes configuration, validation, and cancellation
// errors from retry: these will not succeed on a later attempt, so
// retrying them only delays surfacing a caller mistake. Errors that
// aren't a *Error (e.g. a raw backend error not yet wrapped) are
// treated as retriable transport failures.
func isRetriableErr(err error) bool {
	var relayErr *Error
	if !errors.As(err, &relayErr) {
		return true
	}
	switch relayErr.Kind {
	case KindInvalidConfiguration, KindValidationFailed, KindInvalidArgument, KindCancelled, KindDisposed:
		return false
	default:
		return true
	}
}

// CircuitBreakerOptions configures C2. FailureThreshold defaults to 5,
// Timeout to 30s.
type CircuitBreakerOptions struct {
	Enabled               bool
	FailureThreshold      int
	SuccessThreshold      int
	Timeout               time.Duration
	FailureRateThreshold  float64
	MinimumThroughput     int
	SlowCallDuration      time.Duration
	SlowCallThreshold     int
}

// DefaultCircuitBreakerOptions returns the package's default circuit
// breaker configuration.
func DefaultCircuitBreakerOptions() CircuitBreakerOptions {
	return CircuitBreakerOptions{
		Enabled:          true,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

func (c CircuitBreakerOptions) toConfig(name string) circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:                 name,
		FailureThreshold:     c.FailureThreshold,
		SuccessThreshold:     c.SuccessThreshold,
		Timeout:              c.Timeout,
		FailureRateThreshold: c.FailureRateThreshold,
		MinimumThroughput:    c.MinimumThroughput,
		SlowCallDuration:     c.SlowCallDuration,
		SlowCallThreshold:    c.SlowCallThreshold,
	}
}

// RateLimitAlgorithm selects between the two C3 algorithms.
type RateLimitAlgorithm int

const (
	RateLimitTokenBucket RateLimitAlgorithm = iota
	RateLimitSlidingWindow
)

// RateLimitOptions configures C3.
type RateLimitOptions struct {
	Enabled               bool
	Algorithm             RateLimitAlgorithm
	RequestsPerSecond     float64
	BucketCapacity        float64
	WindowSize            time.Duration
	EnablePerTenantLimits bool
	DefaultTenantLimit    float64
	TenantLimits          map[string]float64
	CleanupInterval       time.Duration
}

func (r RateLimitOptions) toConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond:     r.RequestsPerSecond,
		BucketCapacity:        r.BucketCapacity,
		WindowSize:            r.WindowSize,
		EnablePerTenantLimits: r.EnablePerTenantLimits,
		DefaultTenantLimit:    r.DefaultTenantLimit,
		TenantLimits:          r.TenantLimits,
		CleanupInterval:       r.CleanupInterval,
	}
}

// AMQPOptions is the AMQP backend's sub-bag.
type AMQPOptions struct {
	HostName      string
	Port          int
	UserName      string
	Password      string
	VirtualHost   string
	ExchangeType  string
	PrefetchCount int
}

func (o *AMQPOptions) validate() error {
	if o == nil {
		return InvalidConfiguration("AMQP", "", "AMQP options are required.")
	}
	if strings.TrimSpace(o.HostName) == "" {
		return InvalidArgument("HostName", "HostName is required.")
	}
	if o.Port <= 0 {
		return InvalidArgument("Port", "Port must be > 0.")
	}
	if o.PrefetchCount < 0 {
		return InvalidArgument("PrefetchCount", "PrefetchCount must be >= 0.")
	}
	return nil
}

// DistributedLogOptions is the distributed-log (Kafka/Redpanda) backend's
// sub-bag.
type DistributedLogOptions struct {
	BootstrapServers []string
	ConsumerGroupID  string
	AutoOffsetReset  string
	EnableAutoCommit bool
	CompressionType  string
}

func (o *DistributedLogOptions) validate() error {
	if o == nil {
		return InvalidConfiguration("DistributedLog", "", "distributed log options are required.")
	}
	if len(o.BootstrapServers) == 0 {
		return InvalidArgument("BootstrapServers", "BootstrapServers is required.")
	}
	return nil
}

// CloudQueueOptions is the AWS SQS/SNS backend's sub-bag.
type CloudQueueOptions struct {
	Region                  string
	AccessKeyID             string
	SecretAccessKey         string
	DefaultQueueURL         string
	DefaultTopicARN         string
	UseFIFOQueue            bool
	MessageGroupID          string
	MessageDeduplicationID  string
}

func (o *CloudQueueOptions) validate() error {
	if o == nil {
		return InvalidConfiguration("AWS SQS/SNS", "", "AWS SQS/SNS options are required.")
	}
	if strings.TrimSpace(o.Region) == "" {
		return InvalidArgument("Region", "Region is required.")
	}
	return nil
}

// CloudServiceBusEntityType distinguishes Azure Service Bus entity kinds.
type CloudServiceBusEntityType int

const (
	EntityTypeQueue CloudServiceBusEntityType = iota
	EntityTypeTopic
)

// CloudServiceBusOptions is the Azure Service Bus backend's sub-bag.
type CloudServiceBusOptions struct {
	ConnectionString  string
	EntityType        CloudServiceBusEntityType
	DefaultEntityName string
}

func (o *CloudServiceBusOptions) validate() error {
	if o == nil {
		return InvalidConfiguration("Azure Service Bus", "", "Azure Service Bus options are required.")
	}
	if strings.TrimSpace(o.ConnectionString) == "" {
		return &Error{Kind: KindInvalidConfiguration, Backend: "Azure Service Bus", Field: "ConnectionString", Message: "Azure Service Bus connection string is required."}
	}
	return nil
}

// LightweightOptions is the NATS-style lightweight pub/sub backend's
// sub-bag.
type LightweightOptions struct {
	Servers      []string
	Username     string
	Password     string
	Name         string
	MaxReconnects int
	StreamName   string
}

func (o *LightweightOptions) validate() error {
	if o == nil {
		return InvalidConfiguration("Lightweight", "", "lightweight pub/sub options are required.")
	}
	if len(o.Servers) == 0 {
		return InvalidArgument("Servers", "Servers is required.")
	}
	return nil
}

// StreamInStoreOptions is the EventStoreDB-style backend's sub-bag.
type StreamInStoreOptions struct {
	ConnectionString   string
	DefaultStreamName  string
	ConsumerGroupName  string
	ConsumerName       string
}

func (o *StreamInStoreOptions) validate() error {
	if o == nil {
		return InvalidConfiguration("StreamInStore", "", "stream-in-store options are required.")
	}
	if strings.TrimSpace(o.ConnectionString) == "" {
		return InvalidArgument("ConnectionString", "ConnectionString is required.")
	}
	if strings.TrimSpace(o.DefaultStreamName) == "" {
		return InvalidArgument("DefaultStreamName", "DefaultStreamName is required.")
	}
	if strings.TrimSpace(o.ConsumerGroupName) == "" {
		return InvalidArgument("ConsumerGroupName", "ConsumerGroupName is required.")
	}
	if strings.TrimSpace(o.ConsumerName) == "" {
		return InvalidArgument("ConsumerName", "ConsumerName is required.")
	}
	return nil
}

// Options is the unified configuration bag every broker constructor
// accepts.
type Options struct {
	BrokerType               BrokerType
	DefaultRoutingKeyPattern string

	Compression    CompressionOptions
	RetryPolicy    RetryOptions
	CircuitBreaker CircuitBreakerOptions
	RateLimit      RateLimitOptions

	AMQP              *AMQPOptions
	DistributedLog    *DistributedLogOptions
	CloudQueue        *CloudQueueOptions
	CloudServiceBus   *CloudServiceBusOptions
	Lightweight       *LightweightOptions
	StreamInStore     *StreamInStoreOptions
}

// validateBackend runs the registration-time validation for whichever
// backend sub-bag Options.BrokerType selects.
func (o *Options) validateBackend() error {
	switch o.BrokerType {
	case BrokerTypeAMQP:
		return o.AMQP.validate()
	case BrokerTypeDistributedLog:
		return o.DistributedLog.validate()
	case BrokerTypeCloudQueue:
		return o.CloudQueue.validate()
	case BrokerTypeCloudServiceBus:
		return o.CloudServiceBus.validate()
	case BrokerTypeLightweight:
		return o.Lightweight.validate()
	case BrokerTypeStreamInStore:
		return o.StreamInStore.validate()
	default:
		return InvalidArgument("BrokerType", "unrecognized broker type")
	}
}
