package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder with prometheus.New* metric
// vectors registered explicitly against a caller-supplied Registerer.
type PrometheusRecorder struct {
	messagesPublished *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	messagesFailed    *prometheus.CounterVec
	publishDuration   *prometheus.HistogramVec
	processDuration   *prometheus.HistogramVec
	payloadSize       *prometheus.HistogramVec
	circuitState      *prometheus.GaugeVec
	connectionsActive prometheus.Gauge
	queueSize         prometheus.Gauge
}

// NewPrometheusRecorder constructs and registers a PrometheusRecorder
// against reg. Pass prometheus.DefaultRegisterer for the global
// registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMessagesPublished,
			Help: "Total number of messages published through the broker.",
		}, []string{"destination", "type"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMessagesReceived,
			Help: "Total number of messages received from a subscription.",
		}, []string{"destination", "type"}),
		messagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMessagesFailed,
			Help: "Total number of publish or processing failures.",
		}, []string{"destination", "operation"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricPublishDuration,
			Help:    "Duration of publish calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"destination"}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricProcessDuration,
			Help:    "Duration of handler processing for a received message.",
			Buckets: prometheus.DefBuckets,
		}, []string{"destination"}),
		payloadSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricPayloadSize,
			Help:    "Serialized message payload size in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"destination"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricCircuitBreakerState,
			Help: "Circuit breaker state; set to 1 when the breaker opens and not reset afterwards.",
		}, []string{"destination"}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricConnectionsActive,
			Help: "Current number of active backend connections.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricQueueSize,
			Help: "Current depth of the internal batching/dispatch queue.",
		}),
	}

	reg.MustRegister(
		r.messagesPublished, r.messagesReceived, r.messagesFailed,
		r.publishDuration, r.processDuration, r.payloadSize,
		r.circuitState, r.connectionsActive, r.queueSize,
	)
	return r
}

func (r *PrometheusRecorder) RecordPublish(attrs Attributes, payloadSize int, duration time.Duration, err error) {
	r.messagesPublished.WithLabelValues(attrs.MessagingDestination, attrs.MessageType).Inc()
	r.publishDuration.WithLabelValues(attrs.MessagingDestination).Observe(duration.Seconds())
	r.payloadSize.WithLabelValues(attrs.MessagingDestination).Observe(float64(payloadSize))
	if err != nil {
		r.messagesFailed.WithLabelValues(attrs.MessagingDestination, "publish").Inc()
	}
}

func (r *PrometheusRecorder) RecordReceive(attrs Attributes, payloadSize int) {
	r.messagesReceived.WithLabelValues(attrs.MessagingDestination, attrs.MessageType).Inc()
	r.payloadSize.WithLabelValues(attrs.MessagingDestination).Observe(float64(payloadSize))
}

func (r *PrometheusRecorder) RecordProcessed(attrs Attributes, duration time.Duration, err error) {
	r.processDuration.WithLabelValues(attrs.MessagingDestination).Observe(duration.Seconds())
	if err != nil {
		r.messagesFailed.WithLabelValues(attrs.MessagingDestination, "process").Inc()
	}
}

func (r *PrometheusRecorder) RecordCircuitOpened(attrs Attributes) {
	r.circuitState.WithLabelValues(attrs.MessagingDestination).Set(1)
}

// SetConnectionsActive and SetQueueSize set gauge-shaped state that isn't
// tied to a single call's Attributes. They are not part of Recorder, and
// the broker does not call them.
func (r *PrometheusRecorder) SetConnectionsActive(n float64) { r.connectionsActive.Set(n) }
func (r *PrometheusRecorder) SetQueueSize(n float64)         { r.queueSize.Set(n) }
