package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups producer and consumer instrumentation.
type Metrics struct {
	Published     *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec
	Received      *prometheus.CounterVec
	Processed     *prometheus.CounterVec
	Failed        *prometheus.CounterVec
	Duplicates    *prometheus.CounterVec
	DeadLettered  *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// NewMetrics registers the kafka metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	consumer := []string{"topic", "consumer_group"}
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_producer_messages_published_total",
			Help: "Messages published.",
		}, []string{"topic"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_producer_publish_errors_total",
			Help: "Publish failures.",
		}, []string{"topic"}),
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_received_total",
			Help: "Messages fetched from the broker.",
		}, consumer),
		Processed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_processed_total",
			Help: "Messages handled successfully.",
		}, consumer),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_failed_total",
			Help: "Messages that exhausted their retries.",
		}, consumer),
		Duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_duplicate_total",
			Help: "Messages skipped by the idempotency guard.",
		}, consumer),
		DeadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_dlq_published_total",
			Help: "Messages forwarded to a dead-letter topic.",
		}, consumer),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kafka_consumer_processing_duration_seconds",
			Help:    "Handler latency.",
			Buckets: prometheus.DefBuckets,
		}, consumer),
	}
}
