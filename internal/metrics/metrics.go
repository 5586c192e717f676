// Package metrics holds the Prometheus collectors shared by taskd, the
// notifier and nsq-monitor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TaskOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_task_operations_total",
			Help: "Task service operations by operation and result.",
		},
		[]string{"op", "result"}, // result: ok, not_found, invalid, error
	)

	TaskOperationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmanager_task_operation_seconds",
			Help:    "Task service operation latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_events_published_total",
			Help: "Events handed to the channel by topic and result.",
		},
		[]string{"topic", "result"},
	)

	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_consumer_batches_total",
			Help: "Consumed batches by terminal outcome.",
		},
		[]string{"outcome"}, // acked, skipped, released
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_dispatches_total",
			Help: "Notification dispatch attempts by dispatcher and result.",
		},
		[]string{"dispatcher", "result"},
	)

	DispatchLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmanager_dispatch_latency_seconds",
			Help:    "Notification dispatch latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		},
		[]string{"dispatcher"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_retries_total",
			Help: "Batch redeliveries by failure reason.",
		},
		[]string{"reason"}, // e.g. smtp, http_5xx, timeout, network, other
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_dlq_total",
			Help: "Envelopes dead-lettered by reason.",
		},
		[]string{"reason"},
	)

	ConsumerBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmanager_consumer_backlog",
			Help: "Depth of the status topic channel read by the notifier, as reported by nsqd.",
		},
	)

	NSQChannelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmanager_nsq_channel_depth",
			Help: "Queued messages per NSQ topic and channel.",
		},
		[]string{"topic", "channel"},
	)

	NSQChannelInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmanager_nsq_channel_in_flight",
			Help: "In-flight messages per NSQ topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

// MustRegister registers every collector on reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		TaskOperationsTotal,
		TaskOperationSeconds,
		EventsPublishedTotal,
		BatchesTotal,
		DispatchesTotal,
		DispatchLatencySeconds,
		RetriesTotal,
		DLQTotal,
		ConsumerBacklog,
		NSQChannelDepth,
		NSQChannelInFlight,
	)
}

func RecordTaskOperation(op, result string, d time.Duration) {
	TaskOperationsTotal.WithLabelValues(op, result).Inc()
	TaskOperationSeconds.WithLabelValues(op).Observe(d.Seconds())
}

func RecordEventPublished(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublishedTotal.WithLabelValues(topic, result).Inc()
}

func RecordBatch(outcome string) {
	BatchesTotal.WithLabelValues(outcome).Inc()
}

func RecordDispatch(dispatcher string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DispatchesTotal.WithLabelValues(dispatcher, result).Inc()
	DispatchLatencySeconds.WithLabelValues(dispatcher).Observe(d.Seconds())
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

func UpdateConsumerBacklog(n float64) {
	ConsumerBacklog.Set(n)
}

func UpdateNSQChannel(topic, channel string, depth, inFlight float64) {
	NSQChannelDepth.WithLabelValues(topic, channel).Set(depth)
	NSQChannelInFlight.WithLabelValues(topic, channel).Set(inFlight)
}
