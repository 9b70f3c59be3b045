package metrics

import "github.com/prometheus/client_golang/prometheus"

// Delivery outcomes for relayed outbox events.
const (
	DeliveryPublished    = "published"
	DeliveryRetry        = "retry"
	DeliveryDeadLettered = "dead_lettered"
)

// NotificationMetrics counts outbox relay deliveries per event type.
type NotificationMetrics struct {
	deliveries *prometheus.CounterVec
	batchSize  prometheus.Histogram
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	m := &NotificationMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_notification_deliveries_total",
			Help: "Outbox events relayed to Pub/Sub by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "library_notification_batch_rows",
			Help:    "Outbox rows claimed per relay batch.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	reg.MustRegister(m.deliveries, m.batchSize)
	return m
}

func (m *NotificationMetrics) IncDelivery(eventType, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *NotificationMetrics) ObserveBatch(rows int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(rows))
}
