package streamstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives store instrumentation. The zero-cost NopMetrics is used
// unless WithMetrics is given.
type Metrics interface {
	AppendObserved(stream string, events int, d time.Duration)
	EventDelivered(subscription string, live bool)
	SubscriptionLag(subscription string, lag uint64)
	SnapshotObserved(op string)
}

// NopMetrics discards all instrumentation
type NopMetrics struct{}

func (NopMetrics) AppendObserved(string, int, time.Duration) {}
func (NopMetrics) EventDelivered(string, bool)               {}
func (NopMetrics) SubscriptionLag(string, uint64)            {}
func (NopMetrics) SnapshotObserved(string)                   {}

// PrometheusMetrics exports store instrumentation through a prometheus
// registerer
type PrometheusMetrics struct {
	appendDuration *prometheus.HistogramVec
	appendedEvents *prometheus.CounterVec
	delivered      *prometheus.CounterVec
	lag            *prometheus.GaugeVec
	snapshots      *prometheus.CounterVec
}

// NewPrometheusMetrics constructs and registers store metrics with reg
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamstore",
			Name:      "append_duration_seconds",
			Help:      "Duration of stream append operations.",
		}, []string{"stream"}),
		appendedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamstore",
			Name:      "appended_events_total",
			Help:      "Number of events appended per stream.",
		}, []string{"stream"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamstore",
			Name:      "delivered_events_total",
			Help:      "Number of events delivered to subscriptions.",
		}, []string{"subscription", "mode"}),
		lag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamstore",
			Name:      "subscription_lag",
			Help:      "Positions between a subscription and the log tail.",
		}, []string{"subscription"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamstore",
			Name:      "snapshot_operations_total",
			Help:      "Number of snapshot operations by kind.",
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{
		m.appendDuration,
		m.appendedEvents,
		m.delivered,
		m.lag,
		m.snapshots,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// AppendObserved records a successful append
func (m *PrometheusMetrics) AppendObserved(stream string, events int, d time.Duration) {
	m.appendDuration.WithLabelValues(stream).Observe(d.Seconds())
	m.appendedEvents.WithLabelValues(stream).Add(float64(events))
}

// EventDelivered records a delivery to a durable subscription
func (m *PrometheusMetrics) EventDelivered(subscription string, live bool) {
	mode := "catchup"
	if live {
		mode = "live"
	}

	m.delivered.WithLabelValues(subscription, mode).Inc()
}

// SubscriptionLag records how far a subscription trails the log tail
func (m *PrometheusMetrics) SubscriptionLag(subscription string, lag uint64) {
	m.lag.WithLabelValues(subscription).Set(float64(lag))
}

// SnapshotObserved records a snapshot operation
func (m *PrometheusMetrics) SnapshotObserved(op string) {
	m.snapshots.WithLabelValues(op).Inc()
}
