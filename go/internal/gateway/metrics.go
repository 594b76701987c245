package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector observes gateway connection and broadcast activity
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	EventBroadcast(eventType string, connections int)
	EventDropped(eventType string)
}

// NoOpMetricsCollector discards all observations
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) ConnectionOpened()                   {}
func (NoOpMetricsCollector) ConnectionClosed()                   {}
func (NoOpMetricsCollector) EventBroadcast(string, int)          {}
func (NoOpMetricsCollector) EventDropped(string)                 {}

// PrometheusMetrics implements MetricsCollector on a Prometheus registry
type PrometheusMetrics struct {
	connections     prometheus.Gauge
	eventsBroadcast *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	fanout          prometheus.Histogram
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tabsy_gateway_connections",
			Help: "Currently open WebSocket connections",
		}),
		eventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabsy_gateway_events_broadcast_total",
			Help: "Events broadcast to session rooms",
		}, []string{"event_type"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabsy_gateway_events_dropped_total",
			Help: "Events dropped because the broadcast channel was full",
		}, []string{"event_type"}),
		fanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabsy_gateway_event_fanout",
			Help:    "Connections reached per broadcast event",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
	}
}

func (m *PrometheusMetrics) ConnectionOpened() {
	m.connections.Inc()
}

func (m *PrometheusMetrics) ConnectionClosed() {
	m.connections.Dec()
}

func (m *PrometheusMetrics) EventBroadcast(eventType string, connections int) {
	m.eventsBroadcast.WithLabelValues(eventType).Inc()
	m.fanout.Observe(float64(connections))
}

func (m *PrometheusMetrics) EventDropped(eventType string) {
	m.eventsDropped.WithLabelValues(eventType).Inc()
}
