package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Analytics counts engine events as Prometheus metrics. It implements
// service.Analytics, alongside the log sink.
type Analytics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
	pending  prometheus.Gauge
}

// NewAnalytics builds a sink with its own registry.
func NewAnalytics() *Analytics {
	registry := prometheus.NewRegistry()

	a := &Analytics{
		registry: registry,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_events_total",
			Help: "Engine transitions by event name.",
		}, []string{"event"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_event_failures_total",
			Help: "Engine transitions that carried an error.",
		}, []string{"event"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cartsync_queue_pending",
			Help: "Offline operations still waiting to sync after the last drain.",
		}),
	}

	registry.MustRegister(a.events, a.failures, a.pending)
	return a
}

// Track records one engine event.
func (a *Analytics) Track(event string, fields map[string]interface{}) {
	a.events.WithLabelValues(event).Inc()

	if _, failed := fields["error"]; failed {
		a.failures.WithLabelValues(event).Inc()
	}

	if pending, ok := fields["pending"].(int); ok {
		a.pending.Set(float64(pending))
	}
}

// Handler exposes the registry for scraping.
func (a *Analytics) Handler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}
