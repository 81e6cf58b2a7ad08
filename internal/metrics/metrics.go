package metrics

import (
	"net/http"

	"dmchat/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects connection lifecycle counters. Room keys are unbounded,
// so none of the series carry a room label.
type Registry struct {
	reg *prometheus.Registry

	joins          prometheus.Counter
	rejected       prometheus.Counter
	leaves         prometheus.Counter
	delivered      prometheus.Counter
	deliveryFailed prometheus.Counter
	active         prometheus.Gauge
}

var _ ws.Observer = (*Registry)(nil)

func New() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmchat", Subsystem: "ws", Name: "joins_total",
			Help: "Connections admitted into a room.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmchat", Subsystem: "ws", Name: "joins_rejected_total",
			Help: "Join attempts refused because the room was full.",
		}),
		leaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmchat", Subsystem: "ws", Name: "leaves_total",
			Help: "Connections removed from their room.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmchat", Subsystem: "ws", Name: "frames_delivered_total",
			Help: "Frames queued to room members.",
		}),
		deliveryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dmchat", Subsystem: "ws", Name: "delivery_failures_total",
			Help: "Per-member deliveries that failed and evicted the member.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dmchat", Subsystem: "ws", Name: "active_connections",
			Help: "Connections currently holding a room membership.",
		}),
	}
	m.reg.MustRegister(
		m.joins, m.rejected, m.leaves, m.delivered, m.deliveryFailed, m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Registry) Joined(string) {
	m.joins.Inc()
	m.active.Inc()
}

func (m *Registry) Rejected(string) { m.rejected.Inc() }

func (m *Registry) Left(string) {
	m.leaves.Inc()
	m.active.Dec()
}

func (m *Registry) Delivered(_ string, n int) { m.delivered.Add(float64(n)) }

func (m *Registry) DeliveryFailed(string) { m.deliveryFailed.Inc() }

// Handler exposes the metrics at /metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
