// Package metrics holds the prometheus collectors of the exchange core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spotex"

type Metrics struct {
	registry *prometheus.Registry

	// worker
	Commands    *prometheus.CounterVec
	CommandTime *prometheus.HistogramVec
	InboxDepth  *prometheus.GaugeVec
	Fills       *prometheus.CounterVec
	OpenOrders  *prometheus.GaugeVec

	// snapshots
	Snapshots       *prometheus.CounterVec
	StackDownAlerts *prometheus.CounterVec

	// outbox relay
	OutboxRelayed *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "commands_total",
			Help:      "Commands processed by pair workers.",
		}, []string{"pair", "command", "result"}),
		CommandTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "command_seconds",
			Help:      "Time spent executing one command.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05, .1},
		}, []string{"pair", "command"}),
		InboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "inbox_depth",
			Help:      "Commands waiting in a pair inbox.",
		}, []string{"pair"}),
		Fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills executed.",
		}, []string{"pair"}),
		OpenOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Orders resting in the book.",
		}, []string{"pair"}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Book snapshots emitted.",
		}, []string{"pair"}),
		StackDownAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stack_down_alerts_total",
			Help:      "Alerts raised because a book stopped publishing.",
		}, []string{"pair"}),
		OutboxRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_relayed_total",
			Help:      "Outbox records relayed to the broker.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.Commands, m.CommandTime, m.InboxDepth, m.Fills, m.OpenOrders,
		m.Snapshots, m.StackDownAlerts, m.OutboxRelayed,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
