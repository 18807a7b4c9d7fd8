// Package metrics exposes Prometheus instrumentation for the trading node.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the node's Prometheus collectors.
type Metrics struct {
	TradesAdmitted   prometheus.Counter
	TradesRejected   *prometheus.CounterVec // partitioned by rejection reason
	FillsApplied     prometheus.Counter
	CurveFailures    prometheus.Counter
	PostsCreated     prometheus.Counter
	ClientsConnected prometheus.Gauge
}

// New registers and returns the node metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TradesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curvefeed_trades_admitted_total",
			Help: "Trades that passed commit-time admission.",
		}),
		TradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curvefeed_trades_rejected_total",
			Help: "Trades rejected at commit time, by reason.",
		}, []string{"reason"}),
		FillsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curvefeed_fills_applied_total",
			Help: "Fills applied to the ledger.",
		}),
		CurveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curvefeed_curve_failures_total",
			Help: "Bonding curve evaluations that produced a non-finite result.",
		}),
		PostsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curvefeed_posts_created_total",
			Help: "Posts (markets) created.",
		}),
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "curvefeed_ws_clients",
			Help: "Currently connected websocket clients.",
		}),
	}
	reg.MustRegister(
		m.TradesAdmitted,
		m.TradesRejected,
		m.FillsApplied,
		m.CurveFailures,
		m.PostsCreated,
		m.ClientsConnected,
	)
	return m
}
