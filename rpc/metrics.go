package rpc

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the small counter/gauge surface the Reactor updates as
// connections and transfers come and go, registered once per Reactor the
// same way the teacher instruments its own connection/chunk counters.
type Metrics struct {
	ClientsConnected prometheus.Gauge
	TransfersOpen    prometheus.Gauge
	TokensIssued     prometheus.Counter
	PicksServed      prometheus.Counter
	ClientErrors     prometheus.Counter
}

// NewMetrics allocates and registers a fresh Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tormenta",
			Subsystem: "rpc",
			Name:      "clients_connected",
			Help:      "Number of currently upgraded WebSocket control clients.",
		}),
		TransfersOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tormenta",
			Subsystem: "rpc",
			Name:      "transfers_open",
			Help:      "Number of in-flight HTTP upload transfers.",
		}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tormenta",
			Subsystem: "rpc",
			Name:      "tokens_issued_total",
			Help:      "Total number of upload tokens issued.",
		}),
		PicksServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tormenta",
			Subsystem: "picker",
			Name:      "picks_served_total",
			Help:      "Total number of pieces returned by Picker.Pick.",
		}),
		ClientErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tormenta",
			Subsystem: "rpc",
			Name:      "client_errors_total",
			Help:      "Total number of clients disconnected due to a protocol or IO error.",
		}),
	}
	reg.MustRegister(m.ClientsConnected, m.TransfersOpen, m.TokensIssued, m.PicksServed, m.ClientErrors)
	return m
}
