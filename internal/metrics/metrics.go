package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the portal's Prometheus collectors.
type Metrics struct {
	ListFetches    *prometheus.CounterVec
	StaleResponses *prometheus.CounterVec
	ReceiptFetches *prometheus.CounterVec
	ObjectURLs     prometheus.Gauge
	Workspaces     prometheus.Gauge
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ListFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "list_fetches_total",
			Help:      "Payment list fetches by view and outcome.",
		}, []string{"view", "outcome"}),
		StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "stale_responses_total",
			Help:      "Responses discarded because a newer request superseded them.",
		}, []string{"kind"}),
		ReceiptFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "receipt_fetches_total",
			Help:      "Receipt file downloads by outcome.",
		}, []string{"outcome"}),
		ObjectURLs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Name:      "object_urls_live",
			Help:      "Receipt object URLs created and not yet revoked.",
		}),
		Workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Name:      "workspaces_live",
			Help:      "Signed-in browser sessions held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ListFetches, m.StaleResponses, m.ReceiptFetches, m.ObjectURLs, m.Workspaces)
	}
	return m
}

// Discard returns unregistered collectors, for tests and tools.
func Discard() *Metrics {
	return New(nil)
}
