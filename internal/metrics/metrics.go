// Package metrics exposes panel activity for Prometheus on the extension
// server's /metrics path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to ragex so tests and the default registry stay isolated.
var Registry = prometheus.NewRegistry()

var (
	Scans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragex",
		Name:      "scans_total",
		Help:      "Connect operations by outcome (ok, default_analysis, error, rejected).",
	}, []string{"result"})

	Queries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragex",
		Name:      "queries_total",
		Help:      "Send operations by outcome (ok, error, rejected).",
	}, []string{"result"})

	QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ragex",
		Name:      "query_duration_seconds",
		Help:      "Wall time of query round trips.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ragex",
		Name:      "sessions",
		Help:      "Number of panel sessions.",
	})

	ExtensionConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ragex",
		Name:      "extension_connected",
		Help:      "1 while a browser extension is connected.",
	})
)

func init() {
	Registry.MustRegister(Scans, Queries, QueryDuration, Sessions, ExtensionConnected)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
