// Package metrics exposes Prometheus counters for the suite page server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// MetricsNamespace prefixes every metric this package registers.
	MetricsNamespace = "jstool"

	// ResultAccepted labels a stored coverage report or a started instrumenter.
	ResultAccepted = "accepted"
	// ResultRejected labels a refused coverage report or a failed instrumenter start.
	ResultRejected = "rejected"
)

var (
	pagesServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "pages_served_total",
		Help:      "Count of requests answered by a page handler",
	}, []string{
		"handler",
	})

	pagesNotFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "pages_not_found_total",
		Help:      "Count of requests no page handler answered",
	})

	coverageReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "coverage_reports_total",
		Help:      "Count of coverage reports posted by browsers",
	}, []string{
		"result",
	})

	instrumenterStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "instrumenter_starts_total",
		Help:      "Count of instrumenter start outcomes",
	}, []string{
		"result",
	})
)

// RecordPageServed counts a request answered by handler.
func RecordPageServed(handler string) {
	pagesServedTotal.WithLabelValues(handler).Inc()
}

// RecordPageNotFound counts a request that fell through every handler.
func RecordPageNotFound() {
	pagesNotFoundTotal.Inc()
}

// RecordCoverageReport counts a coverage POST with result ResultAccepted or ResultRejected.
func RecordCoverageReport(result string) {
	coverageReportsTotal.WithLabelValues(result).Inc()
}

// RecordInstrumenterStart counts an instrumenter start attempt outcome.
func RecordInstrumenterStart(err error) {
	result := ResultAccepted
	if err != nil {
		result = ResultRejected
	}

	instrumenterStartsTotal.WithLabelValues(result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
