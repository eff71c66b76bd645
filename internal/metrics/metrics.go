// Package metrics exposes the service's Prometheus collectors
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes recorded by ObserveQuery
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "query_failed"
	OutcomeMalformed = "malformed_response"
)

var (
	upstreamQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defectmap",
		Subsystem: "upstream",
		Name:      "queries_total",
		Help:      "Outbound queries to the defect, routing and location services",
	}, []string{"endpoint", "outcome"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "defectmap",
		Subsystem: "upstream",
		Name:      "query_duration_seconds",
		Help:      "Outbound query latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})

	rejectedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defectmap",
		Subsystem: "defects",
		Name:      "rejected_records_total",
		Help:      "Defect records excluded because of invalid severity or position",
	}, []string{"endpoint"})

	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defectmap",
		Subsystem: "advisory",
		Name:      "verdicts_total",
		Help:      "Route advisories computed, by verdict and policy",
	}, []string{"verdict", "policy"})

	staleResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "defectmap",
		Subsystem: "navigator",
		Name:      "stale_responses_discarded_total",
		Help:      "Route queries whose result arrived after a newer query was issued",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "defectmap",
		Subsystem: "navigator",
		Name:      "active_sessions",
		Help:      "Navigator sessions currently held in memory",
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defectmap",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Heat map cache lookups by result",
	}, []string{"result"})

	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "defectmap",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Heat map cache entries by state, as seen by the last sweep before cleanup",
	}, []string{"state"})
)

// ObserveQuery records one outbound query
func ObserveQuery(endpoint, outcome string, elapsed time.Duration) {
	upstreamQueries.WithLabelValues(endpoint, outcome).Inc()
	upstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordRejected counts records dropped from a batch
func RecordRejected(endpoint string, n int) {
	if n > 0 {
		rejectedRecords.WithLabelValues(endpoint).Add(float64(n))
	}
}

// RecordVerdict counts a computed advisory
func RecordVerdict(verdict, policy string) {
	verdicts.WithLabelValues(verdict, policy).Inc()
}

// RecordStaleResponse counts a discarded out-of-order navigator result
func RecordStaleResponse() {
	staleResponses.Inc()
}

// SetActiveSessions reports the navigator session count
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordCacheLookup counts a heat map cache hit or miss
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// SetCacheEntries records the cache population seen by a sweep
func SetCacheEntries(fresh, stale int) {
	cacheEntries.WithLabelValues("fresh").Set(float64(fresh))
	cacheEntries.WithLabelValues("stale").Set(float64(stale))
}

// Handler serves the Prometheus exposition format
func Handler() http.HandlerFunc {
	return promhttp.Handler().ServeHTTP
}
