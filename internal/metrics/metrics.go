// Package metrics exposes the core's Prometheus instrumentation: REST
// rate-limit weight usage and 429s, throttle pass/block decisions, cached
// facade hit ratio, and crawler iteration outcomes. Grounded on the
// teacher's internal/interfaces/http.MetricsRegistry (one struct of
// pre-registered collectors, handed to callers rather than reached through
// a package-level singleton, per the "never reach through a module-level
// singleton" design note in spec §9).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector the core's components record against.
// One Registry is built at process start and passed explicitly into the
// rate-limit layer, the throttler, the cached facade, and the crawler.
type Registry struct {
	RESTRequests     *prometheus.CounterVec
	RESTRetries429   *prometheus.CounterVec
	RESTWeightUsed   *prometheus.GaugeVec
	RESTWaitSeconds  *prometheus.HistogramVec

	ThrottlePasses *prometheus.CounterVec
	ThrottleBlocks *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	CrawlerIterations *prometheus.CounterVec
	CrawlerArtifacts  *prometheus.CounterVec
}

// NewRegistry builds and registers every collector against reg (typically
// prometheus.DefaultRegisterer; tests pass a fresh prometheus.NewRegistry()
// so repeated construction in the same process doesn't panic on duplicate
// registration).
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		RESTRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_rest_requests_total",
			Help: "Total REST calls issued through the rate-limit layer, by exchange/kind/result.",
		}, []string{"exchange", "kind", "result"}),

		RESTRetries429: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_rest_429_retries_total",
			Help: "Total HTTP 429 backoff retries, by exchange/kind.",
		}, []string{"exchange", "kind"}),

		RESTWeightUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestor_rest_weight_used",
			Help: "Weight consumed in the current sliding 60s window, by exchange/kind.",
		}, []string{"exchange", "kind"}),

		RESTWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestor_rest_precall_wait_seconds",
			Help:    "Time spent blocked in the rate-limit layer's pre-call wait.",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"exchange", "kind"}),

		ThrottlePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_throttle_passes_total",
			Help: "Throttler.MayPass decisions that returned true, by connector class and tag.",
		}, []string{"class", "tag"}),

		ThrottleBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_throttle_blocks_total",
			Help: "Throttler.MayPass decisions that returned false, by connector class and tag.",
		}, []string{"class", "tag"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_cache_hits_total",
			Help: "Cached-facade reads served from the cache, by exchange/kind/method.",
		}, []string{"exchange", "kind", "method"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_cache_misses_total",
			Help: "Cached-facade reads that fell through to the wrapped connector, by exchange/kind/method.",
		}, []string{"exchange", "kind", "method"}),

		CrawlerIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_crawler_iterations_total",
			Help: "Crawler iteration terminal statuses, by exchange/kind/status.",
		}, []string{"exchange", "kind", "status"}),

		CrawlerArtifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_crawler_artifacts_total",
			Help: "Crawler artifact fetch outcomes, by exchange/kind/artifact/result.",
		}, []string{"exchange", "kind", "artifact", "result"}),
	}

	reg.MustRegister(
		m.RESTRequests, m.RESTRetries429, m.RESTWeightUsed, m.RESTWaitSeconds,
		m.ThrottlePasses, m.ThrottleBlocks,
		m.CacheHits, m.CacheMisses,
		m.CrawlerIterations, m.CrawlerArtifacts,
	)
	return m
}

// PreCallWaitTimer starts a timer for the rate-limit layer's pre-call wait;
// call the returned func when the wait (successful or not) completes.
func (m *Registry) PreCallWaitTimer(exchange, kind string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.RESTWaitSeconds.WithLabelValues(exchange, kind).Observe(time.Since(start).Seconds())
	}
}
