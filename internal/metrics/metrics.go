package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Generation metrics
	GenerationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkgen_generation_attempts_total",
			Help: "Remote generation attempts by outcome (success or error kind)",
		},
		[]string{"outcome"},
	)

	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkgen_generations_total",
			Help: "Finished generations by origin",
		},
		[]string{"origin"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sparkgen_generation_duration_seconds",
			Help:    "Wall time of a generate call including retries and fallback",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConnectionQuality = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sparkgen_connection_quality",
			Help: "Current connection quality (0 excellent, 1 good, 2 poor, 3 offline)",
		},
	)

	// Cache metrics
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkgen_cache_lookups_total",
			Help: "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	CacheLoads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sparkgen_cache_loads_total",
			Help: "Populations run through the single-flight group",
		},
	)

	// Store metrics
	StoreSaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sparkgen_store_save_failures_total",
			Help: "Messages or records that could not be persisted",
		},
	)
)

func init() {
	prometheus.MustRegister(GenerationAttempts)
	prometheus.MustRegister(Generations)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(ConnectionQuality)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(CacheLoads)
	prometheus.MustRegister(StoreSaveFailures)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
