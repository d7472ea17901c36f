package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Miss reasons recorded on skillctx_cache_misses_total.
const (
	missAbsent    = "absent"
	missExpired   = "expired"
	missMalformed = "malformed"
)

// Metrics holds Prometheus metrics for the guide cache and session tracker.
type Metrics struct {
	HitsTotal       prometheus.Counter
	MissesTotal     *prometheus.CounterVec
	EvictionsTotal  prometheus.Counter
	Size            prometheus.Gauge
	CharsSavedTotal prometheus.Counter

	ActiveSessions  prometheus.Gauge
	InjectionsTotal prometheus.Counter
}

// NewMetrics registers the cache metrics once per process.
//
// Metrics:
//   - skillctx_cache_hits_total
//   - skillctx_cache_misses_total{reason}
//   - skillctx_cache_evictions_total
//   - skillctx_cache_size
//   - skillctx_cache_chars_saved_total
//   - skillctx_sessions_active
//   - skillctx_session_injections_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			HitsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "skillctx_cache_hits_total",
				Help: "Total number of compressed guide cache hits",
			}),
			MissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "skillctx_cache_misses_total",
				Help: "Total number of compressed guide cache misses",
			}, []string{"reason"}),
			EvictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "skillctx_cache_evictions_total",
				Help: "Entries evicted because the cache was full",
			}),
			Size: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "skillctx_cache_size",
				Help: "Current number of cached guides",
			}),
			CharsSavedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "skillctx_cache_chars_saved_total",
				Help: "Characters of compression work skipped by cache hits",
			}),
			ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "skillctx_sessions_active",
				Help: "Sessions with at least one full guide injection",
			}),
			InjectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "skillctx_session_injections_total",
				Help: "First-time full guide injections",
			}),
		}
	})
	return globalMetrics
}

func (m *Metrics) recordHit(chars int) {
	if m == nil {
		return
	}
	m.HitsTotal.Inc()
	m.CharsSavedTotal.Add(float64(chars))
}

func (m *Metrics) recordMiss(reason string) {
	if m == nil {
		return
	}
	m.MissesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordEviction() {
	if m == nil {
		return
	}
	m.EvictionsTotal.Inc()
}

func (m *Metrics) setSize(n int) {
	if m == nil {
		return
	}
	m.Size.Set(float64(n))
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) recordInjection() {
	if m == nil {
		return
	}
	m.InjectionsTotal.Inc()
}
