package memhost

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the host's Prometheus metrics.
type Metrics struct {
	CacheLookups   *prometheus.CounterVec
	CollapsedWaits prometheus.Counter
	CacheInserts   *prometheus.CounterVec
	Purges         *prometheus.CounterVec
	KVOperations   *prometheus.CounterVec
	BackendSends   *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
}

// NewMetrics registers and returns the host metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_cache_lookups_total",
			Help: "Cache lookups by kind and outcome.",
		}, []string{"kind", "result"}),
		CollapsedWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_cache_collapsed_waits_total",
			Help: "Transaction lookups that waited on another caller's refresh.",
		}),
		CacheInserts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_cache_writes_total",
			Help: "Cache writes by operation.",
		}, []string{"op"}),
		Purges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_purges_total",
			Help: "Surrogate key purges by mode.",
		}, []string{"mode"}),
		KVOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_kv_operations_total",
			Help: "KV store operations by store, operation and outcome.",
		}, []string{"store", "op", "result"}),
		BackendSends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_backend_requests_total",
			Help: "Backend requests by backend and outcome.",
		}, []string{"backend", "result"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_rate_limited_total",
			Help: "Rate checks that put an entry in a penalty box.",
		}, []string{"ratecounter"}),
	}
}

func (m *Metrics) lookup(kind, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) collapsed() {
	if m == nil {
		return
	}
	m.CollapsedWaits.Inc()
}

func (m *Metrics) write(op string) {
	if m == nil {
		return
	}
	m.CacheInserts.WithLabelValues(op).Inc()
}

func (m *Metrics) purge(soft bool) {
	if m == nil {
		return
	}
	mode := "hard"
	if soft {
		mode = "soft"
	}
	m.Purges.WithLabelValues(mode).Inc()
}

func (m *Metrics) kvOp(store, op string, err error) {
	if m == nil {
		return
	}
	m.KVOperations.WithLabelValues(store, op, outcome(err)).Inc()
}

func (m *Metrics) backend(name string, err error) {
	if m == nil {
		return
	}
	m.BackendSends.WithLabelValues(name, outcome(err)).Inc()
}

func (m *Metrics) limited(rc string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(rc).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
