package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the handler's Prometheus metrics.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers and returns the handler metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_http_requests_total",
			Help: "Requests served by cache result and status code.",
		}, []string{"cache", "code"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edgecache_http_request_duration_seconds",
			Help:    "Request latency by cache result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache"}),
	}
}

func (m *Metrics) observe(result string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(result, statusLabel(code)).Inc()
	m.Duration.WithLabelValues(result).Observe(d.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
