package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RateLimitDecisions  *prometheus.CounterVec
	RateLimitStoreErrs  prometheus.Counter
	RateLimitCheckTime  prometheus.Histogram
	RateLimitTrackedKey prometheus.Gauge
}

// New registers the limiter metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agegate_ratelimit_decisions_total",
			Help: "Rate limit decisions by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		RateLimitStoreErrs: f.NewCounter(prometheus.CounterOpts{
			Name: "agegate_ratelimit_store_errors_total",
			Help: "Window store errors; each one admitted the request",
		}),
		RateLimitCheckTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agegate_ratelimit_check_duration_seconds",
			Help:    "Time spent in the window store per check",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		RateLimitTrackedKey: f.NewGauge(prometheus.GaugeOpts{
			Name: "agegate_ratelimit_tracked_keys",
			Help: "Keys held by the in-memory window store",
		}),
	}
}

func (m *Metrics) RecordDecision(endpoint string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.RateLimitDecisions.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.RateLimitStoreErrs.Inc()
}

func (m *Metrics) ObserveCheckDuration(seconds float64) {
	if m == nil {
		return
	}
	m.RateLimitCheckTime.Observe(seconds)
}

func (m *Metrics) SetTrackedKeys(n int) {
	if m == nil {
		return
	}
	m.RateLimitTrackedKey.Set(float64(n))
}
