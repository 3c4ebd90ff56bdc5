package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Outcomes      *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	StageLatency  *prometheus.HistogramVec
	QualityScores prometheus.Histogram
	TokensIssued  prometheus.Counter
	PersistErrors prometheus.Counter
}

// New registers the verification metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agegate_verification_decisions_total",
			Help: "Pipeline decisions by resulting status",
		}, []string{"status"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agegate_verification_rejections_total",
			Help: "Submissions stopped before a decision, by kind",
		}, []string{"kind"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agegate_verification_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		QualityScores: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agegate_verification_quality_score",
			Help:    "Laplacian variance of analysed ID photos",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "agegate_verification_tokens_issued_total",
			Help: "Anti-spoofing tokens issued at profile completion",
		}),
		PersistErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "agegate_verification_persist_errors_total",
			Help: "Failures saving a computed verification outcome",
		}),
	}
}

func (m *Metrics) RecordOutcome(status string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRejection(kind string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveQualityScore(score float64) {
	if m == nil {
		return
	}
	m.QualityScores.Observe(score)
}

func (m *Metrics) IncrementTokensIssued() {
	if m == nil {
		return
	}
	m.TokensIssued.Inc()
}

func (m *Metrics) IncrementPersistErrors() {
	if m == nil {
		return
	}
	m.PersistErrors.Inc()
}
