package monitoring

import "github.com/prometheus/client_golang/prometheus"

// Collector exports a Monitor's counters at scrape time.
type Collector struct {
	monitor *Monitor

	attempts    *prometheus.Desc
	outcomes    *prometheus.Desc
	failures    *prometheus.Desc
	consecutive *prometheus.Desc
	successRate *prometheus.Desc
}

func NewCollector(m *Monitor) *Collector {
	return &Collector{
		monitor: m,
		attempts: prometheus.NewDesc("agegate_verification_attempts_total",
			"Verification attempts recorded since the last reset", nil, nil),
		outcomes: prometheus.NewDesc("agegate_verification_outcomes_total",
			"Verification attempts by outcome", []string{"outcome"}, nil),
		failures: prometheus.NewDesc("agegate_verification_failures_by_category_total",
			"Failures and abuse signals by category", []string{"category"}, nil),
		consecutive: prometheus.NewDesc("agegate_verification_consecutive_failures",
			"Current run of failures without a success", nil, nil),
		successRate: prometheus.NewDesc("agegate_verification_success_rate_percent",
			"Successes as a percentage of attempts", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.attempts
	ch <- c.outcomes
	ch <- c.failures
	ch <- c.consecutive
	ch <- c.successRate
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.monitor.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(s.TotalAttempts))
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(s.Successful), "success")
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(s.Failed), "failure")

	for category, v := range map[Category]int64{
		CategoryAgeRejected: s.AgeRejected,
		CategoryOCRFailure:  s.OCRFailures,
		CategoryBlurryPhoto: s.BlurryPhotos,
		CategoryRateLimited: s.RateLimited,
		CategoryBotFailed:   s.BotFailed,
	} {
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(v), string(category))
	}

	ch <- prometheus.MustNewConstMetric(c.consecutive, prometheus.GaugeValue, float64(s.ConsecutiveFailures))
	ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, float64(s.SuccessRate))
}
