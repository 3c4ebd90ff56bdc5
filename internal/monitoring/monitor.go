// Package monitoring keeps process-wide verification counters and raises
// alerts on anomalous failure patterns.
//
// All counters are atomics. Alerting only observes; it never changes a
// verification outcome.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"agegate/pkg/platform/privacy"
	"agegate/pkg/requestcontext"
)

const (
	DefaultFailureRateThreshold = 70 // percent
	DefaultMinAttemptsForRate   = 20
	DefaultConsecutiveThreshold = 10
)

// Category is the bucket a failure reason is counted under.
type Category string

const (
	CategoryBlurryPhoto Category = "blurry_photo"
	CategoryOCRFailure  Category = "ocr_failure"
	CategoryRateLimited Category = "rate_limited"
	CategoryBotFailed   Category = "bot_failed"
	CategoryAgeRejected Category = "age_rejected"
	CategoryOther       Category = "other"
)

var classifiers = []struct {
	category Category
	needles  []string
}{
	{CategoryBlurryPhoto, []string{"blur"}},
	{CategoryOCRFailure, []string{"ocr", "birthdate", "extraction"}},
	{CategoryRateLimited, []string{"rate limit"}},
	{CategoryBotFailed, []string{"recaptcha", "bot"}},
	{CategoryAgeRejected, []string{"age", "requirement"}},
}

// Classify maps a free-text failure reason to a Category by case-insensitive
// substring. Categories are checked in order and the first hit wins; age is
// checked last because "age" occurs inside unrelated words.
func Classify(reason string) Category {
	r := strings.ToLower(reason)
	for _, c := range classifiers {
		for _, n := range c.needles {
			if strings.Contains(r, n) {
				return c.category
			}
		}
	}
	return CategoryOther
}

// AlertKind identifies why an alert fired.
type AlertKind string

const (
	AlertHighFailureRate     AlertKind = "high_failure_rate"
	AlertConsecutiveFailures AlertKind = "consecutive_failures"
	AlertRateLimitExceeded   AlertKind = "rate_limit_exceeded"
	AlertBotFailure          AlertKind = "bot_failure"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is handed to every AlertSink.
type Alert struct {
	Kind     AlertKind
	Severity Severity
	Message  string
	At       time.Time
	Snapshot Snapshot
}

// AlertSink delivers alerts. Notify must not block the caller for long.
type AlertSink interface {
	Notify(ctx context.Context, alert Alert)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalAttempts       int64            `json:"total_attempts"`
	Successful          int64            `json:"successful"`
	Failed              int64            `json:"failed"`
	AgeRejected         int64            `json:"age_rejected"`
	OCRFailures         int64            `json:"ocr_failures"`
	BlurryPhotos        int64            `json:"blurry_photos"`
	RateLimited         int64            `json:"rate_limited"`
	BotFailed           int64            `json:"bot_failed"`
	ConsecutiveFailures int64            `json:"consecutive_failures"`
	SuccessRate         int              `json:"success_rate"`
	FailureRate         int              `json:"failure_rate"`
	FailureReasons      map[string]int64 `json:"failure_reasons"`
}

type Monitor struct {
	total       atomic.Int64
	successful  atomic.Int64
	failed      atomic.Int64
	ageRejected atomic.Int64
	ocrFailures atomic.Int64
	blurry      atomic.Int64
	rateLimited atomic.Int64
	botFailed   atomic.Int64
	consecutive atomic.Int64

	reasons sync.Map // string -> *atomic.Int64

	failureRateThreshold int
	minAttempts          int64
	consecutiveThreshold int64

	logger      *slog.Logger
	alertLogger *slog.Logger
	sinks       []AlertSink
}

type Option func(*Monitor)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithAlertSink adds a destination for alerts. May be given more than once.
func WithAlertSink(sink AlertSink) Option {
	return func(m *Monitor) {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
}

// WithThresholds overrides the alert thresholds. Non-positive values keep the defaults.
func WithThresholds(failureRatePercent, minAttempts, consecutive int) Option {
	return func(m *Monitor) {
		if failureRatePercent > 0 {
			m.failureRateThreshold = failureRatePercent
		}
		if minAttempts > 0 {
			m.minAttempts = int64(minAttempts)
		}
		if consecutive > 0 {
			m.consecutiveThreshold = int64(consecutive)
		}
	}
}

func New(opts ...Option) *Monitor {
	m := &Monitor{
		failureRateThreshold: DefaultFailureRateThreshold,
		minAttempts:          DefaultMinAttemptsForRate,
		consecutiveThreshold: DefaultConsecutiveThreshold,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.alertLogger = m.logger.With("log_type", "alert")
	return m
}

// RecordSuccess counts an approved verification and clears the failure streak.
func (m *Monitor) RecordSuccess(ctx context.Context, subjectID string, age int) {
	total := m.total.Add(1)
	m.successful.Add(1)
	m.consecutive.Store(0)

	m.logger.InfoContext(ctx, "verification succeeded",
		"subject_id", subjectID,
		"age", age,
		"total", total,
		"success_rate", m.SuccessRate(),
	)
}

// RecordFailure counts a failed verification under its reason's category,
// extends the failure streak and checks the alert thresholds.
func (m *Monitor) RecordFailure(ctx context.Context, subjectID, reason string) {
	m.total.Add(1)
	m.failed.Add(1)
	consecutive := m.consecutive.Add(1)

	category := Classify(reason)
	if c := m.categoryCounter(category); c != nil {
		c.Add(1)
	}
	m.reasonCounter(reason).Add(1)

	m.logger.WarnContext(ctx, "verification failed",
		"subject_id", subjectID,
		"reason", reason,
		"category", string(category),
		"consecutive_failures", consecutive,
		"failure_rate", m.FailureRate(),
	)

	m.checkAndAlert(ctx)
}

// RecordRateLimitExceeded counts a throttled submission without touching
// the attempt totals.
func (m *Monitor) RecordRateLimitExceeded(ctx context.Context, ip string) {
	n := m.rateLimited.Add(1)
	m.alert(ctx, AlertRateLimitExceeded, SeverityWarning,
		fmt.Sprintf("rate limit exceeded from %s (total: %d)", privacy.AnonymizeIP(ip), n))
}

// RecordBotFailure counts a failed bot check without touching the attempt totals.
func (m *Monitor) RecordBotFailure(ctx context.Context, ip string, score float64) {
	n := m.botFailed.Add(1)
	m.alert(ctx, AlertBotFailure, SeverityWarning,
		fmt.Sprintf("bot check failed from %s, score %.2f (total: %d)", privacy.AnonymizeIP(ip), score, n))
}

// SuccessRate is successes as an integer percentage of attempts, 0 when idle.
func (m *Monitor) SuccessRate() int {
	return percent(m.successful.Load(), m.total.Load())
}

// FailureRate is failures as an integer percentage of attempts, 0 when idle.
func (m *Monitor) FailureRate() int {
	return percent(m.failed.Load(), m.total.Load())
}

func (m *Monitor) Snapshot() Snapshot {
	reasons := make(map[string]int64)
	m.reasons.Range(func(k, v any) bool {
		reasons[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return Snapshot{
		TotalAttempts:       m.total.Load(),
		Successful:          m.successful.Load(),
		Failed:              m.failed.Load(),
		AgeRejected:         m.ageRejected.Load(),
		OCRFailures:         m.ocrFailures.Load(),
		BlurryPhotos:        m.blurry.Load(),
		RateLimited:         m.rateLimited.Load(),
		BotFailed:           m.botFailed.Load(),
		ConsecutiveFailures: m.consecutive.Load(),
		SuccessRate:         m.SuccessRate(),
		FailureRate:         m.FailureRate(),
		FailureReasons:      reasons,
	}
}

// Summary renders the snapshot for logs and the ops CLI.
func (m *Monitor) Summary() string {
	s := m.Snapshot()
	var b strings.Builder
	b.WriteString("ID verification metrics\n")
	fmt.Fprintf(&b, "  total attempts:  %d\n", s.TotalAttempts)
	fmt.Fprintf(&b, "  successful:      %d\n", s.Successful)
	fmt.Fprintf(&b, "  failed:          %d\n", s.Failed)
	fmt.Fprintf(&b, "  success rate:    %d%%\n", s.SuccessRate)
	b.WriteString("failure breakdown\n")
	fmt.Fprintf(&b, "  age rejected:    %d\n", s.AgeRejected)
	fmt.Fprintf(&b, "  ocr failures:    %d\n", s.OCRFailures)
	fmt.Fprintf(&b, "  blurry photos:   %d\n", s.BlurryPhotos)
	fmt.Fprintf(&b, "  rate limited:    %d\n", s.RateLimited)
	fmt.Fprintf(&b, "  bot failed:      %d\n", s.BotFailed)

	if len(s.FailureReasons) > 0 {
		b.WriteString("top failure reasons\n")
		reasons := make([]string, 0, len(s.FailureReasons))
		for r := range s.FailureReasons {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool {
			ci, cj := s.FailureReasons[reasons[i]], s.FailureReasons[reasons[j]]
			if ci != cj {
				return ci > cj
			}
			return reasons[i] < reasons[j]
		})
		for _, r := range reasons {
			fmt.Fprintf(&b, "  %5d  %s\n", s.FailureReasons[r], r)
		}
	}
	return b.String()
}

// Reset zeroes every counter.
func (m *Monitor) Reset(ctx context.Context) {
	for _, c := range []*atomic.Int64{
		&m.total, &m.successful, &m.failed, &m.ageRejected, &m.ocrFailures,
		&m.blurry, &m.rateLimited, &m.botFailed, &m.consecutive,
	} {
		c.Store(0)
	}
	m.reasons.Clear()
	m.logger.InfoContext(ctx, "verification metrics reset")
}

func (m *Monitor) categoryCounter(c Category) *atomic.Int64 {
	switch c {
	case CategoryAgeRejected:
		return &m.ageRejected
	case CategoryOCRFailure:
		return &m.ocrFailures
	case CategoryBlurryPhoto:
		return &m.blurry
	case CategoryRateLimited:
		return &m.rateLimited
	case CategoryBotFailed:
		return &m.botFailed
	}
	return nil
}

func (m *Monitor) reasonCounter(reason string) *atomic.Int64 {
	if v, ok := m.reasons.Load(reason); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.reasons.LoadOrStore(reason, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (m *Monitor) checkAndAlert(ctx context.Context) {
	total := m.total.Load()
	rate := m.FailureRate()
	if total >= m.minAttempts && rate >= m.failureRateThreshold {
		m.alert(ctx, AlertHighFailureRate, SeverityCritical,
			fmt.Sprintf("high failure rate detected: %d%% (threshold: %d%%)", rate, m.failureRateThreshold))
	}

	if consecutive := m.consecutive.Load(); consecutive >= m.consecutiveThreshold {
		m.alert(ctx, AlertConsecutiveFailures, SeverityCritical,
			fmt.Sprintf("%d consecutive verification failures detected", consecutive))
	}
}

func (m *Monitor) alert(ctx context.Context, kind AlertKind, severity Severity, msg string) {
	level := slog.LevelWarn
	if severity == SeverityCritical {
		level = slog.LevelError
	}
	m.alertLogger.Log(ctx, level, msg, "alert_kind", string(kind))

	if len(m.sinks) == 0 {
		return
	}
	a := Alert{
		Kind:     kind,
		Severity: severity,
		Message:  msg,
		At:       requestcontext.Now(ctx),
		Snapshot: m.Snapshot(),
	}
	for _, s := range m.sinks {
		s.Notify(ctx, a)
	}
}

func percent(part, total int64) int {
	if total == 0 {
		return 0
	}
	return int(part * 100 / total)
}
