// Package service runs the ID verification pipeline.
//
// A submission passes, in order: rate limit, bot check, anti-spoofing token,
// photo validation, sharpness gate, OCR and birthdate extraction, and the
// age decision. Checks before photo validation reject the submission without
// touching the subject. Later stages always leave the subject APPROVED,
// REJECTED or FAILED.
package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"agegate/internal/birthdate"
	"agegate/internal/imagequality"
	"agegate/internal/verification/metrics"
	"agegate/internal/verification/models"
	"agegate/internal/verification/ports"
	"agegate/pkg/domain"
	dErrors "agegate/pkg/domain-errors"
	"agegate/pkg/platform/sentinel"
)

const (
	ReasonRateLimited = "rate limit exceeded"
	ReasonBlurry      = "photo too blurry; please retake the ID photo in good light"
	ReasonExtraction  = "birthdate extraction failed; please upload a clearer ID photo"
	ReasonBadToken    = "Invalid verification token. Please complete profile registration again."
	ReasonBotMissing  = "bot verification token is missing"
	ReasonBotAction   = "bot verification action mismatch"
	ReasonBotScore    = "bot score below threshold"
)

// Config holds the pipeline policy.
type Config struct {
	MinimumAge int
	// GatingEnabled turns the bot check on. Operators disable it during
	// incidents with the oracle.
	GatingEnabled              bool
	BotScoreThreshold          float64
	ExpectedAction             string
	AllowResubmitAfterApproval bool
	MaxPhotoBytes              int
	SubjectLockTTL             time.Duration
	TokenHashCost              int
}

func DefaultConfig() Config {
	return Config{
		MinimumAge:                 60,
		GatingEnabled:              true,
		BotScoreThreshold:          0.5,
		ExpectedAction:             "verify_id",
		AllowResubmitAfterApproval: true,
		MaxPhotoBytes:              10 << 20,
		SubjectLockTTL:             2 * time.Minute,
		TokenHashCost:              bcrypt.DefaultCost,
	}
}

type Service struct {
	subjects ports.SubjectStore
	photos   ports.PhotoStore
	ocr      ports.TextExtractor
	limiter  ports.RateLimiter
	monitor  ports.Monitor

	bot      ports.BotScorer
	locker   ports.Locker
	auditor  ports.AuditPublisher
	analyzer *imagequality.Analyzer
	dates    *birthdate.Extractor
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      Config
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

// WithBotScorer enables the bot check. Without a scorer the check is skipped.
func WithBotScorer(b ports.BotScorer) Option {
	return func(s *Service) {
		s.bot = b
	}
}

// WithLocker serialises submissions per subject.
func WithLocker(l ports.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

func WithAnalyzer(a *imagequality.Analyzer) Option {
	return func(s *Service) {
		s.analyzer = a
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(
	subjects ports.SubjectStore,
	photos ports.PhotoStore,
	ocr ports.TextExtractor,
	limiter ports.RateLimiter,
	monitor ports.Monitor,
	opts ...Option,
) (*Service, error) {
	if subjects == nil {
		return nil, errors.New("subject store is required")
	}
	if photos == nil {
		return nil, errors.New("photo store is required")
	}
	if ocr == nil {
		return nil, errors.New("text extractor is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if monitor == nil {
		return nil, errors.New("monitor is required")
	}

	s := &Service{
		subjects: subjects,
		photos:   photos,
		ocr:      ocr,
		limiter:  limiter,
		monitor:  monitor,
		logger:   slog.Default(),
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.analyzer == nil {
		s.analyzer = imagequality.NewAnalyzer()
	}
	if s.dates == nil {
		s.dates = birthdate.NewExtractor(birthdate.WithLogger(s.logger))
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("agegate/verification")
	}
	if s.cfg.MinimumAge <= 0 {
		return nil, errors.New("minimum age must be positive")
	}
	return s, nil
}

// Status returns the stored subject.
func (s *Service) Status(ctx context.Context, id domain.SubjectID) (*models.Subject, error) {
	subject, err := s.subjects.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, "failed to load verification subject")
	}
	return subject, nil
}

// storeError translates store sentinels into domain errors.
func (s *Service) storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "verification subject not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "verification subject was modified concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// stage starts a span for one pipeline stage and returns its end function.
func (s *Service) stage(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "verification."+name)
	return ctx, func() {
		span.End()
		s.metrics.ObserveStage(name, start)
	}
}
