package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"agegate/internal/monitoring"
	rlmiddleware "agegate/internal/ratelimit/middleware"
	"agegate/internal/verification/models"
	"agegate/pkg/domain"
	dErrors "agegate/pkg/domain-errors"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/audit/auditlog"
	"agegate/pkg/platform/httputil"
	"agegate/pkg/platform/middleware/auth"
	"agegate/pkg/platform/validate"
	"agegate/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

const (
	RoleAdmin   = "admin"
	RoleService = "service"

	defaultMaxUploadBytes = 22 << 20
	multipartMemory       = 8 << 20
)

// Service is the verification pipeline.
type Service interface {
	Submit(ctx context.Context, sub models.Submission) (*models.Result, error)
	Status(ctx context.Context, id domain.SubjectID) (*models.Subject, error)
	IssueToken(ctx context.Context, id domain.SubjectID) (string, *models.Subject, error)
}

// MonitorView exposes the monitoring counters to operators.
type MonitorView interface {
	Snapshot() monitoring.Snapshot
	Summary() string
	Reset(ctx context.Context)
}

// Handler serves the verification endpoints.
type Handler struct {
	service        Service
	monitor        MonitorView
	logger         *slog.Logger
	validator      auth.JWTValidator
	limiter        *rlmiddleware.Middleware
	auditor        auditlog.Emitter
	maxUploadBytes int64
}

type Option func(*Handler)

// WithRateLimit throttles the status and token routes. Submissions are
// throttled by the service itself.
func WithRateLimit(m *rlmiddleware.Middleware) Option {
	return func(h *Handler) {
		h.limiter = m
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

func WithAuditPublisher(e auditlog.Emitter) Option {
	return func(h *Handler) {
		h.auditor = e
	}
}

func New(service Service, monitor MonitorView, validator auth.JWTValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:        service,
		monitor:        monitor,
		validator:      validator,
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the public and admin routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/verification/{subjectID}", func(r chi.Router) {
		r.Post("/", h.handleSubmit)
		r.With(h.rateLimit("verification_status")).Get("/", h.handleStatus)
		r.With(
			h.rateLimit("verification_token"),
			auth.RequireAuth(h.validator, h.logger),
			auth.RequireRole(h.logger, RoleService, RoleAdmin),
		).Post("/token", h.handleIssueToken)
	})

	r.Route("/admin/verification", func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))
		r.Use(auth.RequireRole(h.logger, RoleAdmin))
		r.Get("/metrics", h.handleMetrics)
		r.Post("/metrics/reset", h.handleResetMetrics)
	})
}

func (h *Handler) rateLimit(endpoint string) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limiter.RateLimit(endpoint)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "upload exceeds the size limit"))
			return
		}
		h.logger.WarnContext(ctx, "invalid multipart submission",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expected a multipart/form-data body"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := models.SubmitForm{
		SubjectID:         chi.URLParam(r, "subjectID"),
		VerificationToken: r.FormValue("verification_token"),
		BotToken:          r.FormValue("bot_token"),
	}
	if err := validate.Struct(form); err != nil {
		httputil.WriteError(w, err)
		return
	}
	subjectID, err := domain.ParseSubjectID(form.SubjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	front, err := readPhoto(r.MultipartForm, "front")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	back, err := readPhoto(r.MultipartForm, "back")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Submit(ctx, models.Submission{
		SubjectID: subjectID,
		Front:     front,
		Back:      back,
		Token:     form.VerificationToken,
		BotToken:  form.BotToken,
		CallerKey: rlmiddleware.CallerKey(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
	})
	if err != nil {
		if models.IsKind(err, models.KindRateLimited) {
			w.Header().Set("Retry-After", "60")
		}
		if dErrors.GetCode(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "verification submission failed",
				"request_id", requestID,
				"subject_id", subjectID.String(),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.SubmitResponse{
		SubjectID: result.SubjectID.String(),
		Status:    result.Status,
		Reason:    result.Reason,
		Age:       result.Age,
	})
}

// readPhoto returns an empty Photo when the field is absent.
func readPhoto(form *multipart.Form, field string) (models.Photo, error) {
	files := form.File[field]
	if len(files) == 0 {
		return models.Photo{}, nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return models.Photo{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable "+field+" photo")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return models.Photo{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable "+field+" photo")
	}
	return models.Photo{Data: data, Filename: fh.Filename}, nil
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subject, err := h.service.Status(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewStatusResponse(subject))
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, subject, err := h.service.IssueToken(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusCreated, models.IssueTokenResponse{
		SubjectID: subject.ID.String(),
		Token:     token,
		Status:    subject.Status,
	})
}

type metricsResponse struct {
	Snapshot monitoring.Snapshot `json:"snapshot"`
	Summary  string              `json:"summary"`
}

func (h *Handler) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, metricsResponse{
		Snapshot: h.monitor.Snapshot(),
		Summary:  h.monitor.Summary(),
	})
}

func (h *Handler) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.monitor.Reset(ctx)
	auditlog.Log(ctx, h.logger, h.auditor, audit.EventMonitoringReset)
	w.WriteHeader(http.StatusNoContent)
}
