package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"agegate/internal/monitoring"
	rlmiddleware "agegate/internal/ratelimit/middleware"
	ratelimit "agegate/internal/ratelimit/service"
	"agegate/internal/ratelimit/store/window"
	httptransport "agegate/internal/transport/http"
	"agegate/internal/verification/adapters/ocr"
	"agegate/internal/verification/handler"
	"agegate/internal/verification/service"
	subjectmemory "agegate/internal/verification/store/memory"
	"agegate/internal/verification/store/photos"
	"agegate/pkg/domain"
	"agegate/pkg/platform/audit/publisher"
	auditmemory "agegate/pkg/platform/audit/store/memory"
	"agegate/pkg/platform/middleware/auth"
	"agegate/pkg/testutil"
)

const signingKey = "e2e-signing-key-e2e-signing-key"

// TestContext runs one scenario against an in-process server backed by
// memory stores and a scripted OCR engine.
type TestContext struct {
	server    *httptest.Server
	ocr       *httptest.Server
	validator *auth.HMACValidator
	auditor   *publisher.Publisher

	mu      sync.Mutex
	ocrText string

	subjectID         domain.SubjectID
	verificationToken string

	lastStatus int
	lastBody   []byte
}

// Start builds a fresh service for the scenario.
func (tc *TestContext) Start(minimumAge int) error {
	tc.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tc.ocr = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		tc.mu.Lock()
		text := tc.ocrText
		tc.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	ocrClient, err := ocr.New(tc.ocr.URL, ocr.WithLogger(logger))
	if err != nil {
		return err
	}

	tc.auditor = publisher.NewPublisher(auditmemory.NewInMemoryStore(), publisher.WithLogger(logger))
	monitor := monitoring.New(monitoring.WithLogger(logger))
	limiter, err := ratelimit.New(window.NewInMemoryWindowStore(),
		ratelimit.WithLimit(10, time.Minute),
		ratelimit.WithAuditPublisher(tc.auditor),
		ratelimit.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	cfg := service.DefaultConfig()
	cfg.MinimumAge = minimumAge
	cfg.GatingEnabled = false
	cfg.TokenHashCost = 4
	svc, err := service.New(subjectmemory.NewInMemoryStore(), photos.NewInMemoryStore(), ocrClient, limiter, monitor,
		service.WithConfig(cfg),
		service.WithLogger(logger),
		service.WithAuditPublisher(tc.auditor),
	)
	if err != nil {
		return err
	}

	tc.validator, err = auth.NewHMACValidator([]byte(signingKey), "agegate", "")
	if err != nil {
		return err
	}
	h := handler.New(svc, monitor, tc.validator, logger,
		handler.WithRateLimit(rlmiddleware.New(limiter, logger)),
		handler.WithAuditPublisher(tc.auditor),
	)
	tc.server = httptest.NewServer(httptransport.NewRouter(logger, httptransport.WithModules(h)))
	tc.subjectID = domain.NewSubjectID()
	tc.verificationToken = ""
	tc.lastStatus, tc.lastBody = 0, nil
	return nil
}

// Close stops the servers of the previous scenario.
func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
	if tc.ocr != nil {
		tc.ocr.Close()
		tc.ocr = nil
	}
	if tc.auditor != nil {
		tc.auditor.Close()
		tc.auditor = nil
	}
}

func (tc *TestContext) SetOCRText(text string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.ocrText = text
}

func (tc *TestContext) SubjectID() string { return tc.subjectID.String() }
func (tc *TestContext) VerificationToken() string { return tc.verificationToken }
func (tc *TestContext) SetVerificationToken(t string) { tc.verificationToken = t }
func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }
func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

// Bearer mints an operator token holding roles.
func (tc *TestContext) Bearer(roles ...string) (string, error) {
	token, err := tc.validator.Sign("e2e-operator", roles, time.Now(), time.Hour)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

func (tc *TestContext) Request(method, path string, headers map[string]string) error {
	req, err := http.NewRequest(method, tc.server.URL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

// Submit posts a multipart submission. Files map form fields to contents.
func (tc *TestContext) Submit(fields map[string]string, files map[string][]byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for field, data := range files {
		part, err := mw.CreateFormFile(field, field+".png")
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.server.URL+"/v1/verification/"+tc.SubjectID(), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus, tc.lastBody = resp.StatusCode, body
	return nil
}

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response %s", field, tc.lastBody)
	}
	return v, nil
}

// Photo returns an encoded ID photo. Sharp photos pass the quality gate.
func (tc *TestContext) Photo(sharp bool) ([]byte, error) {
	var img image.Image = testutil.Uniform(64, 64, color.Gray{Y: 128})
	if sharp {
		img = testutil.Checkerboard(64, 64, 1)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
