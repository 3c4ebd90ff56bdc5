// Package ocr calls the external text-recognition service.
//
// The service accepts the raw image as the request body and answers
// {"text": "..."}. Outbound calls are paced by a token bucket so a burst of
// submissions cannot overrun the engine. An optional circuit breaker fails
// calls fast while the service keeps erroring.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"agegate/pkg/platform/circuit"
)

// ErrUnavailable is returned without calling the service while the breaker
// is open.
var ErrUnavailable = errors.New("ocr service unavailable")

const (
	defaultTimeout  = 10 * time.Second
	defaultLanguage = "eng"
	maxResponseBody = 1 << 20
)

// Client implements ports.TextExtractor over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	language string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithRateLimit paces outbound requests. Non-positive values disable pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 || burst <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBreaker trips on transport errors and 5xx answers.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid OCR endpoint %q", endpoint)
	}
	c := &Client{
		endpoint: endpoint,
		language: defaultLanguage,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type response struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// ExtractText sends the image and returns the recognised text.
func (c *Client) ExtractText(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("image is empty")
	}
	if c.breaker != nil && !c.breaker.Allow() {
		return "", ErrUnavailable
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("ocr rate limiter: %w", err)
		}
	}

	text, status, err := c.call(ctx, image)
	c.record(ctx, status, err)
	return text, err
}

// record feeds the breaker. Status 0 means the request never got an answer.
func (c *Client) record(ctx context.Context, status int, err error) {
	if c.breaker == nil || errors.Is(err, context.Canceled) {
		return
	}
	if status == 0 || status >= http.StatusInternalServerError {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "ocr circuit opened", "breaker", c.breaker.Name())
		}
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "ocr circuit closed", "breaker", c.breaker.Name())
	}
}

func (c *Client) call(ctx context.Context, image []byte) (string, int, error) {
	u, _ := url.Parse(c.endpoint)
	q := u.Query()
	q.Set("lang", c.language)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(image))
	if err != nil {
		return "", 0, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", 0, fmt.Errorf("read ocr response: %w", err)
	}
	c.logger.DebugContext(ctx, "ocr call finished",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	text, err := parseResponse(resp.StatusCode, body)
	return text, resp.StatusCode, err
}

func parseResponse(status int, body []byte) (string, error) {
	var r response
	if status != http.StatusOK {
		if json.Unmarshal(body, &r) == nil && r.Error != "" {
			return "", fmt.Errorf("ocr service returned %d: %s", status, r.Error)
		}
		return "", fmt.Errorf("ocr service returned %d", status)
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return r.Text, nil
}
