// Package botscore verifies bot-detection tokens against a
// reCAPTCHA-compatible siteverify endpoint.
package botscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agegate/internal/verification/models"
)

const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Client implements ports.BotScorer.
type Client struct {
	verifyURL string
	secret    string
	http      *http.Client
}

type Option func(*Client)

func WithVerifyURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.verifyURL = u
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func New(secret string, opts ...Option) (*Client, error) {
	if secret == "" {
		return nil, errors.New("bot score secret is required")
	}
	c := &Client{
		verifyURL: DefaultVerifyURL,
		secret:    secret,
		http:      &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the token and returns the oracle's verdict. The caller
// applies the score policy.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (models.BotVerdict, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.BotVerdict{}, fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.BotVerdict{}, fmt.Errorf("siteverify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.BotVerdict{}, fmt.Errorf("siteverify returned %d", resp.StatusCode)
	}
	var body siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return models.BotVerdict{}, fmt.Errorf("decode siteverify response: %w", err)
	}
	return models.BotVerdict{
		Success: body.Success,
		Score:   body.Score,
		Action:  body.Action,
	}, nil
}
