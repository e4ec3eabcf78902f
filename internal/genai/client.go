// v2
// internal/genai/client.go

// Package genai wraps the generative-language REST API used for mold-risk
// assessments. Transport failures and 5xx/429 responses are retried with
// exponential backoff; auth and bad-request responses fail immediately.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// maxResponseBytes caps the completion body read to guard against a
// misbehaving endpoint streaming unbounded output.
const maxResponseBytes = 10 * 1024 * 1024

// Completer produces a text completion for a system instruction plus a user
// prompt. Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// RetryPolicy bounds the retry loop around one completion call.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryPolicy returns the retry defaults used in production.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Config identifies the endpoint and model for one Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Retry       RetryPolicy
}

// Client calls the generateContent endpoint of a Gemini-compatible API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a Client, filling defaults for unset config fields.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.With(slog.String("component", "genai_client")),
	}
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
	Role  string         `json:"role,omitempty"`
}

type generateRequest struct {
	SystemInstruction *generateContent  `json:"systemInstruction,omitempty"`
	Contents          []generateContent `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

// Complete implements Completer. It returns the first candidate's text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		text, err := c.generate(ctx, system, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if IsFatal(err) {
			return "", err
		}
		if attempt < c.cfg.Retry.MaxAttempts {
			backoff := c.backoff(attempt)
			c.log.Debug("completion_retry",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.Any("err", err),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", lastErr
}

// backoff grows exponentially per attempt with +/-25% jitter so concurrent
// callers do not retry in lockstep.
func (c *Client) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.cfg.Retry.BackoffMultiplier
	}
	d := time.Duration(float64(c.cfg.Retry.BackoffBase) * multiplier)
	if d > c.cfg.Retry.MaxBackoff {
		d = c.cfg.Retry.MaxBackoff
	}
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}

func (c *Client) generate(ctx context.Context, system, prompt string) (string, error) {
	reqBody := generateRequest{
		Contents: []generateContent{
			{Role: "user", Parts: []generatePart{{Text: prompt}}},
		},
		GenerationConfig: &generationConfig{Temperature: c.cfg.Temperature},
	}
	if system != "" {
		reqBody.SystemInstruction = &generateContent{Parts: []generatePart{{Text: system}}}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", NewFatalError(fmt.Errorf("encode request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, c.cfg.Model, url.QueryEscape(c.cfg.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", NewFatalError(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", NewTransientError(fmt.Errorf("http request: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return "", NewTransientError(fmt.Errorf("read response: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(httpResp.StatusCode, respBody)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", NewFatalError(fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", NewFatalError(fmt.Errorf("response contains no candidates"))
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// classifyHTTPError maps an API status code to transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	err := fmt.Errorf("genai api error (status %d): %s", statusCode, detail)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
