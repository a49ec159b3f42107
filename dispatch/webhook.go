package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultWebhookTimeout is the default HTTP request timeout.
const DefaultWebhookTimeout = 10 * time.Second

// DefaultWebhookRetries is the default number of retry attempts.
const DefaultWebhookRetries = 3

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// WebhookSink publishes reports via HTTP POST as a JSON
// {subject, body} document.
type WebhookSink struct {
	config  WebhookConfig
	client  *http.Client
	backoff time.Duration
}

// NewWebhookSink creates a webhook sink from the given config.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook sink requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebhookTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &WebhookSink{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		backoff: 500 * time.Millisecond,
	}, nil
}

type webhookMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Publish sends the message as a JSON POST request.
// Retries with exponential backoff on 5xx responses and network
// errors. 4xx responses are non-retriable and fail immediately.
// Returns the endpoint's status as the acknowledgment id.
func (w *WebhookSink) Publish(ctx context.Context, subject, body string) (string, error) {
	payload, err := json.Marshal(webhookMessage{Subject: subject, Body: body})
	if err != nil {
		return "", fmt.Errorf("webhook: marshal message: %w", err)
	}

	var lastErr error
	attempts := 1 + w.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("webhook: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * w.backoff
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("webhook: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		var status string
		status, lastErr = w.doRequest(ctx, payload)
		if lastErr == nil {
			return status, nil
		}

		// 4xx errors are non-retriable, stop immediately
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return "", fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
	}

	return "", fmt.Errorf("webhook: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError is returned for non-2xx HTTP responses.
// Wrapping the status code allows callers to distinguish retriable
// (5xx) from non-retriable (4xx) failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// doRequest performs a single HTTP POST and returns the status on 2xx.
func (w *WebhookSink) doRequest(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode}
	}

	return resp.Status, nil
}

// Close releases sink resources.
func (w *WebhookSink) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

var _ Sink = (*WebhookSink)(nil)
