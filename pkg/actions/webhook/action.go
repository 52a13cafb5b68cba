// Package webhook provides the webhook action, which posts enrollment context
// to an external URL with optional retry.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nurtura/nurtura/pkg/protocol"
)

const defaultTimeoutSeconds = 30

var (
	// ErrWebhookURLInvalid is returned when the webhook URL is missing or invalid.
	ErrWebhookURLInvalid = errors.New("missing or invalid webhook URL")
	// ErrWebhookServerError is returned when the remote returns an error status code.
	ErrWebhookServerError = errors.New("server error during webhook delivery")
)

// Action delivers the entity snapshot and enrollment identifiers to an
// external URL. Deliveries are at-least-once; the dedupe key travels in the
// X-Idempotency-Key header so receivers can discard retries.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Payload map[string]any
	Timeout time.Duration
	Retry   RetryConfig
}

// RetryConfig defines retry behavior for webhook deliveries.
type RetryConfig struct {
	Attempts int
	Delay    int
}

// NewAction creates a new webhook action from configuration.
func NewAction(config map[string]any) (*Action, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrWebhookURLInvalid
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	payload, _ := config["payload"].(map[string]any)

	retry := RetryConfig{Attempts: 1, Delay: 0}

	retryConfig, exists := config["retry"]
	if exists {
		retry = parseRetryConfig(retryConfig)
	}

	return &Action{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Payload: payload,
		Timeout: defaultTimeoutSeconds * time.Second,
		Retry:   retry,
	}, nil
}

func parseRetryConfig(retryConfig any) RetryConfig {
	retry := RetryConfig{Attempts: 1, Delay: 0}

	retryMap, ok := retryConfig.(map[string]any)
	if !ok {
		return retry
	}

	if attempts, ok := retryMap["attempts"].(float64); ok {
		retry.Attempts = int(attempts)
	}

	if delay, ok := retryMap["delay"].(float64); ok {
		retry.Delay = int(delay)
	}

	return retry
}

// Execute delivers the webhook with retry and returns the response summary.
func (a *Action) Execute(ctx context.Context, actx protocol.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "webhook", "url", a.URL)
	logger.InfoContext(ctx, "Delivering webhook")

	body, err := a.buildBody(actx)
	if err != nil {
		return nil, err
	}

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, fmt.Sprintf("Webhook retry attempt %d/%d", attempt, a.Retry.Attempts))
			time.Sleep(time.Duration(a.Retry.Delay) * time.Second)
		}

		req, err := a.buildRequest(ctx, actx, body)
		if err != nil {
			lastErr = err

			continue
		}

		client := &http.Client{Timeout: a.Timeout}

		resp, err = client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook delivery failed: %w", err)

			continue
		}

		if resp.StatusCode >= 500 && attempt < a.Retry.Attempts {
			err = resp.Body.Close()
			if err != nil {
				logger.ErrorContext(ctx, "failed to close response body", "error", err)
			}

			lastErr = fmt.Errorf("server error (status %d), retrying: %w", resp.StatusCode, ErrWebhookServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	return a.processResponse(ctx, resp, logger)
}

func (a *Action) buildBody(actx protocol.ActionContext) ([]byte, error) {
	payload := a.Payload
	if payload == nil {
		payload = map[string]any{
			"enrollment_id": actx.EnrollmentID,
			"automation_id": actx.AutomationID,
			"entity_type":   actx.EntityType,
			"entity_id":     actx.EntityID,
			"snapshot":      actx.Snapshot,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	return body, nil
}

func (a *Action) buildRequest(ctx context.Context, actx protocol.ActionContext, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if actx.DedupeKey != "" {
		req.Header.Set("X-Idempotency-Key", actx.DedupeKey)
	}

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook returned status %d: %w", resp.StatusCode, ErrWebhookServerError)
	}

	logger.InfoContext(ctx, fmt.Sprintf("Webhook delivered with status %d", resp.StatusCode))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}
