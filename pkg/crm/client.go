// Package crm provides clients for the CRM core subsystems the engine calls
// into: entity CRUD, email delivery, and tasks.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/protocol"
)

const defaultTimeoutSeconds = 15

// Backend is the full set of CRM collaborator contracts. Both Client and
// Memory satisfy it.
type Backend interface {
	protocol.SnapshotSource
	protocol.EmailSender
	protocol.TaskCreator
	protocol.FieldUpdater
}

// Client talks to the CRM core's REST API. It implements every collaborator
// contract the engine and the built-in actions need.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
	}
}

var (
	_ protocol.SnapshotSource = (*Client)(nil)
	_ protocol.EmailSender    = (*Client)(nil)
	_ protocol.TaskCreator    = (*Client)(nil)
	_ protocol.FieldUpdater   = (*Client)(nil)
)

func (c *Client) Snapshot(ctx context.Context, entityType, entityID string) (models.EntitySnapshot, error) {
	var snapshot models.EntitySnapshot

	path := fmt.Sprintf("/v1/%s/%s", url.PathEscape(entityType), url.PathEscape(entityID))

	err := c.do(ctx, http.MethodGet, path, nil, &snapshot)
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (c *Client) Candidates(ctx context.Context, ownerID, entityType string) ([]models.EntitySnapshot, error) {
	var snapshots []models.EntitySnapshot

	path := fmt.Sprintf("/v1/%s?owner_id=%s", url.PathEscape(entityType), url.QueryEscape(ownerID))

	err := c.do(ctx, http.MethodGet, path, nil, &snapshots)
	if err != nil {
		return nil, err
	}

	return snapshots, nil
}

func (c *Client) SendEmail(ctx context.Context, entityID, template, message string) error {
	body := map[string]any{
		"entity_id": entityID,
		"template":  template,
		"message":   message,
	}

	return c.do(ctx, http.MethodPost, "/v1/emails", body, nil)
}

func (c *Client) CreateTask(ctx context.Context, entityID string, dueAt time.Time, text string) error {
	body := map[string]any{
		"entity_id": entityID,
		"due_at":    dueAt.Format(time.RFC3339),
		"text":      text,
	}

	return c.do(ctx, http.MethodPost, "/v1/tasks", body, nil)
}

func (c *Client) UpdateEntityField(ctx context.Context, entityType, entityID, field string, value any) error {
	path := fmt.Sprintf("/v1/%s/%s", url.PathEscape(entityType), url.PathEscape(entityID))
	body := map[string]any{field: value}

	return c.do(ctx, http.MethodPatch, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *strings.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = strings.NewReader(string(encoded))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to CRM core failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return protocol.ErrEntityNotFound
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("CRM core returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out != nil {
		err = json.NewDecoder(resp.Body).Decode(out)
		if err != nil {
			return fmt.Errorf("failed to decode CRM core response: %w", err)
		}
	}

	return nil
}
