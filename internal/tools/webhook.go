package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	maxWebhookResponse    = 256 << 10
)

// Webhook executes a custom tool by POSTing its parameters to an
// administrator-configured endpoint. A 2xx response is a success; the body
// becomes the tool output.
type Webhook struct {
	name        string
	description string
	endpoint    string
	client      *http.Client
	logger      *slog.Logger
}

var _ Tool = (*Webhook)(nil)

// NewWebhook creates a webhook executor.
func NewWebhook(name, description, endpoint string, client *http.Client, logger *slog.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &Webhook{
		name:        name,
		description: description,
		endpoint:    endpoint,
		client:      client,
		logger:      logger,
	}
}

func (w *Webhook) Name() string        { return w.name }
func (w *Webhook) Description() string { return w.description }

// InputSchema accepts any object; the catalog record carries the real schema.
func (w *Webhook) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

type webhookRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

func (w *Webhook) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(webhookRequest{Tool: w.name, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ideaflow-webhook/1.0")

	w.logger.InfoContext(ctx, "custom tool executing",
		slog.String("tool", w.name),
		slog.String("endpoint", w.endpoint),
	)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling webhook: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return nil, fmt.Errorf("reading webhook response: %w", err)
	}

	return &Result{
		Output:  TruncateOutput(string(out), MaxOutputBytes),
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Metadata: map[string]any{
			"status_code": resp.StatusCode,
		},
	}, nil
}
