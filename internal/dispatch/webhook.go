package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/config"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
)

// WebhookTransport delivers jobs by POSTing them to the provider gateway.
// 4xx responses mean the payload itself is unacceptable and come back as
// *ValidationError; 408, 429 and 5xx are transient and left retryable.
type WebhookTransport struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookTransport creates a transport for the configured provider
// endpoint.
func NewWebhookTransport(cfg config.ProviderConfig) (*WebhookTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("dispatch: provider url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &WebhookTransport{
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type webhookPayload struct {
	JobID          string `json:"job_id"`
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	Payload        string `json:"payload"`
	Attempt        int    `json:"attempt"`
}

// Send implements Transport.
func (t *WebhookTransport) Send(ctx context.Context, job *models.OutboundJob) error {
	body, err := json.Marshal(webhookPayload{
		JobID:          job.JobID,
		TenantID:       job.TenantID,
		ConversationID: job.ConversationID,
		Payload:        job.Payload,
		Attempt:        job.Attempts,
	})
	if err != nil {
		return NewValidationError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return NewValidationError(fmt.Sprintf("provider rejected job %s: %d %s", job.JobID, resp.StatusCode, detail))
	}
	return fmt.Errorf("dispatch: provider returned %d for job %s: %s", resp.StatusCode, job.JobID, detail)
}

// LogTransport is the dry-run transport used when no provider is configured.
// It logs each send and reports success.
type LogTransport struct{}

// Send implements Transport.
func (LogTransport) Send(_ context.Context, job *models.OutboundJob) error {
	log.Printf("[SEND] dry-run job=%s tenant=%s conversation=%s", job.JobID, job.TenantID, job.ConversationID)
	return nil
}
