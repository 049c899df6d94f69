package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Provider delivers a notice over one channel
type Provider interface {
	Name() string
	Send(ctx context.Context, notice *Notice) error
}

// LogProvider writes notices to the structured log. Always configured; it
// doubles as the delivery record when no other channel is set up.
type LogProvider struct{}

func NewLogProvider() *LogProvider { return &LogProvider{} }

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(_ context.Context, notice *Notice) error {
	slog.Info("notice",
		"kind", notice.Kind,
		"session_id", notice.SessionID,
		"patient_id", notice.PatientID,
		"doctor_id", notice.DoctorID,
		"message", notice.Message)
	return nil
}

// WebhookProvider POSTs notices to a configured endpoint, typically the
// clinic's internal messaging bridge.
type WebhookProvider struct {
	url    string
	client *http.Client
}

func NewWebhookProvider(url string) *WebhookProvider {
	return &WebhookProvider{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *WebhookProvider) Name() string { return "webhook" }

func (p *WebhookProvider) Send(ctx context.Context, notice *Notice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
