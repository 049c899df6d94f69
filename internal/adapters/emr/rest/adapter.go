// Package rest implements the EMR treatment adapter over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/emr"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
)

// Adapter calls the clinic EMR's treatment API
type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ emr.Adapter = (*Adapter)(nil)

// New creates a new EMR treatment adapter
func New(baseURL, token string, timeout time.Duration) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// errorResponse is the EMR's error body shape
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// CreateTreatment submits the treatment to the EMR. On rejection the EMR's
// own message is carried back so the clinician sees what the record system
// actually complained about.
func (a *Adapter) CreateTreatment(ctx context.Context, treatmentReq emr.CreateTreatmentRequest) (*emr.TreatmentRecord, error) {
	body, err := json.Marshal(treatmentReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal treatment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/treatments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordCollaboratorRequest("treatment_emr", "/treatments", status, time.Since(start))
	if err != nil {
		return nil, apperrors.CreationFailed("")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		msg := er.Message
		if msg == "" {
			msg = er.Error
		}
		return nil, apperrors.CreationFailed(msg)
	}

	var record emr.TreatmentRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode treatment response: %w", err)
	}
	return &record, nil
}

func (a *Adapter) SourceSystem() string { return "clinic-emr-rest" }

// Health checks the EMR health endpoint
func (a *Adapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("EMR unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("EMR unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
