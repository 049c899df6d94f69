// Package rest implements the clinical checks adapter against the
// validation service's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/checks"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
)

// Adapter calls the validation service over HTTP
type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ checks.Adapter = (*Adapter)(nil)

// New creates a new validation service adapter
func New(baseURL, token string, timeout time.Duration) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// checkResponse covers the service's uneven verdict field naming: older
// endpoints answer isValid, the compliance ones isCompliant, the safety
// ones isSafe. Exactly one is set per endpoint.
type checkResponse struct {
	IsValid         *bool          `json:"isValid,omitempty"`
	IsCompliant     *bool          `json:"isCompliant,omitempty"`
	IsSafe          *bool          `json:"isSafe,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// verdict errors when the body carries no verdict field at all. A body
// without one is a contract break, not a failed check.
func (r *checkResponse) verdict() (bool, error) {
	switch {
	case r.IsValid != nil:
		return *r.IsValid, nil
	case r.IsCompliant != nil:
		return *r.IsCompliant, nil
	case r.IsSafe != nil:
		return *r.IsSafe, nil
	}
	return false, fmt.Errorf("response carries no verdict field")
}

func (a *Adapter) post(ctx context.Context, path string, kind checks.Kind, payload any) (*checks.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
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
	metrics.RecordCollaboratorRequest("validation_service", path, status, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("validation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validation service returned status %d for %s", resp.StatusCode, kind)
	}

	var cr checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", kind, err)
	}

	valid, err := cr.verdict()
	if err != nil {
		return nil, fmt.Errorf("malformed %s response: %w", kind, err)
	}

	return &checks.Result{
		Kind:            kind,
		Valid:           valid,
		Recommendations: cr.Recommendations,
		Details:         cr.Details,
	}, nil
}

func (a *Adapter) CheckInteractions(ctx context.Context, in checks.BatteryInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/interactions", checks.KindInteractions, in)
}

func (a *Adapter) CheckDosage(ctx context.Context, in checks.BatteryInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/dosage", checks.KindDosage, in)
}

func (a *Adapter) CheckAllergies(ctx context.Context, in checks.BatteryInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/allergies", checks.KindAllergies, in)
}

func (a *Adapter) CheckContraindications(ctx context.Context, in checks.BatteryInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/contraindications", checks.KindContraindications, in)
}

func (a *Adapter) CheckDuplicateTherapy(ctx context.Context, in checks.BatteryInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/duplicate-therapy", checks.KindDuplicateTherapy, in)
}

func (a *Adapter) CheckOrganFunction(ctx context.Context, in checks.OrganFunctionInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/organ-function", checks.KindOrganFunction, in)
}

func (a *Adapter) CheckPregnancySafety(ctx context.Context, in checks.BatteryInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/pregnancy-safety", checks.KindPregnancySafety, in)
}

func (a *Adapter) CheckResistancePattern(ctx context.Context, in checks.ResistanceInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/resistance", checks.KindResistancePattern, in)
}

func (a *Adapter) CheckAdherence(ctx context.Context, in checks.AdherenceInput) (*checks.Result, error) {
	return a.post(ctx, "/checks/adherence", checks.KindAdherence, in)
}

func (a *Adapter) SourceSystem() string { return "validation-service-rest" }

// Health checks the validation service health endpoint
func (a *Adapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
