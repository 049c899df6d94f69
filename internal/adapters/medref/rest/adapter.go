// Package rest implements the medicine reference adapter against the
// reference HTTP service.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/medref"
	"github.com/hiv-care-hub/platform/internal/shared/config"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Adapter implements medref.Adapter over HTTP/JSON
type Adapter struct {
	baseURL    string
	httpClient *http.Client
}

var _ medref.Adapter = (*Adapter)(nil)

// New creates a new REST medicine reference adapter
func New(cfg config.MedicineRefConfig) *Adapter {
	return &Adapter{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type listResponse struct {
	Data  []medref.Medicine `json:"data"`
	Total int               `json:"total"`
}

// ListMedicines returns one page of the reference list
func (a *Adapter) ListMedicines(ctx context.Context, page medref.Page) ([]medref.Medicine, int, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", page.Limit))
	q.Set("offset", fmt.Sprintf("%d", page.Offset))

	var resp listResponse
	if err := a.getJSON(ctx, "/medicines?"+q.Encode(), "list_medicines", &resp); err != nil {
		return nil, 0, err
	}
	return resp.Data, resp.Total, nil
}

// GetMedicine fetches a single medicine by id
func (a *Adapter) GetMedicine(ctx context.Context, id types.ID) (*medref.Medicine, error) {
	var m medref.Medicine
	if err := a.getJSON(ctx, "/medicines/"+id.String(), "get_medicine", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SourceSystem identifies the adapter implementation
func (a *Adapter) SourceSystem() string { return "medicine-reference-api" }

// Health checks the collaborator connection
func (a *Adapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("medicine reference unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("medicine reference unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) getJSON(ctx context.Context, path, operation string, out any) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		metrics.RecordCollaboratorRequest("medicine_reference", operation, "error", time.Since(start))
		return fmt.Errorf("medicine reference request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.RecordCollaboratorRequest("medicine_reference", operation,
		fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("medicine not found")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("medicine reference returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
