// Package rest implements the protocol catalog adapter against the catalog
// HTTP service.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/protocol"
	"github.com/hiv-care-hub/platform/internal/shared/config"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Adapter implements protocol.Adapter over HTTP/JSON
type Adapter struct {
	baseURL    string
	httpClient *http.Client
}

var _ protocol.Adapter = (*Adapter)(nil)

// New creates a new REST catalog adapter
func New(cfg config.CatalogConfig) *Adapter {
	return &Adapter{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type listResponse struct {
	Data []protocol.Protocol `json:"data"`
}

// ListProtocols returns protocols matching the filter, in catalog order
func (a *Adapter) ListProtocols(ctx context.Context, filter protocol.Filter) ([]protocol.Protocol, error) {
	q := url.Values{}
	if filter.TargetDisease != "" {
		q.Set("target_disease", filter.TargetDisease)
	}
	if filter.SearchText != "" {
		q.Set("q", filter.SearchText)
	}
	if filter.Tab != "" {
		q.Set("tab", string(filter.Tab))
	}

	path := "/protocols"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp listResponse
	if err := a.do(ctx, http.MethodGet, path, "list_protocols", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SupportsRanking is true: the catalog service ranks recommended protocols
func (a *Adapter) SupportsRanking() bool { return true }

// ValidateForPatient runs the protocol eligibility check
func (a *Adapter) ValidateForPatient(ctx context.Context, protocolID, patientID types.ID) (*protocol.Eligibility, error) {
	body := map[string]string{
		"protocol_id": protocolID.String(),
		"patient_id":  patientID.String(),
	}

	var verdict protocol.Eligibility
	path := fmt.Sprintf("/protocols/%s/validate", protocolID)
	if err := a.do(ctx, http.MethodPost, path, "validate_eligibility", body, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// SourceSystem identifies the adapter implementation
func (a *Adapter) SourceSystem() string { return "protocol-catalog-api" }

// Health checks the collaborator connection
func (a *Adapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("protocol catalog unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("protocol catalog unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, method, path, operation string, body, out any) error {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		metrics.RecordCollaboratorRequest("protocol_catalog", operation, "error", time.Since(start))
		return fmt.Errorf("protocol catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.RecordCollaboratorRequest("protocol_catalog", operation,
		fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("protocol catalog returned status %d: %s", resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
