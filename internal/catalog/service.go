// Package catalog serves the treatment protocol catalog: tabbed browsing,
// text search and per-patient eligibility checks, with medicine details
// enriched from the reference cache.
package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hiv-care-hub/platform/internal/adapters/protocol"
	"github.com/hiv-care-hub/platform/internal/medicine"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// popularLimit caps the popular tab at the first ranked protocols. The
// catalog source orders by usage when it supports ranking, so the head of
// the list is the most used slice.
const popularLimit = 10

// Service is the protocol catalog service
type Service struct {
	adapter       protocol.Adapter
	medicines     *medicine.Cache
	targetDisease string
}

// NewService creates a catalog service for the given target disease
func NewService(adapter protocol.Adapter, medicines *medicine.Cache, targetDisease string) *Service {
	return &Service{
		adapter:       adapter,
		medicines:     medicines,
		targetDisease: targetDisease,
	}
}

// Query selects a catalog slice
type Query struct {
	Tab    protocol.Tab
	Search string
}

// ListProtocols returns the protocols for a tab, optionally narrowed by a
// search text. A blank search returns the tab's full slice.
func (s *Service) ListProtocols(ctx context.Context, q Query) ([]protocol.Protocol, error) {
	filter := protocol.Filter{
		TargetDisease: s.targetDisease,
		SearchText:    strings.TrimSpace(q.Search),
		Tab:           q.Tab,
	}

	list, err := s.adapter.ListProtocols(ctx, filter)
	if err != nil {
		return nil, apperrors.ReferenceUnavailable(s.adapter.SourceSystem(), err)
	}

	switch q.Tab {
	case protocol.TabRecommended:
		if !s.adapter.SupportsRanking() {
			// Source cannot rank; recommended falls back to the plain
			// disease match.
			filtered := make([]protocol.Protocol, 0, len(list))
			for _, p := range list {
				if p.TargetDisease == s.targetDisease {
					filtered = append(filtered, p)
				}
			}
			list = filtered
		}
	case protocol.TabPopular:
		if len(list) > popularLimit {
			list = list[:popularLimit]
		}
	}

	s.enrich(ctx, list)
	return list, nil
}

// GetProtocol returns a single protocol with enriched medicine details
func (s *Service) GetProtocol(ctx context.Context, id types.ID) (*protocol.Protocol, error) {
	list, err := s.adapter.ListProtocols(ctx, protocol.Filter{Tab: protocol.TabAll})
	if err != nil {
		return nil, apperrors.ReferenceUnavailable(s.adapter.SourceSystem(), err)
	}
	for i := range list {
		if list[i].ID == id {
			s.enrich(ctx, list[i:i+1])
			return &list[i], nil
		}
	}
	return nil, apperrors.NotFound("protocol", id.String())
}

// CheckEligibility asks the catalog source whether a protocol may be
// prescribed to the patient. An ineligible protocol yields an
// EligibilityRejected error carrying the source's reasons.
func (s *Service) CheckEligibility(ctx context.Context, protocolID, patientID types.ID) error {
	elig, err := s.adapter.ValidateForPatient(ctx, protocolID, patientID)
	if err != nil {
		metrics.RecordEligibilityCheck("error")
		return apperrors.ReferenceUnavailable(s.adapter.SourceSystem(), err)
	}
	if !elig.IsValid {
		metrics.RecordEligibilityCheck("rejected")
		slog.Info("protocol eligibility rejected",
			"protocol_id", protocolID,
			"patient_id", patientID,
			"reasons", elig.Errors)
		return apperrors.EligibilityRejected(protocolID.String(), elig.Errors)
	}
	metrics.RecordEligibilityCheck("accepted")
	return nil
}

// enrich attaches reference medicine details to protocol lines that the
// catalog source returned bare. Missing reference entries are logged and
// left bare rather than failing the listing.
func (s *Service) enrich(ctx context.Context, protocols []protocol.Protocol) {
	for i := range protocols {
		for j := range protocols[i].Medicines {
			line := &protocols[i].Medicines[j]
			if line.Medicine != nil {
				continue
			}
			m, err := s.medicines.Get(ctx, line.MedicineID)
			if err != nil {
				slog.Warn("medicine detail unavailable",
					"medicine_id", line.MedicineID,
					"protocol_id", protocols[i].ID,
					"error", err)
				continue
			}
			line.Medicine = m
		}
	}
}
