// Package protocol defines the interface for protocol catalog adapters.
// Implementations connect to the protocol catalog HTTP service or read the
// clinic EMR's Postgres directly, and provide a unified API for the hub.
package protocol

import (
	"context"

	"github.com/hiv-care-hub/platform/internal/adapters/medref"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Adapter is the protocol catalog collaborator boundary
type Adapter interface {
	// ListProtocols returns protocols matching the filter, in catalog order.
	// When SupportsRanking is true and the filter requests the recommended
	// tab, the collaborator returns a server-ranked list.
	ListProtocols(ctx context.Context, filter Filter) ([]Protocol, error)

	// SupportsRanking reports whether the collaborator ranks recommended
	// protocols server-side. When false the catalog service filters
	// client-side by target disease equality.
	SupportsRanking() bool

	// ValidateForPatient runs the protocol eligibility check
	ValidateForPatient(ctx context.Context, protocolID, patientID types.ID) (*Eligibility, error)

	// Adapter metadata
	SourceSystem() string

	// Health checks the collaborator connection
	Health(ctx context.Context) error
}

// Tab selects one of the catalog views
type Tab string

const (
	TabRecommended Tab = "recommended"
	TabPopular     Tab = "popular"
	TabAll         Tab = "all"
)

// Filter narrows a protocol listing
type Filter struct {
	TargetDisease string `json:"target_disease,omitempty"`
	SearchText    string `json:"search_text,omitempty"`
	Tab           Tab    `json:"tab,omitempty"`
}

// Protocol is a named, reusable treatment plan. Immutable once fetched;
// nothing in the hub mutates a Protocol in place.
type Protocol struct {
	ID            types.ID           `json:"id"`
	Name          string             `json:"name"`
	Description   string             `json:"description,omitempty"`
	TargetDisease string             `json:"target_disease"`
	Medicines     []ProtocolMedicine `json:"medicines"`
}

// ProtocolMedicine is one ordered line of a protocol's medicine list
type ProtocolMedicine struct {
	ID            types.ID        `json:"id"`
	MedicineID    types.ID        `json:"medicine_id"`
	Medicine      *medref.Medicine `json:"medicine,omitempty"`
	Dosage        string          `json:"dosage"`
	DurationValue int             `json:"duration_value"`
	DurationUnit  string          `json:"duration_unit"`
	Notes         string          `json:"notes,omitempty"`
}

// Eligibility is the verdict of ValidateForPatient
type Eligibility struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}
