// Package medref defines the interface for medicine reference adapters.
// Implementations connect to the medicine reference HTTP service or to the
// legacy hospital pharmacy database and provide a unified API.
package medref

import (
	"context"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Adapter is the medicine reference collaborator boundary
type Adapter interface {
	// ListMedicines returns one page of the reference list and the total count
	ListMedicines(ctx context.Context, page Page) ([]Medicine, int, error)

	// GetMedicine fetches a single medicine by id
	GetMedicine(ctx context.Context, id types.ID) (*Medicine, error)

	// Adapter metadata
	SourceSystem() string

	// Health checks the collaborator connection
	Health(ctx context.Context) error
}

// Medicine is read-only reference data. Price is numeric and
// currency-agnostic; the billing system owns currency concerns.
type Medicine struct {
	ID          types.ID `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Dose        float64  `json:"dose"`
	Unit        string   `json:"unit"`
	Price       float64  `json:"price"`
}

// Page is a limit/offset pagination request
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
