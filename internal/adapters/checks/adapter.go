// Package checks defines the adapter interface for the clinical validation
// service. Each check is an independent remote call; callers decide how to
// combine the results.
package checks

import (
	"context"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Kind identifies a clinical check
type Kind string

const (
	KindInteractions      Kind = "drug_interactions"
	KindDosage            Kind = "dosage"
	KindAllergies         Kind = "allergies"
	KindContraindications Kind = "contraindications"
	KindDuplicateTherapy  Kind = "duplicate_therapy"
	KindOrganFunction     Kind = "organ_function"
	KindPregnancySafety   Kind = "pregnancy_safety"
	KindResistancePattern Kind = "resistance_pattern"
	KindAdherence         Kind = "adherence"
)

// Result is the outcome of a single clinical check
type Result struct {
	Kind            Kind           `json:"kind"`
	Valid           bool           `json:"valid"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// TherapyLine describes one medicine of the therapy under review
type TherapyLine struct {
	MedicineID    types.ID `json:"medicineId"`
	MedicineName  string   `json:"medicineName"`
	Dosage        string   `json:"dosage"`
	DurationValue int      `json:"durationValue"`
	DurationUnit  string   `json:"durationUnit"`
}

// BatteryInput is the shared input of the standard check battery
type BatteryInput struct {
	PatientID  types.ID      `json:"patientId"`
	DoctorID   types.ID      `json:"doctorId"`
	ProtocolID types.ID      `json:"protocolId"`
	Therapy    []TherapyLine `json:"therapy"`
}

// OrganFunctionInput carries the lab values for renal and hepatic dosing review
type OrganFunctionInput struct {
	BatteryInput
	CreatinineClearance float64 `json:"creatinineClearance"`
	ALT                 float64 `json:"alt"`
	AST                 float64 `json:"ast"`
	Bilirubin           float64 `json:"bilirubin"`
}

// ResistanceInput carries the genotype mutations for resistance review
type ResistanceInput struct {
	BatteryInput
	Mutations []string `json:"mutations"`
}

// AdherenceInput carries refill history for adherence review
type AdherenceInput struct {
	BatteryInput
	PillsDispensed int `json:"pillsDispensed"`
	PillsTaken     int `json:"pillsTaken"`
	PeriodDays     int `json:"periodDays"`
}

// Adapter abstracts the clinical validation service
type Adapter interface {
	// Standard battery, run together before prescription creation.
	CheckInteractions(ctx context.Context, in BatteryInput) (*Result, error)
	CheckDosage(ctx context.Context, in BatteryInput) (*Result, error)
	CheckAllergies(ctx context.Context, in BatteryInput) (*Result, error)
	CheckContraindications(ctx context.Context, in BatteryInput) (*Result, error)
	CheckDuplicateTherapy(ctx context.Context, in BatteryInput) (*Result, error)

	// On-demand checks, requested individually from the review screen.
	CheckOrganFunction(ctx context.Context, in OrganFunctionInput) (*Result, error)
	CheckPregnancySafety(ctx context.Context, in BatteryInput) (*Result, error)
	CheckResistancePattern(ctx context.Context, in ResistanceInput) (*Result, error)
	CheckAdherence(ctx context.Context, in AdherenceInput) (*Result, error)

	SourceSystem() string
	Health(ctx context.Context) error
}
