// Package emr defines the adapter interface for treatment record creation
// in the clinic EMR. The EMR owns the persisted treatment; the hub only
// submits the assembled payload and relays the outcome.
package emr

import (
	"context"
	"time"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// TreatmentLine is one medicine line of the submitted treatment
type TreatmentLine struct {
	Key           string   `json:"key"`
	MedicineID    types.ID `json:"medicineId"`
	MedicineName  string   `json:"medicineName"`
	Dosage        string   `json:"dosage"`
	DurationValue int      `json:"durationValue"`
	DurationUnit  string   `json:"durationUnit"`
	Notes         string   `json:"notes,omitempty"`
	IsCustom      bool     `json:"isCustom"`
	Cost          float64  `json:"cost"`
}

// CostSummary carries the advisory cost comparison alongside the treatment
type CostSummary struct {
	Original   float64 `json:"original"`
	Customized float64 `json:"customized"`
	Difference float64 `json:"difference"`
}

// CreateTreatmentRequest is the payload submitted to the EMR
type CreateTreatmentRequest struct {
	PatientID     types.ID        `json:"patientId"`
	DoctorID      types.ID        `json:"doctorId"`
	AppointmentID types.ID        `json:"appointmentId,omitempty"`
	ProtocolID    types.ID        `json:"protocolId"`
	Lines         []TreatmentLine `json:"lines"`
	Notes         string          `json:"notes,omitempty"`
	Costs         CostSummary     `json:"costs"`
}

// TreatmentRecord is the EMR's confirmation of a created treatment
type TreatmentRecord struct {
	ID        types.ID  `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Adapter abstracts the EMR treatment endpoint
type Adapter interface {
	CreateTreatment(ctx context.Context, req CreateTreatmentRequest) (*TreatmentRecord, error)
	SourceSystem() string
	Health(ctx context.Context) error
}
