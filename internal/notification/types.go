package notification

import (
	"time"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Kind identifies what a notice is about
type Kind string

const (
	KindTreatmentCreated Kind = "treatment_created"
	KindTreatmentFailed  Kind = "treatment_failed"
	KindOverrideRecorded Kind = "override_recorded"
)

// Notice is a message about a prescription outcome
type Notice struct {
	ID          types.ID       `json:"id"`
	Kind        Kind           `json:"kind"`
	SessionID   types.ID       `json:"session_id"`
	PatientID   types.ID       `json:"patient_id"`
	DoctorID    types.ID       `json:"doctor_id"`
	TreatmentID types.ID       `json:"treatment_id,omitempty"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
