package domain

import (
	"time"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// SessionEventType identifies an entry in the session timeline
type SessionEventType string

const (
	SessionEventTypeStarted              SessionEventType = "started"
	SessionEventTypeProtocolSelected     SessionEventType = "protocol_selected"
	SessionEventTypeStepChanged          SessionEventType = "step_changed"
	SessionEventTypeTherapyCustomized    SessionEventType = "therapy_customized"
	SessionEventTypeNotesUpdated         SessionEventType = "notes_updated"
	SessionEventTypeValidationRecorded   SessionEventType = "validation_recorded"
	SessionEventTypeValidationOverridden SessionEventType = "validation_overridden"
	SessionEventTypeTreatmentCreated     SessionEventType = "treatment_created"
)

// SessionEvent represents an event in the session timeline
type SessionEvent struct {
	ID          types.ID         `json:"id"`
	SessionID   types.ID         `json:"session_id"`
	Type        SessionEventType `json:"type"`
	ActorID     types.ID         `json:"actor_id"`
	Description string           `json:"description"`
	Data        map[string]any   `json:"data,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Event is a domain event for publishing
type Event struct {
	Type         string       `json:"type"`
	SessionID    types.ID     `json:"session_id"`
	SessionEvent SessionEvent `json:"session_event"`
}

// ValidationFinding is one clinical check verdict remembered by the session
type ValidationFinding struct {
	Kind            string   `json:"kind"`
	Valid           bool     `json:"valid"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ValidationOutcome is the aggregated verdict of a clinical check battery
type ValidationOutcome struct {
	Passed   int                 `json:"passed"`
	Total    int                 `json:"total"`
	IsValid  bool                `json:"isValid"`
	Findings []ValidationFinding `json:"findings"`
	RanAt    time.Time           `json:"ranAt"`
}

// OverrideRecord captures a clinician proceeding despite failing checks
type OverrideRecord struct {
	By     types.ID  `json:"by"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// TreatmentReceipt is the created treatment's confirmation data
type TreatmentReceipt struct {
	TreatmentID types.ID  `json:"treatmentId"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
