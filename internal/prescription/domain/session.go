// Package domain holds the prescription workflow aggregate: a wizard
// session moving through protocol selection, therapy customization,
// clinical validation and treatment creation.
package domain

import (
	"fmt"
	"time"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Step defines a wizard step
type Step string

const (
	StepSelect    Step = "select"
	StepCustomize Step = "customize"
	StepValidate  Step = "validate"
	StepCreate    Step = "create"
)

var stepOrder = map[Step]int{
	StepSelect:    0,
	StepCustomize: 1,
	StepValidate:  2,
	StepCreate:    3,
}

// Valid reports whether the step is a known wizard step
func (s Step) Valid() bool {
	_, ok := stepOrder[s]
	return ok
}

// SelectedProtocol is the session's copy of the chosen protocol
type SelectedProtocol struct {
	ID            types.ID `json:"id"`
	Name          string   `json:"name"`
	TargetDisease string   `json:"targetDisease"`
}

// Session is the aggregate root for one prescription wizard run
type Session struct {
	ID            types.ID `json:"id"`
	PatientID     types.ID `json:"patient_id"`
	DoctorID      types.ID `json:"doctor_id"`
	AppointmentID types.ID `json:"appointment_id,omitempty"`
	Step          Step     `json:"step"`

	Protocol      *SelectedProtocol `json:"protocol,omitempty"`
	Customization *Customization    `json:"-"`

	// ValidatedLines is the therapy the recorded verdict applies to.
	// Editing the therapy after a run drops the verdict.
	ValidatedLines []TherapyLine      `json:"validated_lines,omitempty"`
	Validation     *ValidationOutcome `json:"validation,omitempty"`
	Override       *OverrideRecord    `json:"override,omitempty"`
	Treatment      *TreatmentReceipt  `json:"treatment,omitempty"`
	Notes          string             `json:"notes,omitempty"`

	Timeline []SessionEvent `json:"timeline,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Domain events (not persisted, used for publishing)
	domainEvents []Event
}

// NewSession starts a wizard session on the selection step
func NewSession(patientID, doctorID, appointmentID types.ID) (*Session, error) {
	if patientID.IsZero() {
		return nil, fmt.Errorf("patient is required")
	}
	if doctorID.IsZero() {
		return nil, fmt.Errorf("doctor is required")
	}

	now := time.Now()
	s := &Session{
		ID:            types.NewID(),
		PatientID:     patientID,
		DoctorID:      doctorID,
		AppointmentID: appointmentID,
		Step:          StepSelect,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.addEvent(SessionEventTypeStarted, doctorID, "Prescription session started", nil)
	return s, nil
}

// SelectProtocol records the chosen protocol and resets the therapy to its
// proposal. Re-selecting discards earlier customization and validation; a
// rejected eligibility check never reaches this method, so the previous
// selection stays untouched in that case.
func (s *Session) SelectProtocol(p SelectedProtocol, proposed []TherapyLine, actorID types.ID) error {
	if s.Step != StepSelect {
		return fmt.Errorf("protocol can only be selected on the selection step")
	}
	if p.ID.IsZero() {
		return fmt.Errorf("protocol id is required")
	}

	s.Protocol = &p
	s.Customization = NewCustomization(proposed)
	s.ValidatedLines = nil
	s.Validation = nil
	s.Override = nil
	s.UpdatedAt = time.Now()

	s.addEvent(SessionEventTypeProtocolSelected, actorID,
		fmt.Sprintf("Selected protocol: %s", p.Name), map[string]any{
			"protocol_id": p.ID,
			"medicines":   len(proposed),
		})
	return nil
}

// GoTo moves the wizard to another step. Moving backward is always allowed
// and loses nothing; moving forward checks the step's entry conditions and
// never skips a step.
func (s *Session) GoTo(target Step, actorID types.ID) error {
	if !target.Valid() {
		return fmt.Errorf("unknown step %q", target)
	}
	if s.Treatment != nil {
		return fmt.Errorf("session is finished")
	}
	if target == s.Step {
		return nil
	}

	from := s.Step
	if stepOrder[target] > stepOrder[from] {
		if stepOrder[target] != stepOrder[from]+1 {
			return fmt.Errorf("cannot skip from %s to %s", from, target)
		}
		switch target {
		case StepCustomize:
			if s.Protocol == nil {
				return fmt.Errorf("select a protocol first")
			}
		case StepValidate:
			if s.Customization == nil || len(s.Customization.Lines()) == 0 {
				return fmt.Errorf("therapy is empty")
			}
		case StepCreate:
			if !s.CanCreate() {
				return fmt.Errorf("clinical validation has not passed")
			}
		}
	}

	s.Step = target
	s.UpdatedAt = time.Now()
	s.addEvent(SessionEventTypeStepChanged, actorID,
		fmt.Sprintf("Moved from %s to %s", from, target), map[string]any{
			"old_step": from,
			"new_step": target,
		})
	return nil
}

// ApplyCustomization replaces the working therapy with an edited set. A
// recorded validation verdict belongs to the previous therapy and is
// dropped, together with any override.
func (s *Session) ApplyCustomization(next *Customization, actorID types.ID, description string) error {
	if s.Step != StepCustomize {
		return fmt.Errorf("therapy can only be edited on the customization step")
	}
	if next == nil {
		return fmt.Errorf("customization is required")
	}

	s.Customization = next
	s.ValidatedLines = nil
	s.Validation = nil
	s.Override = nil
	s.UpdatedAt = time.Now()

	s.addEvent(SessionEventTypeTherapyCustomized, actorID, description, map[string]any{
		"medicines": len(next.Lines()),
	})
	return nil
}

// SetNotes records the free-text notes that ship with the created
// treatment. Notes stay editable on every step until creation.
func (s *Session) SetNotes(notes string, actorID types.ID) error {
	if s.Treatment != nil {
		return fmt.Errorf("session is finished")
	}
	if s.Notes == notes {
		return nil
	}

	s.Notes = notes
	s.UpdatedAt = time.Now()

	s.addEvent(SessionEventTypeNotesUpdated, actorID, "Treatment notes updated", nil)
	return nil
}

// RecordValidation stores a battery verdict together with the exact
// therapy it was computed for
func (s *Session) RecordValidation(outcome ValidationOutcome, actorID types.ID) error {
	if s.Step != StepValidate {
		return fmt.Errorf("validation can only be recorded on the validation step")
	}
	if s.Customization == nil {
		return fmt.Errorf("no therapy to validate")
	}

	s.Validation = &outcome
	s.ValidatedLines = s.Customization.Lines()
	s.Override = nil
	s.UpdatedAt = time.Now()

	s.addEvent(SessionEventTypeValidationRecorded, actorID,
		fmt.Sprintf("Clinical checks: %d of %d passed", outcome.Passed, outcome.Total),
		map[string]any{
			"passed":   outcome.Passed,
			"total":    outcome.Total,
			"is_valid": outcome.IsValid,
		})
	return nil
}

// OverrideValidation lets the clinician proceed despite a failing or
// unanswered battery. The override is recorded with its reason and shows
// up in the audit trail.
func (s *Session) OverrideValidation(actorID types.ID, reason string) error {
	if s.Step != StepValidate {
		return fmt.Errorf("override is only available on the validation step")
	}
	if reason == "" {
		return fmt.Errorf("override reason is required")
	}
	if s.Validation != nil && s.Validation.IsValid {
		return fmt.Errorf("validation passed, nothing to override")
	}

	s.Override = &OverrideRecord{By: actorID, Reason: reason, At: time.Now()}
	s.UpdatedAt = time.Now()

	s.addEvent(SessionEventTypeValidationOverridden, actorID, reason, map[string]any{
		"overridden_by": actorID,
	})
	return nil
}

// CanCreate reports whether the session may proceed to treatment creation
func (s *Session) CanCreate() bool {
	if s.Validation != nil && s.Validation.IsValid {
		return true
	}
	return s.Override != nil
}

// MarkCreated finishes the session with the created treatment
func (s *Session) MarkCreated(receipt TreatmentReceipt, actorID types.ID) error {
	if s.Step != StepCreate {
		return fmt.Errorf("treatment can only be created on the creation step")
	}
	if s.Treatment != nil {
		return fmt.Errorf("treatment already created")
	}

	s.Treatment = &receipt
	s.UpdatedAt = time.Now()

	s.addEvent(SessionEventTypeTreatmentCreated, actorID,
		fmt.Sprintf("Treatment %s created", receipt.TreatmentID), map[string]any{
			"treatment_id": receipt.TreatmentID,
			"status":       receipt.Status,
		})
	return nil
}

// GetDomainEvents returns and clears domain events
func (s *Session) GetDomainEvents() []Event {
	events := s.domainEvents
	s.domainEvents = nil
	return events
}

// addEvent adds a domain event
func (s *Session) addEvent(eventType SessionEventType, actorID types.ID, description string, data map[string]any) {
	event := SessionEvent{
		ID:          types.NewID(),
		SessionID:   s.ID,
		Type:        eventType,
		ActorID:     actorID,
		Description: description,
		Data:        data,
		Timestamp:   time.Now(),
	}

	s.Timeline = append(s.Timeline, event)

	s.domainEvents = append(s.domainEvents, Event{
		Type:         string(eventType),
		SessionID:    s.ID,
		SessionEvent: event,
	})
}
