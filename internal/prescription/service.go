// Package prescription drives the prescription wizard: it holds the live
// sessions, gates protocol selection on eligibility, applies therapy
// edits, runs the clinical check battery and hands finished sessions to
// the treatment finalizer.
package prescription

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hiv-care-hub/platform/internal/adapters/checks"
	"github.com/hiv-care-hub/platform/internal/catalog"
	"github.com/hiv-care-hub/platform/internal/medicine"
	"github.com/hiv-care-hub/platform/internal/prescription/domain"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/events"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
	"github.com/hiv-care-hub/platform/internal/shared/types"
	"github.com/hiv-care-hub/platform/internal/treatment"
	"github.com/hiv-care-hub/platform/internal/validation"
)

// entry wraps a session with its concurrency state. The per-entry mutex
// serializes commands on one session; the flags keep a validation run and
// a treatment submission single-flight.
type entry struct {
	mu         sync.Mutex
	session    *domain.Session
	revision   int
	validating bool
	creating   bool
}

// Service is the prescription wizard service
type Service struct {
	catalog      *catalog.Service
	medicines    *medicine.Cache
	orchestrator *validation.Orchestrator
	finalizer    *treatment.Finalizer
	bus          events.EventBus

	ttl          time.Duration
	reapInterval time.Duration

	mu       sync.RWMutex
	sessions map[types.ID]*entry
}

// NewService creates the wizard service
func NewService(
	catalogSvc *catalog.Service,
	medicines *medicine.Cache,
	orchestrator *validation.Orchestrator,
	finalizer *treatment.Finalizer,
	bus events.EventBus,
	ttl, reapInterval time.Duration,
) *Service {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if reapInterval <= 0 {
		reapInterval = 10 * time.Minute
	}
	return &Service{
		catalog:      catalogSvc,
		medicines:    medicines,
		orchestrator: orchestrator,
		finalizer:    finalizer,
		bus:          bus,
		ttl:          ttl,
		reapInterval: reapInterval,
		sessions:     make(map[types.ID]*entry),
	}
}

// StartSession opens a new wizard session for a patient
func (s *Service) StartSession(ctx context.Context, patientID, doctorID, appointmentID types.ID) (*domain.Session, error) {
	session, err := domain.NewSession(patientID, doctorID, appointmentID)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}

	s.mu.Lock()
	s.sessions[session.ID] = &entry{session: session}
	s.mu.Unlock()

	metrics.RecordSessionStarted()
	s.publishEvents(session.GetDomainEvents())
	slog.Info("prescription session started",
		"session_id", session.ID,
		"patient_id", patientID,
		"doctor_id", doctorID)
	return session, nil
}

// GetSession returns a live session
func (s *Service) GetSession(sessionID types.ID) (*domain.Session, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

func (s *Service) entry(sessionID types.ID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("session", sessionID.String())
	}
	return e, nil
}

// withSession runs a command under the session's lock and publishes the
// domain events it produced. Commands are rejected while a treatment
// submission is in flight: the finalizer reads the session outside the
// lock and relies on nothing changing until the receipt is recorded.
func (s *Service) withSession(sessionID types.ID, fn func(*entry) error) error {
	e, err := s.entry(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.creating {
		e.mu.Unlock()
		return apperrors.Conflict("treatment creation is in progress")
	}
	err = fn(e)
	collected := e.session.GetDomainEvents()
	e.mu.Unlock()

	s.publishEvents(collected)
	return err
}

// SelectProtocol checks eligibility and records the chosen protocol with
// its proposed therapy. A rejected protocol returns the rejection reasons
// and leaves the current selection untouched.
func (s *Service) SelectProtocol(ctx context.Context, sessionID, protocolID, actorID types.ID) error {
	return s.withSession(sessionID, func(e *entry) error {
		if err := s.catalog.CheckEligibility(ctx, protocolID, e.session.PatientID); err != nil {
			return err
		}

		p, err := s.catalog.GetProtocol(ctx, protocolID)
		if err != nil {
			return err
		}

		proposed := make([]domain.TherapyLine, 0, len(p.Medicines))
		for _, pm := range p.Medicines {
			line := domain.TherapyLine{
				Key:           pm.ID.String(),
				MedicineID:    pm.MedicineID,
				Dosage:        pm.Dosage,
				DurationValue: pm.DurationValue,
				DurationUnit:  pm.DurationUnit,
				Notes:         pm.Notes,
			}
			if pm.Medicine != nil {
				line.MedicineName = pm.Medicine.Name
				line.Cost = pm.Medicine.Price
			}
			proposed = append(proposed, line)
		}

		if err := e.session.SelectProtocol(domain.SelectedProtocol{
			ID:            p.ID,
			Name:          p.Name,
			TargetDisease: p.TargetDisease,
		}, proposed, actorID); err != nil {
			return apperrors.BadRequest(err.Error())
		}
		e.revision++
		return nil
	})
}

// Navigate moves the wizard between steps
func (s *Service) Navigate(sessionID types.ID, target domain.Step, actorID types.ID) error {
	return s.withSession(sessionID, func(e *entry) error {
		from := e.session.Step
		if err := e.session.GoTo(target, actorID); err != nil {
			return apperrors.BadRequest(err.Error())
		}
		if from != e.session.Step {
			metrics.RecordTransition(string(from), string(target))
		}
		return nil
	})
}

// ToggleOverride flips a protocol line between proposed and editable
func (s *Service) ToggleOverride(sessionID types.ID, key string, actorID types.ID) error {
	return s.applyEdit(sessionID, actorID, "Toggled medicine override", func(c *domain.Customization) (*domain.Customization, error) {
		return c.ToggleOverride(key)
	})
}

// AddMedicine appends a clinician-chosen medicine to the therapy. Name and
// cost come from the reference cache.
func (s *Service) AddMedicine(ctx context.Context, sessionID, medicineID types.ID, dosage string, durationValue int, durationUnit, notes string, actorID types.ID) error {
	m, err := s.medicines.Get(ctx, medicineID)
	if err != nil {
		return apperrors.ReferenceUnavailable("medicine_reference", err)
	}

	return s.applyEdit(sessionID, actorID, "Added medicine "+m.Name, func(c *domain.Customization) (*domain.Customization, error) {
		return c.AddCustom(domain.TherapyLine{
			Key:           uuid.NewString(),
			MedicineID:    m.ID,
			MedicineName:  m.Name,
			Dosage:        dosage,
			DurationValue: durationValue,
			DurationUnit:  durationUnit,
			Notes:         notes,
			Cost:          m.Price,
		})
	})
}

// LineUpdate is an edit to one therapy line as received from the client
type LineUpdate struct {
	MedicineID    *types.ID
	Dosage        *string
	DurationValue *int
	DurationUnit  *string
	Notes         *string
}

// UpdateLine applies a partial edit. A medicine swap resolves the new
// medicine's name and price before the change reaches the therapy; a
// later update simply replaces an earlier one.
func (s *Service) UpdateLine(ctx context.Context, sessionID types.ID, key string, update LineUpdate, actorID types.ID) error {
	change := domain.LineChange{
		Dosage:        update.Dosage,
		DurationValue: update.DurationValue,
		DurationUnit:  update.DurationUnit,
		Notes:         update.Notes,
	}
	if update.MedicineID != nil {
		m, err := s.medicines.Get(ctx, *update.MedicineID)
		if err != nil {
			return apperrors.ReferenceUnavailable("medicine_reference", err)
		}
		change.MedicineID = &m.ID
		change.MedicineName = &m.Name
		change.Cost = &m.Price
	}

	return s.applyEdit(sessionID, actorID, "Updated medicine line", func(c *domain.Customization) (*domain.Customization, error) {
		return c.Update(key, change)
	})
}

// RemoveLine drops a line from the therapy
func (s *Service) RemoveLine(sessionID types.ID, key string, actorID types.ID) error {
	return s.applyEdit(sessionID, actorID, "Removed medicine line", func(c *domain.Customization) (*domain.Customization, error) {
		return c.Remove(key)
	})
}

func (s *Service) applyEdit(sessionID, actorID types.ID, description string, edit func(*domain.Customization) (*domain.Customization, error)) error {
	return s.withSession(sessionID, func(e *entry) error {
		if e.session.Customization == nil {
			return apperrors.BadRequest("no protocol selected")
		}
		next, err := edit(e.session.Customization)
		if err != nil {
			return apperrors.BadRequest(err.Error())
		}
		if err := e.session.ApplyCustomization(next, actorID, description); err != nil {
			return apperrors.BadRequest(err.Error())
		}
		e.revision++
		return nil
	})
}

// SetNotes records the treatment notes that accompany the creation payload
func (s *Service) SetNotes(sessionID types.ID, notes string, actorID types.ID) error {
	return s.withSession(sessionID, func(e *entry) error {
		if err := e.session.SetNotes(notes, actorID); err != nil {
			return apperrors.BadRequest(err.Error())
		}
		return nil
	})
}

// Costs returns the advisory cost comparison for the working therapy
func (s *Service) Costs(sessionID types.ID) (*domain.CostComparison, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Customization == nil {
		return nil, apperrors.BadRequest("no protocol selected")
	}
	costs := e.session.Customization.Costs()
	return &costs, nil
}

// Validate runs the clinical check battery for the session's therapy. One
// battery per session runs at a time, and a verdict is recorded only if
// the therapy was not edited while the battery was in flight.
func (s *Service) Validate(ctx context.Context, sessionID, actorID types.ID) (*domain.ValidationOutcome, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.session.Step != domain.StepValidate {
		e.mu.Unlock()
		return nil, apperrors.BadRequest("validation runs on the validation step")
	}
	if e.validating {
		e.mu.Unlock()
		return nil, apperrors.Conflict("validation is already running for this session")
	}
	if e.creating {
		e.mu.Unlock()
		return nil, apperrors.Conflict("treatment creation is in progress")
	}
	e.validating = true
	startRevision := e.revision
	input := s.batteryInput(e.session)
	e.mu.Unlock()

	result := s.orchestrator.RunBattery(ctx, input)
	outcome := toOutcome(result)

	e.mu.Lock()
	e.validating = false
	if e.revision != startRevision {
		// therapy changed under the running battery; the verdict
		// describes a therapy that no longer exists
		e.mu.Unlock()
		slog.Info("discarding stale validation result", "session_id", sessionID)
		return nil, apperrors.Conflict("therapy changed during validation, run it again")
	}
	err = e.session.RecordValidation(outcome, actorID)
	collected := e.session.GetDomainEvents()
	e.mu.Unlock()

	s.publishEvents(collected)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	return &outcome, nil
}

func (s *Service) batteryInput(session *domain.Session) checks.BatteryInput {
	input := checks.BatteryInput{
		PatientID: session.PatientID,
		DoctorID:  session.DoctorID,
	}
	if session.Protocol != nil {
		input.ProtocolID = session.Protocol.ID
	}
	if session.Customization != nil {
		for _, line := range session.Customization.Lines() {
			input.Therapy = append(input.Therapy, checks.TherapyLine{
				MedicineID:    line.MedicineID,
				MedicineName:  line.MedicineName,
				Dosage:        line.Dosage,
				DurationValue: line.DurationValue,
				DurationUnit:  line.DurationUnit,
			})
		}
	}
	return input
}

func toOutcome(result *validation.BatteryResult) domain.ValidationOutcome {
	outcome := domain.ValidationOutcome{
		Passed:  result.Status.Passed,
		Total:   result.Status.Total,
		IsValid: result.Status.IsValid,
		RanAt:   result.RanAt,
	}
	for _, r := range result.Results {
		outcome.Findings = append(outcome.Findings, domain.ValidationFinding{
			Kind:            string(r.Kind),
			Valid:           r.Valid,
			Recommendations: r.Recommendations,
		})
	}
	return outcome
}

// Override records the clinician proceeding despite a failing battery
func (s *Service) Override(sessionID types.ID, reason string, actorID types.ID) error {
	return s.withSession(sessionID, func(e *entry) error {
		if err := e.session.OverrideValidation(actorID, reason); err != nil {
			return apperrors.BadRequest(err.Error())
		}
		return nil
	})
}

// Create submits the therapy as a treatment. Duplicate submissions are
// collapsed: a second call while one is in flight is rejected, and a call
// after success returns the existing receipt.
func (s *Service) Create(ctx context.Context, sessionID, actorID types.ID) (*domain.TreatmentReceipt, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.session.Treatment != nil {
		receipt := *e.session.Treatment
		e.mu.Unlock()
		return &receipt, nil
	}
	if e.session.Step != domain.StepCreate {
		e.mu.Unlock()
		return nil, apperrors.BadRequest("session is not on the creation step")
	}
	if e.creating {
		e.mu.Unlock()
		return nil, apperrors.Conflict("treatment creation is already in progress")
	}
	e.creating = true
	session := e.session
	e.mu.Unlock()

	receipt, finalizeErr := s.finalizer.Finalize(ctx, session)

	e.mu.Lock()
	e.creating = false
	if finalizeErr != nil {
		// state untouched; the clinician may retry as-is
		e.mu.Unlock()
		return nil, finalizeErr
	}
	err = session.MarkCreated(*receipt, actorID)
	collected := session.GetDomainEvents()
	e.mu.Unlock()

	s.publishEvents(collected)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return receipt, nil
}

// On-demand clinical checks from the review screen

func (s *Service) CheckOrganFunction(ctx context.Context, sessionID types.ID, labs checks.OrganFunctionInput) (*checks.Result, error) {
	if err := s.fillBattery(sessionID, &labs.BatteryInput); err != nil {
		return nil, err
	}
	return s.orchestrator.CheckOrganFunction(ctx, labs)
}

func (s *Service) CheckPregnancySafety(ctx context.Context, sessionID types.ID) (*checks.Result, error) {
	var input checks.BatteryInput
	if err := s.fillBattery(sessionID, &input); err != nil {
		return nil, err
	}
	return s.orchestrator.CheckPregnancySafety(ctx, input)
}

func (s *Service) CheckResistancePattern(ctx context.Context, sessionID types.ID, mutations []string) (*checks.Result, error) {
	input := checks.ResistanceInput{Mutations: mutations}
	if err := s.fillBattery(sessionID, &input.BatteryInput); err != nil {
		return nil, err
	}
	return s.orchestrator.CheckResistancePattern(ctx, input)
}

func (s *Service) CheckAdherence(ctx context.Context, sessionID types.ID, dispensed, taken, periodDays int) (*checks.Result, error) {
	input := checks.AdherenceInput{PillsDispensed: dispensed, PillsTaken: taken, PeriodDays: periodDays}
	if err := s.fillBattery(sessionID, &input.BatteryInput); err != nil {
		return nil, err
	}
	return s.orchestrator.CheckAdherence(ctx, input)
}

func (s *Service) fillBattery(sessionID types.ID, input *checks.BatteryInput) error {
	e, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	filled := s.batteryInput(e.session)
	input.PatientID = filled.PatientID
	input.DoctorID = filled.DoctorID
	input.ProtocolID = filled.ProtocolID
	input.Therapy = filled.Therapy
	return nil
}

// StartReaper drops sessions idle longer than the TTL. Runs until the
// context is cancelled.
func (s *Service) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reap()
			}
		}
	}()
}

func (s *Service) reap() {
	cutoff := time.Now().Add(-s.ttl)
	var expired []types.ID

	s.mu.Lock()
	for id, e := range s.sessions {
		e.mu.Lock()
		idle := e.session.UpdatedAt.Before(cutoff) && !e.creating && !e.validating
		e.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		slog.Info("reaped idle prescription sessions", "count", len(expired))
	}
}

// publishEvents forwards domain events to the event bus
func (s *Service) publishEvents(domainEvents []domain.Event) {
	if s.bus == nil || len(domainEvents) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, de := range domainEvents {
			event := events.NewEvent("prescription."+de.Type, "prescription-service", de).
				WithActor(de.SessionEvent.ActorID, "clinical")
			if err := s.bus.Publish(ctx, event); err != nil {
				slog.Error("failed to publish session event",
					"type", event.Type,
					"session_id", de.SessionID,
					"error", err)
			}
		}
	}()
}
