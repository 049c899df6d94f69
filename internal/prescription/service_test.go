package prescription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/checks"
	"github.com/hiv-care-hub/platform/internal/adapters/emr"
	"github.com/hiv-care-hub/platform/internal/adapters/medref"
	"github.com/hiv-care-hub/platform/internal/adapters/protocol"
	"github.com/hiv-care-hub/platform/internal/catalog"
	"github.com/hiv-care-hub/platform/internal/medicine"
	"github.com/hiv-care-hub/platform/internal/prescription/domain"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/types"
	"github.com/hiv-care-hub/platform/internal/treatment"
	"github.com/hiv-care-hub/platform/internal/validation"
)

var (
	patientID = types.ID("patient-1")
	doctorID  = types.ID("doctor-1")
)

// catalog fake

type fakeCatalog struct {
	eligible bool
	reasons  []string
}

func (f *fakeCatalog) ListProtocols(_ context.Context, _ protocol.Filter) ([]protocol.Protocol, error) {
	return []protocol.Protocol{{
		ID:            types.ID("proto-1"),
		Name:          "First line ART",
		TargetDisease: "HIV",
		Medicines: []protocol.ProtocolMedicine{
			{
				ID:            types.ID("line-a"),
				MedicineID:    types.ID("med-a"),
				Medicine:      &medref.Medicine{ID: types.ID("med-a"), Name: "Tenofovir", Price: 10},
				Dosage:        "1x1",
				DurationValue: 30,
				DurationUnit:  "days",
			},
			{
				ID:            types.ID("line-b"),
				MedicineID:    types.ID("med-b"),
				Medicine:      &medref.Medicine{ID: types.ID("med-b"), Name: "Lamivudine", Price: 20},
				Dosage:        "1x1",
				DurationValue: 30,
				DurationUnit:  "days",
			},
		},
	}}, nil
}

func (f *fakeCatalog) SupportsRanking() bool { return true }

func (f *fakeCatalog) ValidateForPatient(_ context.Context, _, _ types.ID) (*protocol.Eligibility, error) {
	return &protocol.Eligibility{IsValid: f.eligible, Errors: f.reasons}, nil
}

func (f *fakeCatalog) SourceSystem() string           { return "fake-catalog" }
func (f *fakeCatalog) Health(_ context.Context) error { return nil }

// medicine reference fake

type fakeReference struct{}

func (f *fakeReference) ListMedicines(_ context.Context, _ medref.Page) ([]medref.Medicine, int, error) {
	return nil, 0, nil
}

func (f *fakeReference) GetMedicine(_ context.Context, id types.ID) (*medref.Medicine, error) {
	known := map[types.ID]medref.Medicine{
		"med-a": {ID: "med-a", Name: "Tenofovir", Price: 10},
		"med-b": {ID: "med-b", Name: "Lamivudine", Price: 20},
		"med-c": {ID: "med-c", Name: "Dolutegravir", Price: 50},
	}
	m, ok := known[id]
	if !ok {
		return nil, errors.New("medicine not found")
	}
	return &m, nil
}

func (f *fakeReference) SourceSystem() string           { return "fake-ref" }
func (f *fakeReference) Health(_ context.Context) error { return nil }

// checks fake: all pass unless failing is set; block lets a test hold a
// battery open

type fakeChecks struct {
	mu          sync.Mutex
	failing     bool
	block       chan struct{}
	started     chan struct{}
	startedOnce sync.Once
}

func (f *fakeChecks) answer(kind checks.Kind) (*checks.Result, error) {
	f.mu.Lock()
	block := f.block
	started := f.started
	failing := f.failing
	f.mu.Unlock()
	if started != nil {
		f.startedOnce.Do(func() { close(started) })
	}
	if block != nil {
		<-block
	}
	return &checks.Result{Kind: kind, Valid: !failing}, nil
}

func (f *fakeChecks) CheckInteractions(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return f.answer(checks.KindInteractions)
}

func (f *fakeChecks) CheckDosage(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return f.answer(checks.KindDosage)
}

func (f *fakeChecks) CheckAllergies(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return f.answer(checks.KindAllergies)
}

func (f *fakeChecks) CheckContraindications(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return f.answer(checks.KindContraindications)
}

func (f *fakeChecks) CheckDuplicateTherapy(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return f.answer(checks.KindDuplicateTherapy)
}

func (f *fakeChecks) CheckOrganFunction(_ context.Context, _ checks.OrganFunctionInput) (*checks.Result, error) {
	return f.answer(checks.KindOrganFunction)
}

func (f *fakeChecks) CheckPregnancySafety(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return f.answer(checks.KindPregnancySafety)
}

func (f *fakeChecks) CheckResistancePattern(_ context.Context, _ checks.ResistanceInput) (*checks.Result, error) {
	return f.answer(checks.KindResistancePattern)
}

func (f *fakeChecks) CheckAdherence(_ context.Context, _ checks.AdherenceInput) (*checks.Result, error) {
	return f.answer(checks.KindAdherence)
}

func (f *fakeChecks) SourceSystem() string           { return "fake-checks" }
func (f *fakeChecks) Health(_ context.Context) error { return nil }

// EMR fake

type fakeEMR struct {
	mu          sync.Mutex
	calls       int
	fail        bool
	block       chan struct{}
	started     chan struct{}
	startedOnce sync.Once
}

func (f *fakeEMR) CreateTreatment(_ context.Context, _ emr.CreateTreatmentRequest) (*emr.TreatmentRecord, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	block := f.block
	started := f.started
	f.mu.Unlock()

	if started != nil {
		f.startedOnce.Do(func() { close(started) })
	}
	if block != nil {
		<-block
	}
	if fail {
		return nil, apperrors.CreationFailed("EMR rejected the treatment")
	}
	return &emr.TreatmentRecord{ID: types.ID("treat-1"), Status: "active", CreatedAt: time.Now()}, nil
}

func (f *fakeEMR) SourceSystem() string           { return "fake-emr" }
func (f *fakeEMR) Health(_ context.Context) error { return nil }

type testEnv struct {
	svc     *Service
	catalog *fakeCatalog
	checks  *fakeChecks
	emr     *fakeEMR
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cat := &fakeCatalog{eligible: true}
	chk := &fakeChecks{}
	emrFake := &fakeEMR{}

	cache := medicine.NewCache(&fakeReference{}, 10)
	catalogSvc := catalog.NewService(cat, cache, "HIV")
	orchestrator := validation.NewOrchestrator(chk, 5*time.Second)
	finalizer := treatment.NewFinalizer(emrFake, nil)

	svc := NewService(catalogSvc, cache, orchestrator, finalizer, nil, time.Hour, time.Minute)
	return &testEnv{svc: svc, catalog: cat, checks: chk, emr: emrFake}
}

func (env *testEnv) startSession(t *testing.T) *domain.Session {
	t.Helper()
	session, err := env.svc.StartSession(context.Background(), patientID, doctorID, types.ID("appt-1"))
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return session
}

func (env *testEnv) toValidate(t *testing.T, sessionID types.ID) {
	t.Helper()
	if err := env.svc.SelectProtocol(context.Background(), sessionID, types.ID("proto-1"), doctorID); err != nil {
		t.Fatalf("SelectProtocol failed: %v", err)
	}
	for _, step := range []domain.Step{domain.StepCustomize, domain.StepValidate} {
		if err := env.svc.Navigate(sessionID, step, doctorID); err != nil {
			t.Fatalf("Navigate to %s failed: %v", step, err)
		}
	}
}

func TestSelectProtocolLoadsProposedTherapy(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)

	if err := env.svc.SelectProtocol(context.Background(), session.ID, types.ID("proto-1"), doctorID); err != nil {
		t.Fatalf("SelectProtocol failed: %v", err)
	}

	got, err := env.svc.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Protocol == nil || got.Protocol.ID != "proto-1" {
		t.Fatalf("protocol not selected: %+v", got.Protocol)
	}
	lines := got.Customization.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 proposed lines, got %d", len(lines))
	}
	if lines[0].MedicineName != "Tenofovir" || lines[0].Cost != 10 {
		t.Errorf("proposed line not enriched: %+v", lines[0])
	}
}

func TestEligibilityRejectionKeepsSelectionUnset(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.eligible = false
	env.catalog.reasons = []string{"patient has no confirmed HIV diagnosis"}
	session := env.startSession(t)

	err := env.svc.SelectProtocol(context.Background(), session.ID, types.ID("proto-1"), doctorID)
	if err == nil {
		t.Fatal("expected eligibility rejection")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != "ELIGIBILITY_REJECTED" {
		t.Fatalf("expected ELIGIBILITY_REJECTED, got %v", err)
	}
	if len(appErr.Reasons) == 0 {
		t.Error("rejection must carry its reasons")
	}

	got, _ := env.svc.GetSession(session.ID)
	if got.Protocol != nil {
		t.Error("rejected selection must leave the protocol unset")
	}
	if got.Step != domain.StepSelect {
		t.Errorf("step = %s, want %s", got.Step, domain.StepSelect)
	}
}

func TestValidateRecordsOutcome(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)
	env.toValidate(t, session.ID)

	outcome, err := env.svc.Validate(context.Background(), session.ID, doctorID)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if outcome.Passed != 5 || outcome.Total != 5 || !outcome.IsValid {
		t.Errorf("unexpected outcome: %+v", outcome)
	}

	got, _ := env.svc.GetSession(session.ID)
	if got.Validation == nil {
		t.Error("verdict not recorded on the session")
	}
}

func TestValidateSingleFlight(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)
	env.toValidate(t, session.ID)

	block := make(chan struct{})
	started := make(chan struct{})
	env.checks.mu.Lock()
	env.checks.block = block
	env.checks.started = started
	env.checks.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() {
		_, err := env.svc.Validate(context.Background(), session.ID, doctorID)
		firstDone <- err
	}()

	// wait until the first battery is actually running
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first battery never started")
	}

	_, err := env.svc.Validate(context.Background(), session.ID, doctorID)
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT from concurrent Validate, got %v", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Validate failed: %v", err)
	}
}

func TestStaleValidationDiscardedAfterEdit(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)
	env.toValidate(t, session.ID)

	block := make(chan struct{})
	started := make(chan struct{})
	env.checks.mu.Lock()
	env.checks.block = block
	env.checks.started = started
	env.checks.mu.Unlock()

	validateDone := make(chan error, 1)
	go func() {
		_, err := env.svc.Validate(context.Background(), session.ID, doctorID)
		validateDone <- err
	}()

	// edit the therapy while the battery is in flight
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("battery never started")
	}
	if err := env.svc.Navigate(session.ID, domain.StepCustomize, doctorID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.RemoveLine(session.ID, "line-b", doctorID); err != nil {
		t.Fatal(err)
	}
	close(block)

	err := <-validateDone
	if err == nil {
		t.Fatal("expected the stale battery result to be discarded")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %v", err)
	}

	got, _ := env.svc.GetSession(session.ID)
	if got.Validation != nil {
		t.Error("stale verdict must not be recorded")
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)
	env.toValidate(t, session.ID)
	if _, err := env.svc.Validate(context.Background(), session.ID, doctorID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Navigate(session.ID, domain.StepCreate, doctorID); err != nil {
		t.Fatal(err)
	}

	first, err := env.svc.Create(context.Background(), session.ID, doctorID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := env.svc.Create(context.Background(), session.ID, doctorID)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if first.TreatmentID != second.TreatmentID {
		t.Error("repeated create must return the same receipt")
	}
	if env.emr.calls != 1 {
		t.Errorf("EMR must be called once, got %d", env.emr.calls)
	}
}

func TestCreateFailureAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	env.emr.fail = true
	session := env.startSession(t)
	env.toValidate(t, session.ID)
	if _, err := env.svc.Validate(context.Background(), session.ID, doctorID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Navigate(session.ID, domain.StepCreate, doctorID); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.Create(context.Background(), session.ID, doctorID); err == nil {
		t.Fatal("expected create failure")
	}

	got, _ := env.svc.GetSession(session.ID)
	if got.Treatment != nil {
		t.Error("failed create must not finish the session")
	}

	env.emr.mu.Lock()
	env.emr.fail = false
	env.emr.mu.Unlock()
	if _, err := env.svc.Create(context.Background(), session.ID, doctorID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestSessionIsFrozenWhileCreationInFlight(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)
	env.toValidate(t, session.ID)
	if _, err := env.svc.Validate(context.Background(), session.ID, doctorID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Navigate(session.ID, domain.StepCreate, doctorID); err != nil {
		t.Fatal(err)
	}

	block := make(chan struct{})
	started := make(chan struct{})
	env.emr.mu.Lock()
	env.emr.block = block
	env.emr.started = started
	env.emr.mu.Unlock()

	createDone := make(chan error, 1)
	go func() {
		_, err := env.svc.Create(context.Background(), session.ID, doctorID)
		createDone <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("submission never started")
	}

	// the submitted payload must stay the session's state of record:
	// neither navigation nor edits may slip in mid-flight
	wantConflict := func(op string, err error) {
		t.Helper()
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) || appErr.Code != "CONFLICT" {
			t.Fatalf("%s during in-flight creation: expected CONFLICT, got %v", op, err)
		}
	}
	wantConflict("Navigate", env.svc.Navigate(session.ID, domain.StepValidate, doctorID))
	wantConflict("ToggleOverride", env.svc.ToggleOverride(session.ID, "line-a", doctorID))
	wantConflict("SetNotes", env.svc.SetNotes(session.ID, "late notes", doctorID))

	close(block)
	if err := <-createDone; err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := env.svc.GetSession(session.ID)
	if got.Treatment == nil {
		t.Fatal("receipt not recorded on the session")
	}
	if _, err := env.svc.Create(context.Background(), session.ID, doctorID); err != nil {
		t.Fatalf("repeat Create failed: %v", err)
	}
	if env.emr.calls != 1 {
		t.Errorf("EMR must be called once, got %d", env.emr.calls)
	}
}

func TestNotesTravelToTreatmentPayload(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)

	if err := env.svc.SetNotes(session.ID, "start after viral load result", doctorID); err != nil {
		t.Fatalf("SetNotes failed: %v", err)
	}
	got, _ := env.svc.GetSession(session.ID)
	if got.Notes != "start after viral load result" {
		t.Errorf("notes not recorded: %q", got.Notes)
	}
}

func TestOverrideUnlocksCreation(t *testing.T) {
	env := newTestEnv(t)
	env.checks.failing = true
	session := env.startSession(t)
	env.toValidate(t, session.ID)

	outcome, err := env.svc.Validate(context.Background(), session.ID, doctorID)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.IsValid {
		t.Fatal("expected failing battery")
	}
	if err := env.svc.Navigate(session.ID, domain.StepCreate, doctorID); err == nil {
		t.Fatal("failing battery must block creation")
	}

	if err := env.svc.Override(session.ID, "benefit outweighs the flagged interaction", doctorID); err != nil {
		t.Fatalf("Override failed: %v", err)
	}
	if err := env.svc.Navigate(session.ID, domain.StepCreate, doctorID); err != nil {
		t.Fatalf("Navigate after override failed: %v", err)
	}
	if _, err := env.svc.Create(context.Background(), session.ID, doctorID); err != nil {
		t.Fatalf("Create after override failed: %v", err)
	}
}

func TestTherapyEditingRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)
	if err := env.svc.SelectProtocol(context.Background(), session.ID, types.ID("proto-1"), doctorID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Navigate(session.ID, domain.StepCustomize, doctorID); err != nil {
		t.Fatal(err)
	}

	if err := env.svc.AddMedicine(context.Background(), session.ID, types.ID("med-c"), "1x1", 30, "days", "", doctorID); err != nil {
		t.Fatalf("AddMedicine failed: %v", err)
	}
	if err := env.svc.ToggleOverride(session.ID, "line-a", doctorID); err != nil {
		t.Fatalf("ToggleOverride failed: %v", err)
	}
	newMed := types.ID("med-b")
	if err := env.svc.UpdateLine(context.Background(), session.ID, "line-a", LineUpdate{MedicineID: &newMed}, doctorID); err != nil {
		t.Fatalf("UpdateLine failed: %v", err)
	}

	costs, err := env.svc.Costs(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	// proposed 30; customization entries are the overridden line-a
	// (swapped 10 -> 20) and the custom med-c (50)
	if costs.Original != 30 || costs.Customized != 70 || costs.Difference != 40 {
		t.Errorf("unexpected costs: %+v", costs)
	}
}

func TestReaperDropsIdleSessions(t *testing.T) {
	env := newTestEnv(t)
	env.svc.ttl = 10 * time.Millisecond
	session := env.startSession(t)

	time.Sleep(20 * time.Millisecond)
	env.svc.reap()

	if _, err := env.svc.GetSession(session.ID); err == nil {
		t.Error("idle session must be reaped")
	}
}
