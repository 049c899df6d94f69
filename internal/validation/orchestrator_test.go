package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/checks"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// scriptedChecks answers each check kind from a script: a nil entry means
// the call fails, otherwise the bool is the verdict.
type scriptedChecks struct {
	verdicts map[checks.Kind]*bool
}

func verdict(v bool) *bool { return &v }

func (s *scriptedChecks) answer(kind checks.Kind) (*checks.Result, error) {
	v, ok := s.verdicts[kind]
	if !ok || v == nil {
		return nil, errors.New("check service unreachable")
	}
	return &checks.Result{Kind: kind, Valid: *v}, nil
}

func (s *scriptedChecks) CheckInteractions(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return s.answer(checks.KindInteractions)
}

func (s *scriptedChecks) CheckDosage(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return s.answer(checks.KindDosage)
}

func (s *scriptedChecks) CheckAllergies(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return s.answer(checks.KindAllergies)
}

func (s *scriptedChecks) CheckContraindications(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return s.answer(checks.KindContraindications)
}

func (s *scriptedChecks) CheckDuplicateTherapy(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return s.answer(checks.KindDuplicateTherapy)
}

func (s *scriptedChecks) CheckOrganFunction(_ context.Context, _ checks.OrganFunctionInput) (*checks.Result, error) {
	return s.answer(checks.KindOrganFunction)
}

func (s *scriptedChecks) CheckPregnancySafety(_ context.Context, _ checks.BatteryInput) (*checks.Result, error) {
	return s.answer(checks.KindPregnancySafety)
}

func (s *scriptedChecks) CheckResistancePattern(_ context.Context, _ checks.ResistanceInput) (*checks.Result, error) {
	return s.answer(checks.KindResistancePattern)
}

func (s *scriptedChecks) CheckAdherence(_ context.Context, _ checks.AdherenceInput) (*checks.Result, error) {
	return s.answer(checks.KindAdherence)
}

func (s *scriptedChecks) SourceSystem() string { return "scripted" }

func (s *scriptedChecks) Health(_ context.Context) error { return nil }

func batteryInput() checks.BatteryInput {
	return checks.BatteryInput{
		PatientID:  types.ID("patient-1"),
		DoctorID:   types.ID("doctor-1"),
		ProtocolID: types.ID("proto-1"),
	}
}

func TestBatteryAllChecksPass(t *testing.T) {
	adapter := &scriptedChecks{verdicts: map[checks.Kind]*bool{
		checks.KindInteractions:      verdict(true),
		checks.KindDosage:            verdict(true),
		checks.KindAllergies:         verdict(true),
		checks.KindContraindications: verdict(true),
		checks.KindDuplicateTherapy:  verdict(true),
	}}
	o := NewOrchestrator(adapter, time.Second)

	res := o.RunBattery(context.Background(), batteryInput())
	if res.Status.Passed != 5 || res.Status.Total != 5 {
		t.Errorf("expected 5/5, got %d/%d", res.Status.Passed, res.Status.Total)
	}
	if !res.Status.IsValid {
		t.Error("expected valid overall status")
	}
}

func TestBatteryOmitsChecksThatNeverAnswer(t *testing.T) {
	// three of five calls fail; the two answered checks both pass
	adapter := &scriptedChecks{verdicts: map[checks.Kind]*bool{
		checks.KindInteractions: verdict(true),
		checks.KindAllergies:    verdict(true),
	}}
	o := NewOrchestrator(adapter, time.Second)

	res := o.RunBattery(context.Background(), batteryInput())
	if res.Status.Passed != 2 {
		t.Errorf("expected passed = 2, got %d", res.Status.Passed)
	}
	if res.Status.Total != 2 {
		t.Errorf("unanswered checks must not count, total = %d", res.Status.Total)
	}
	if !res.Status.IsValid {
		t.Error("answered checks all passed, status must be valid")
	}
	if len(res.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(res.Results))
	}
}

func TestBatteryFailedCheckInvalidatesStatus(t *testing.T) {
	adapter := &scriptedChecks{verdicts: map[checks.Kind]*bool{
		checks.KindInteractions:      verdict(true),
		checks.KindDosage:            verdict(false),
		checks.KindAllergies:         verdict(true),
		checks.KindContraindications: verdict(true),
		checks.KindDuplicateTherapy:  verdict(true),
	}}
	o := NewOrchestrator(adapter, time.Second)

	res := o.RunBattery(context.Background(), batteryInput())
	if res.Status.Passed != 4 || res.Status.Total != 5 {
		t.Errorf("expected 4/5, got %d/%d", res.Status.Passed, res.Status.Total)
	}
	if res.Status.IsValid {
		t.Error("a failed check must invalidate the overall status")
	}
}

func TestBatteryNoAnswersIsNotValid(t *testing.T) {
	adapter := &scriptedChecks{verdicts: map[checks.Kind]*bool{}}
	o := NewOrchestrator(adapter, time.Second)

	res := o.RunBattery(context.Background(), batteryInput())
	if res.Status.Total != 0 {
		t.Errorf("expected total 0, got %d", res.Status.Total)
	}
	if res.Status.IsValid {
		t.Error("a battery with no answers must not count as valid")
	}
}

func TestBatteryKeepsStableOrder(t *testing.T) {
	adapter := &scriptedChecks{verdicts: map[checks.Kind]*bool{
		checks.KindInteractions:      verdict(true),
		checks.KindDosage:            verdict(true),
		checks.KindAllergies:         verdict(false),
		checks.KindContraindications: verdict(true),
		checks.KindDuplicateTherapy:  verdict(true),
	}}
	o := NewOrchestrator(adapter, time.Second)

	want := []checks.Kind{
		checks.KindInteractions,
		checks.KindDosage,
		checks.KindAllergies,
		checks.KindContraindications,
		checks.KindDuplicateTherapy,
	}
	for run := 0; run < 5; run++ {
		res := o.RunBattery(context.Background(), batteryInput())
		for i, r := range res.Results {
			if r.Kind != want[i] {
				t.Fatalf("run %d: result %d is %s, want %s", run, i, r.Kind, want[i])
			}
		}
	}
}

func TestOnDemandCheckSurfacesTransportError(t *testing.T) {
	adapter := &scriptedChecks{verdicts: map[checks.Kind]*bool{}}
	o := NewOrchestrator(adapter, time.Second)

	_, err := o.CheckResistancePattern(context.Background(), checks.ResistanceInput{
		BatteryInput: batteryInput(),
		Mutations:    []string{"M184V"},
	})
	if err == nil {
		t.Fatal("expected transport error from unanswered on-demand check")
	}
}

func TestOnDemandCheckReturnsVerdict(t *testing.T) {
	adapter := &scriptedChecks{verdicts: map[checks.Kind]*bool{
		checks.KindOrganFunction: verdict(false),
	}}
	o := NewOrchestrator(adapter, time.Second)

	res, err := o.CheckOrganFunction(context.Background(), checks.OrganFunctionInput{
		BatteryInput:        batteryInput(),
		CreatinineClearance: 42,
	})
	if err != nil {
		t.Fatalf("CheckOrganFunction failed: %v", err)
	}
	if res.Valid {
		t.Error("expected failing verdict to pass through")
	}
}
