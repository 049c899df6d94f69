package treatment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/emr"
	"github.com/hiv-care-hub/platform/internal/notification"
	"github.com/hiv-care-hub/platform/internal/prescription/domain"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

type fakeEMR struct {
	requests []emr.CreateTreatmentRequest
	fail     bool
}

func (f *fakeEMR) CreateTreatment(_ context.Context, req emr.CreateTreatmentRequest) (*emr.TreatmentRecord, error) {
	f.requests = append(f.requests, req)
	if f.fail {
		return nil, apperrors.CreationFailed("duplicate active treatment for patient")
	}
	return &emr.TreatmentRecord{
		ID:        types.ID("treat-1"),
		Status:    "active",
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeEMR) SourceSystem() string           { return "fake-emr" }
func (f *fakeEMR) Health(_ context.Context) error { return nil }

type recordingNotifier struct {
	notices []*notification.Notice
}

func (r *recordingNotifier) Notify(notice *notification.Notice) {
	r.notices = append(r.notices, notice)
}

func readySession(t *testing.T) *domain.Session {
	t.Helper()
	s, err := domain.NewSession(types.ID("patient-1"), types.ID("doctor-1"), types.ID("appt-1"))
	if err != nil {
		t.Fatal(err)
	}
	err = s.SelectProtocol(domain.SelectedProtocol{
		ID:   types.ID("proto-1"),
		Name: "First line ART",
	}, []domain.TherapyLine{
		{Key: "line-a", MedicineID: types.ID("med-a"), MedicineName: "Tenofovir", Dosage: "1x1", DurationValue: 30, DurationUnit: "days", Cost: 10},
		{Key: "line-b", MedicineID: types.ID("med-b"), MedicineName: "Lamivudine", Dosage: "1x1", DurationValue: 30, DurationUnit: "days", Cost: 20},
	}, types.ID("doctor-1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetNotes("monitor renal function monthly", types.ID("doctor-1")); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFinalizeAssemblesFullPayload(t *testing.T) {
	emrFake := &fakeEMR{}
	notifier := &recordingNotifier{}
	f := NewFinalizer(emrFake, notifier)

	receipt, err := f.Finalize(context.Background(), readySession(t))
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if receipt.TreatmentID != "treat-1" || receipt.Status != "active" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}

	if len(emrFake.requests) != 1 {
		t.Fatalf("expected one submission, got %d", len(emrFake.requests))
	}
	req := emrFake.requests[0]
	if req.PatientID != "patient-1" || req.DoctorID != "doctor-1" || req.ProtocolID != "proto-1" {
		t.Errorf("identity fields wrong: %+v", req)
	}
	if len(req.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(req.Lines))
	}
	if req.Notes != "monitor renal function monthly" {
		t.Errorf("treatment notes not carried: %q", req.Notes)
	}
	// untouched therapy carries no customization entries on the customized side
	if req.Costs.Original != 30 || req.Costs.Customized != 0 || req.Costs.Difference != -30 {
		t.Errorf("unexpected cost summary: %+v", req.Costs)
	}

	if len(notifier.notices) != 1 || notifier.notices[0].Kind != notification.KindTreatmentCreated {
		t.Errorf("expected a created notice, got %+v", notifier.notices)
	}
}

func TestFinalizeFailureCarriesServerMessage(t *testing.T) {
	emrFake := &fakeEMR{fail: true}
	notifier := &recordingNotifier{}
	f := NewFinalizer(emrFake, notifier)

	session := readySession(t)
	_, err := f.Finalize(context.Background(), session)
	if err == nil {
		t.Fatal("expected failure")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Message != "duplicate active treatment for patient" {
		t.Errorf("server message not carried verbatim: %q", appErr.Message)
	}

	if len(notifier.notices) != 1 || notifier.notices[0].Kind != notification.KindTreatmentFailed {
		t.Errorf("expected a failed notice, got %+v", notifier.notices)
	}
}

func TestFinalizeRetryBuildsIdenticalPayload(t *testing.T) {
	emrFake := &fakeEMR{fail: true}
	f := NewFinalizer(emrFake, nil)
	session := readySession(t)

	if _, err := f.Finalize(context.Background(), session); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	emrFake.fail = false
	if _, err := f.Finalize(context.Background(), session); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if len(emrFake.requests) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(emrFake.requests))
	}
	first, second := emrFake.requests[0], emrFake.requests[1]
	if len(first.Lines) != len(second.Lines) || first.Costs != second.Costs ||
		first.ProtocolID != second.ProtocolID {
		t.Error("retry must submit the identical payload")
	}
}

func TestFinalizeRejectsIncompleteSession(t *testing.T) {
	f := NewFinalizer(&fakeEMR{}, nil)
	s, err := domain.NewSession(types.ID("patient-1"), types.ID("doctor-1"), types.ID(""))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Finalize(context.Background(), s); err == nil {
		t.Error("expected error for a session without a protocol")
	}
}
