// Package treatment turns a finished wizard session into a treatment
// record in the clinic EMR.
package treatment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hiv-care-hub/platform/internal/adapters/emr"
	"github.com/hiv-care-hub/platform/internal/notification"
	"github.com/hiv-care-hub/platform/internal/prescription/domain"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
)

// Notifier delivers outcome notices
type Notifier interface {
	Notify(notice *notification.Notice)
}

// Finalizer assembles the treatment payload and submits it to the EMR
type Finalizer struct {
	emr      emr.Adapter
	notifier Notifier
}

// NewFinalizer creates a finalizer
func NewFinalizer(adapter emr.Adapter, notifier Notifier) *Finalizer {
	return &Finalizer{emr: adapter, notifier: notifier}
}

// Finalize submits the session's therapy as a new treatment. The session
// itself is not changed; the caller records the receipt. Submitting the
// same session again after a failure builds the identical payload, so a
// retry needs no re-entry.
func (f *Finalizer) Finalize(ctx context.Context, session *domain.Session) (*domain.TreatmentReceipt, error) {
	req, err := buildRequest(session)
	if err != nil {
		return nil, err
	}

	record, err := f.emr.CreateTreatment(ctx, *req)
	if err != nil {
		metrics.RecordTreatmentCreated("failed")
		f.notify(&notification.Notice{
			Kind:      notification.KindTreatmentFailed,
			SessionID: session.ID,
			PatientID: session.PatientID,
			DoctorID:  session.DoctorID,
			Message:   fmt.Sprintf("Treatment creation failed: %v", err),
		})
		return nil, err
	}

	metrics.RecordTreatmentCreated("created")
	slog.Info("treatment created",
		"treatment_id", record.ID,
		"session_id", session.ID,
		"patient_id", session.PatientID,
		"medicines", len(req.Lines))

	f.notify(&notification.Notice{
		Kind:        notification.KindTreatmentCreated,
		SessionID:   session.ID,
		PatientID:   session.PatientID,
		DoctorID:    session.DoctorID,
		TreatmentID: record.ID,
		Message:     fmt.Sprintf("Treatment %s created from protocol %s", record.ID, session.Protocol.Name),
	})

	return &domain.TreatmentReceipt{
		TreatmentID: record.ID,
		Status:      record.Status,
		CreatedAt:   record.CreatedAt,
	}, nil
}

func buildRequest(session *domain.Session) (*emr.CreateTreatmentRequest, error) {
	if session.Protocol == nil {
		return nil, fmt.Errorf("session has no selected protocol")
	}
	if session.Customization == nil {
		return nil, fmt.Errorf("session has no therapy")
	}
	lines := session.Customization.Lines()
	if len(lines) == 0 {
		return nil, fmt.Errorf("therapy is empty")
	}

	out := make([]emr.TreatmentLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, emr.TreatmentLine{
			Key:           line.Key,
			MedicineID:    line.MedicineID,
			MedicineName:  line.MedicineName,
			Dosage:        line.Dosage,
			DurationValue: line.DurationValue,
			DurationUnit:  line.DurationUnit,
			Notes:         line.Notes,
			IsCustom:      line.IsCustom,
			Cost:          line.Cost,
		})
	}

	costs := session.Customization.Costs()
	return &emr.CreateTreatmentRequest{
		PatientID:     session.PatientID,
		DoctorID:      session.DoctorID,
		AppointmentID: session.AppointmentID,
		ProtocolID:    session.Protocol.ID,
		Lines:         out,
		Notes:         session.Notes,
		Costs: emr.CostSummary{
			Original:   costs.Original,
			Customized: costs.Customized,
			Difference: costs.Difference,
		},
	}, nil
}

func (f *Finalizer) notify(notice *notification.Notice) {
	if f.notifier == nil {
		return
	}
	f.notifier.Notify(notice)
}
