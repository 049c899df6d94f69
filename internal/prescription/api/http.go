// Package api exposes the prescription wizard over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hiv-care-hub/platform/internal/adapters/checks"
	"github.com/hiv-care-hub/platform/internal/prescription"
	"github.com/hiv-care-hub/platform/internal/prescription/domain"
	"github.com/hiv-care-hub/platform/internal/shared/auth"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the prescription wizard
type Handler struct {
	service *prescription.Service
}

// NewHandler creates a new prescription handler
func NewHandler(service *prescription.Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the wizard routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.StartSession)

	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/protocol", h.SelectProtocol)
		r.Post("/step", h.Navigate)

		// Therapy editing
		r.Route("/lines", func(r chi.Router) {
			r.Post("/", h.AddMedicine)
			r.Post("/{lineKey}/override", h.ToggleOverride)
			r.Patch("/{lineKey}", h.UpdateLine)
			r.Delete("/{lineKey}", h.RemoveLine)
		})
		r.Get("/costs", h.Costs)
		r.Put("/notes", h.SetNotes)

		// Validation and creation
		r.Post("/validate", h.Validate)
		r.Post("/override", h.Override)
		r.Post("/create", h.Create)

		// On-demand checks
		r.Route("/checks", func(r chi.Router) {
			r.Post("/organ-function", h.CheckOrganFunction)
			r.Post("/pregnancy-safety", h.CheckPregnancySafety)
			r.Post("/resistance", h.CheckResistancePattern)
			r.Post("/adherence", h.CheckAdherence)
		})
	})

	return r
}

// actor resolves the acting doctor from the authenticated user
func actor(r *http.Request) (types.ID, error) {
	user := auth.GetUser(r.Context())
	if user == nil {
		return "", apperrors.Unauthorized("authentication required")
	}
	if !user.Role.CanPrescribe() {
		return "", apperrors.Forbidden("prescribing requires a doctor role")
	}
	if !user.DoctorID.IsZero() {
		return user.DoctorID, nil
	}
	return user.ID, nil
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	doctorID, err := actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		PatientID     types.ID `json:"patientId"`
		AppointmentID types.ID `json:"appointmentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	session, err := h.service.StartSession(r.Context(), req.PatientID, doctorID, req.AppointmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := h.service.GetSession(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (h *Handler) SelectProtocol(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		ProtocolID types.ID `json:"protocolId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProtocolID.IsZero() {
		writeError(w, apperrors.BadRequest("protocolId is required"))
		return
	}

	if err := h.service.SelectProtocol(r.Context(), sessionID, req.ProtocolID, doctorID); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithSession(w, sessionID)
}

func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Step domain.Step `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	if err := h.service.Navigate(sessionID, req.Step, doctorID); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithSession(w, sessionID)
}

func (h *Handler) AddMedicine(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		MedicineID    types.ID `json:"medicineId"`
		Dosage        string   `json:"dosage"`
		DurationValue int      `json:"durationValue"`
		DurationUnit  string   `json:"durationUnit"`
		Notes         string   `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MedicineID.IsZero() {
		writeError(w, apperrors.BadRequest("medicineId is required"))
		return
	}

	if err := h.service.AddMedicine(r.Context(), sessionID, req.MedicineID,
		req.Dosage, req.DurationValue, req.DurationUnit, req.Notes, doctorID); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithSession(w, sessionID)
}

func (h *Handler) ToggleOverride(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.ToggleOverride(sessionID, chi.URLParam(r, "lineKey"), doctorID); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithSession(w, sessionID)
}

func (h *Handler) SetNotes(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	if err := h.service.SetNotes(sessionID, req.Notes, doctorID); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithSession(w, sessionID)
}

func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		MedicineID    *types.ID `json:"medicineId"`
		Dosage        *string   `json:"dosage"`
		DurationValue *int      `json:"durationValue"`
		DurationUnit  *string   `json:"durationUnit"`
		Notes         *string   `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	update := prescription.LineUpdate{
		MedicineID:    req.MedicineID,
		Dosage:        req.Dosage,
		DurationValue: req.DurationValue,
		DurationUnit:  req.DurationUnit,
		Notes:         req.Notes,
	}
	if err := h.service.UpdateLine(r.Context(), sessionID, chi.URLParam(r, "lineKey"), update, doctorID); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithSession(w, sessionID)
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.RemoveLine(sessionID, chi.URLParam(r, "lineKey"), doctorID); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithSession(w, sessionID)
}

func (h *Handler) Costs(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	costs, err := h.service.Costs(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.service.Validate(r.Context(), sessionID, doctorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, apperrors.BadRequest("reason is required"))
		return
	}

	if err := h.service.Override(sessionID, req.Reason, doctorID); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithSession(w, sessionID)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	sessionID, doctorID, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	receipt, err := h.service.Create(r.Context(), sessionID, doctorID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := struct {
		*domain.TreatmentReceipt
		ConsultationPath string `json:"consultationPath,omitempty"`
	}{TreatmentReceipt: receipt}
	if session, err := h.service.GetSession(sessionID); err == nil && !session.AppointmentID.IsZero() {
		resp.ConsultationPath = "/appointments/" + session.AppointmentID.String() + "/consultation"
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) CheckOrganFunction(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		CreatinineClearance float64 `json:"creatinineClearance"`
		ALT                 float64 `json:"alt"`
		AST                 float64 `json:"ast"`
		Bilirubin           float64 `json:"bilirubin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	result, err := h.service.CheckOrganFunction(r.Context(), sessionID, checks.OrganFunctionInput{
		CreatinineClearance: req.CreatinineClearance,
		ALT:                 req.ALT,
		AST:                 req.AST,
		Bilirubin:           req.Bilirubin,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CheckPregnancySafety(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.CheckPregnancySafety(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CheckResistancePattern(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Mutations []string `json:"mutations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	result, err := h.service.CheckResistancePattern(r.Context(), sessionID, req.Mutations)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CheckAdherence(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := sessionAndActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		PillsDispensed int `json:"pillsDispensed"`
		PillsTaken     int `json:"pillsTaken"`
		PeriodDays     int `json:"periodDays"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	result, err := h.service.CheckAdherence(r.Context(), sessionID, req.PillsDispensed, req.PillsTaken, req.PeriodDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SessionView is the wire shape of a session, with the therapy lines
// flattened out of the customization set
type SessionView struct {
	*domain.Session
	Lines []domain.TherapyLine   `json:"lines"`
	Costs *domain.CostComparison `json:"costs,omitempty"`
}

func sessionView(session *domain.Session) *SessionView {
	view := &SessionView{Session: session}
	if session.Customization != nil {
		view.Lines = session.Customization.Lines()
		costs := session.Customization.Costs()
		view.Costs = &costs
	}
	return view
}

func (h *Handler) respondWithSession(w http.ResponseWriter, id types.ID) {
	session, err := h.service.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func sessionID(r *http.Request) (types.ID, error) {
	id, err := types.ParseID(chi.URLParam(r, "sessionID"))
	if err != nil {
		return "", apperrors.BadRequest("invalid session id")
	}
	return id, nil
}

func sessionAndActor(r *http.Request) (types.ID, types.ID, error) {
	id, err := sessionID(r)
	if err != nil {
		return "", "", err
	}
	doctorID, err := actor(r)
	if err != nil {
		return "", "", err
	}
	return id, doctorID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	if encErr := json.NewEncoder(w).Encode(appErr); encErr != nil {
		slog.Error("failed to encode error response", "error", encErr)
	}
}
