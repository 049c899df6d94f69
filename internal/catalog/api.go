package catalog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hiv-care-hub/platform/internal/adapters/protocol"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Handler exposes the catalog over HTTP
type Handler struct {
	service *Service
}

// NewHandler creates a catalog HTTP handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the catalog routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listProtocols)
	r.Get("/{protocolID}", h.getProtocol)
	r.Post("/{protocolID}/eligibility", h.checkEligibility)
	return r
}

func parseTab(raw string) (protocol.Tab, bool) {
	switch raw {
	case "", string(protocol.TabRecommended):
		return protocol.TabRecommended, true
	case string(protocol.TabPopular):
		return protocol.TabPopular, true
	case string(protocol.TabAll):
		return protocol.TabAll, true
	}
	return "", false
}

func (h *Handler) listProtocols(w http.ResponseWriter, r *http.Request) {
	tab, ok := parseTab(r.URL.Query().Get("tab"))
	if !ok {
		writeError(w, apperrors.BadRequest("unknown tab"))
		return
	}

	protocols, err := h.service.ListProtocols(r.Context(), Query{
		Tab:    tab,
		Search: r.URL.Query().Get("q"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tab":       tab,
		"protocols": protocols,
	})
}

func (h *Handler) getProtocol(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "protocolID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid protocol id"))
		return
	}
	p, err := h.service.GetProtocol(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) checkEligibility(w http.ResponseWriter, r *http.Request) {
	protocolID, err := types.ParseID(chi.URLParam(r, "protocolID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid protocol id"))
		return
	}

	var req struct {
		PatientID types.ID `json:"patientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PatientID.IsZero() {
		writeError(w, apperrors.BadRequest("patientId is required"))
		return
	}

	if err := h.service.CheckEligibility(r.Context(), protocolID, req.PatientID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"eligible": true})
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
