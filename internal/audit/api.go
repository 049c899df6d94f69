package audit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Handler exposes the audit trail for review
type Handler struct {
	repo Repository
}

// NewHandler creates an audit HTTP handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Get("/verify", h.verify)
	r.Get("/sessions/{sessionID}", h.bySession)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	entries, err := h.repo.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handler) bySession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := types.ParseID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid session id"))
		return
	}

	entries, err := h.repo.BySession(r.Context(), sessionID, queryInt(r, "limit", 1000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"entries":    entries,
		"count":      len(entries),
	})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	result, err := h.repo.Verify(r.Context(), queryInt(r, "limit", 10000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
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
