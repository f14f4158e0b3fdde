package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/admin"
	apperrors "github.com/tgrelay/tgrelay/internal/errors"
	"github.com/tgrelay/tgrelay/internal/output"
)

// UsageHandler serves the operator view of today's quota usage. Changes go
// through the admin controller's operator methods.
type UsageHandler struct {
	Admin *admin.Controller
}

func (h *UsageHandler) ready(w http.ResponseWriter, r *http.Request) bool {
	if h == nil || h.Admin == nil || h.Admin.Tracker == nil {
		respondWithError(w, r, apperrors.NewInternalError("quota tracker not configured"))
		return false
	}
	return true
}

// ResetResponse acknowledges a quota reset.
type ResetResponse struct {
	UserID    core.UserID `json:"user_id"`
	Remaining int         `json:"remaining"`
}

// Report renders the usage report. ?format= selects json (default), table or
// markdown.
func (h *UsageHandler) Report(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}

	format := output.FormatJSON
	if raw := r.URL.Query().Get("format"); raw != "" {
		parsed, err := output.ParseFormat(raw)
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "unsupported format"))
			return
		}
		format = parsed
	}

	body, err := output.NewFormatter(format).FormatUsage(admin.Report(h.Admin.Tracker))
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to render usage report"))
		return
	}

	switch format {
	case output.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case output.FormatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// Reset zeroes today's count for the {id} path parameter.
func (h *UsageHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("user id must be a positive integer"))
		return
	}

	user := core.UserID(id)
	remaining, err := h.Admin.OperatorResetQuota(r.Context(), user)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{UserID: user, Remaining: remaining})
}

// LimitRequest is the body of a daily limit change.
type LimitRequest struct {
	Limit int `json:"limit"`
}

// LimitResponse reports the daily limit after a change.
type LimitResponse struct {
	Previous int `json:"previous"`
	Limit    int `json:"limit"`
}

// SetLimit replaces the daily limit for everyone until restart.
func (h *UsageHandler) SetLimit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}

	var body LimitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be {\"limit\": <n>}"))
		return
	}

	previous, err := h.Admin.OperatorRaiseLimit(r.Context(), body.Limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LimitResponse{Previous: previous, Limit: body.Limit})
}
