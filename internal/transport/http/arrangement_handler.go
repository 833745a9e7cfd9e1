package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"arrangement-grading-service/internal/app"
	"arrangement-grading-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// ArrangementHandler serves the arrangement REST API.
type ArrangementHandler struct {
	service *app.GradingService
}

func NewArrangementHandler(service *app.GradingService) *ArrangementHandler {
	return &ArrangementHandler{service: service}
}

type evaluateRequest struct {
	Outcomes []domain.QuestionOutcome `json:"outcomes"`
	Attempts []domain.Attempt         `json:"attempts"`
}

type inlineEvaluateRequest struct {
	Arrangement domain.QuestionArrangement `json:"arrangement"`
	evaluateRequest
}

type errorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

// Validate checks an arrangement without storing it.
func (h *ArrangementHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var def domain.QuestionArrangement
	if !decodeJSON(w, r, &def) {
		return
	}
	if err := h.service.ValidateArrangement(def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// Create validates and stores an arrangement, assigning an id when missing.
func (h *ArrangementHandler) Create(w http.ResponseWriter, r *http.Request) {
	var def domain.QuestionArrangement
	if !decodeJSON(w, r, &def) {
		return
	}
	saved, err := h.service.SaveArrangement(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *ArrangementHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.GetArrangement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Evaluate grades outcomes, or a raw attempt history, against a stored arrangement.
func (h *ArrangementHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")

	var (
		res domain.ArrangementResult
		err error
	)
	if req.Attempts != nil {
		res, err = h.service.EvaluateAttempts(r.Context(), id, req.Attempts)
	} else {
		res, err = h.service.Evaluate(r.Context(), id, req.Outcomes)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EvaluateInline grades against an arrangement supplied in the request body.
func (h *ArrangementHandler) EvaluateInline(w http.ResponseWriter, r *http.Request) {
	var req inlineEvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcomes := req.Outcomes
	if req.Attempts != nil {
		resolved, err := h.service.Resolve(req.Attempts)
		if err != nil {
			writeError(w, err)
			return
		}
		outcomes = resolved
	}
	res, err := h.service.EvaluateDefinition(req.Arrangement, outcomes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	var ce *domain.ConfigError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: ce.Error(), Field: ce.Field, GroupID: ce.GroupID})
	case errors.Is(err, domain.ErrArrangementNotFound), errors.Is(err, domain.ErrProgressNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidAttempt):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
