package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/fraudflow/internal/api/middleware"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/ayo6706/fraudflow/internal/service"
	"github.com/go-chi/chi/v5"
)

type DecisionService interface {
	Get(ctx context.Context, txID string) (*models.FraudDecision, error)
	List(ctx context.Context, reviewed *bool, limit int) ([]models.FraudDecision, error)
	Label(ctx context.Context, txID string, label int, actorID string) (*models.FraudDecision, error)
}

type DecisionHandler struct {
	svc DecisionService
}

func NewDecisionHandler(svc DecisionService) *DecisionHandler {
	return &DecisionHandler{svc: svc}
}

// Get handles GET /v1/decisions/{txId}.
func (h *DecisionHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		if errors.Is(err, service.ErrDecisionNotFound) {
			RespondError(w, r, http.StatusNotFound, "decision/not-found", "decision not found")
			return
		}
		respondInternal(w, r, "decision/get-failed", "Failed to load decision", err)
		return
	}
	RespondJSON(w, http.StatusOK, d)
}

// List handles GET /v1/decisions?limit=N&reviewed=false.
func (h *DecisionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	var reviewed *bool
	if raw := strings.TrimSpace(r.URL.Query().Get("reviewed")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-reviewed", "reviewed must be true or false")
			return
		}
		reviewed = &v
	}

	decisions, err := h.svc.List(r.Context(), reviewed, limit)
	if err != nil {
		respondInternal(w, r, "decision/list-failed", "Failed to list decisions", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": decisions})
}

// FeedbackRequest carries the analyst's ground truth for one decision.
type FeedbackRequest struct {
	TransactionID string `json:"txId"`
	Label         *int   `json:"label"`
}

// Feedback handles POST /v1/feedback.
func (h *DecisionHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-tx-id", "txId is required")
		return
	}
	if req.Label == nil {
		RespondError(w, r, http.StatusBadRequest, "request/missing-label", "label is required")
		return
	}

	d, err := h.svc.Label(r.Context(), req.TransactionID, *req.Label, middleware.ActorIDFromContext(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidLabel):
			RespondError(w, r, http.StatusBadRequest, "feedback/invalid-label", err.Error())
		case errors.Is(err, service.ErrDecisionNotFound):
			RespondError(w, r, http.StatusNotFound, "decision/not-found", "decision not found")
		default:
			respondInternal(w, r, "feedback/failed", "Failed to record feedback", err)
		}
		return
	}
	RespondJSON(w, http.StatusOK, d)
}
