package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/ayo6706/fraudflow/internal/api/middleware"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/ayo6706/fraudflow/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// OutboxOperator exposes the manual recovery actions of the relay.
type OutboxOperator interface {
	ListFailed(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	FailedBacklog(ctx context.Context) (int64, error)
	RetryFailed(ctx context.Context, id uuid.UUID, actorID string) error
}

type OutboxHandler struct {
	relay OutboxOperator
}

func NewOutboxHandler(relay OutboxOperator) *OutboxHandler {
	return &OutboxHandler{relay: relay}
}

// ListFailed handles GET /v1/outbox/failed.
func (h *OutboxHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	entries, err := h.relay.ListFailed(r.Context(), limit)
	if err != nil {
		respondInternal(w, r, "outbox/list-failed", "Failed to list outbox entries", err)
		return
	}
	total, err := h.relay.FailedBacklog(r.Context())
	if err != nil {
		respondInternal(w, r, "outbox/list-failed", "Failed to count outbox entries", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": entries, "total": total})
}

// Retry handles POST /v1/outbox/{id}/retry.
func (h *OutboxHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-outbox-id", "Invalid outbox entry id")
		return
	}
	if err := h.relay.RetryFailed(r.Context(), id, middleware.ActorIDFromContext(r.Context())); err != nil {
		if errors.Is(err, service.ErrOutboxEntryNotFound) {
			RespondError(w, r, http.StatusNotFound, "outbox/not-found", "no FAILED outbox entry with this id")
			return
		}
		respondInternal(w, r, "outbox/retry-failed", "Failed to requeue outbox entry", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{"id": id.String(), "status": "PENDING"})
}
