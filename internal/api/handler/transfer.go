package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/ayo6706/fraudflow/internal/service"
	"github.com/go-chi/chi/v5"
)

type TransferService interface {
	GetTransfer(ctx context.Context, txID string) (*models.Transfer, error)
	ListTransfers(ctx context.Context, status string, limit int) ([]models.Transfer, error)
}

type TransferHandler struct {
	svc TransferService
}

func NewTransferHandler(svc TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

// Get handles GET /v1/transfers/{txId}.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTransfer(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		if errors.Is(err, service.ErrTransferNotFound) {
			RespondError(w, r, http.StatusNotFound, "transfer/not-found", "transfer not found")
			return
		}
		respondInternal(w, r, "transfer/get-failed", "Failed to load transfer", err)
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

// List handles GET /v1/transfers?status=FAILED_RETRYABLE.
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", domain.TransferStatusProcessing, domain.TransferStatusApplied, domain.TransferStatusFailedRetryable:
	default:
		RespondError(w, r, http.StatusBadRequest, "request/invalid-status", "unknown transfer status")
		return
	}
	transfers, err := h.svc.ListTransfers(r.Context(), status, limit)
	if err != nil {
		respondInternal(w, r, "transfer/list-failed", "Failed to list transfers", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": transfers})
}
