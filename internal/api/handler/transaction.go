package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/ayo6706/fraudflow/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// TransactionService is the ingest side of the fact store.
type TransactionService interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*models.TransactionFact, bool, error)
	Get(ctx context.Context, id string) (*models.TransactionFact, error)
	ListRecent(ctx context.Context, limit int) ([]models.TransactionFact, error)
}

type TransactionHandler struct {
	svc TransactionService
}

func NewTransactionHandler(svc TransactionService) *TransactionHandler {
	return &TransactionHandler{svc: svc}
}

// IngestTransactionRequest mirrors the transactions.raw event fields.
type IngestTransactionRequest struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	SenderID   string          `json:"senderId"`
	ReceiverID *string         `json:"receiverId"`
	MerchantID *string         `json:"merchantId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	DeviceID   string          `json:"deviceId"`
	IP         *string         `json:"ip"`
	EventTime  *time.Time      `json:"eventTime"`
}

// Ingest handles POST /v1/transactions. A replayed id returns the stored
// fact; the Idempotent-Replay header tells the two cases apart.
func (h *TransactionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestTransactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	in := service.IngestRequest{
		ID:         req.ID,
		Type:       req.Type,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		DeviceID:   req.DeviceID,
		IP:         req.IP,
	}
	if req.EventTime != nil {
		in.EventTime = *req.EventTime
	}

	fact, created, err := h.svc.Ingest(r.Context(), in)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTransaction) {
			RespondError(w, r, http.StatusUnprocessableEntity, "transaction/invalid", strings.TrimPrefix(err.Error(), service.ErrInvalidTransaction.Error()+": "))
			return
		}
		respondInternal(w, r, "transaction/ingest-failed", "Failed to ingest transaction", err)
		return
	}
	if !created {
		w.Header().Set("Idempotent-Replay", "true")
	}
	RespondJSON(w, http.StatusAccepted, fact)
}

// Get handles GET /v1/transactions/{txId}.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	fact, err := h.svc.Get(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		if errors.Is(err, service.ErrFactNotFound) {
			RespondError(w, r, http.StatusNotFound, "transaction/not-found", "transaction not found")
			return
		}
		respondInternal(w, r, "transaction/get-failed", "Failed to load transaction", err)
		return
	}
	RespondJSON(w, http.StatusOK, fact)
}

// List handles GET /v1/transactions?limit=N, newest first.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	facts, err := h.svc.ListRecent(r.Context(), limit)
	if err != nil {
		respondInternal(w, r, "transaction/list-failed", "Failed to list transactions", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": facts})
}
