package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPClient talks to the account service's balance endpoints:
// POST /api/v1/accounts/{userId}/debit and /topup.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type balanceRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (c *HTTPClient) Debit(ctx context.Context, req Request) error {
	return c.post(ctx, req, "debit")
}

func (c *HTTPClient) Credit(ctx context.Context, req Request) error {
	return c.post(ctx, req, "topup")
}

func (c *HTTPClient) post(ctx context.Context, req Request, action string) error {
	body, err := json.Marshal(balanceRequest{Amount: req.Amount, Currency: req.Currency})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/accounts/%s/%s", c.baseURL, url.PathEscape(req.UserID), action)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrLedgerUnavailable, action, req.UserID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrLedgerUnavailable, action, req.UserID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
