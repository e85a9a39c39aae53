package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/core"
)

// CardAdapter fronts the card processor's REST API. Charges settle
// synchronously: the processor captures or declines inline, so no
// confirmation polling is needed. Refunds are programmatic.
type CardAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCardAdapter creates a card gateway adapter
func NewCardAdapter(baseURL, apiKey string) *CardAdapter {
	return &CardAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Name returns the gateway this adapter fronts
func (a *CardAdapter) Name() core.Gateway {
	return core.GatewayCard
}

// Capabilities returns the card network descriptor
func (a *CardAdapter) Capabilities() Capabilities {
	return Capabilities{
		SynchronousCharge:   true,
		ProgrammaticRefund:  true,
		MaxConfirmationWait: 15 * time.Second,
	}
}

type cardChargeRequest struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	CardToken string `json:"card_token"`
}

type cardChargeResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"` // "captured" or "declined"
	DeclineCode string `json:"decline_code,omitempty"`
}

// Charge submits a capture to the card processor. The idempotency key is
// forwarded on the Idempotency-Key header, which the processor uses to
// dedup resubmissions of the same charge.
func (a *CardAdapter) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := cardChargeRequest{
		Amount:    req.Amount,
		Currency:  string(req.Currency),
		CardToken: req.Details,
	}

	var resp cardChargeResponse
	err := a.post(ctx, "/v1/charges", req.IdempotencyKey, body, &resp)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case "captured":
		return &ChargeResult{
			Status:           core.TransactionStatusCompleted,
			GatewayReference: resp.ID,
		}, nil
	case "declined":
		return &ChargeResult{
			Status:           core.TransactionStatusFailed,
			GatewayReference: resp.ID,
			ErrorKind:        declineKind(resp.DeclineCode),
		}, nil
	default:
		return nil, fmt.Errorf("card gateway returned unknown charge status %q: %w", resp.Status, core.ErrGatewayUnavailable)
	}
}

// CheckStatus queries a charge by its processor reference
func (a *CardAdapter) CheckStatus(ctx context.Context, reference string) (*StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/charges/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("card status query failed: %w", core.ErrNetwork)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("card gateway returned %d: %w", httpResp.StatusCode, core.ErrGatewayUnavailable)
	}

	var resp cardChargeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode card status response: %w", err)
	}

	switch resp.Status {
	case "captured":
		return &StatusResult{Status: core.TransactionStatusCompleted}, nil
	case "declined":
		return &StatusResult{
			Status:    core.TransactionStatusFailed,
			ErrorKind: declineKind(resp.DeclineCode),
		}, nil
	default:
		return &StatusResult{Status: core.TransactionStatusPending}, nil
	}
}

type cardRefundRequest struct {
	Amount int64 `json:"amount"`
}

type cardRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund returns captured funds for a charge
func (a *CardAdapter) Refund(ctx context.Context, reference string, amount int64) (*RefundResult, error) {
	var resp cardRefundResponse
	err := a.post(ctx, "/v1/charges/"+reference+"/refunds", "", cardRefundRequest{Amount: amount}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != "succeeded" {
		return nil, fmt.Errorf("card refund was not accepted: %w", core.ErrGatewayUnavailable)
	}
	return &RefundResult{GatewayReference: resp.ID}, nil
}

func (a *CardAdapter) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal card request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build card request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("card gateway request failed: %w", core.ErrNetwork)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return fmt.Errorf("card gateway returned %d: %w", httpResp.StatusCode, core.ErrGatewayUnavailable)
	}
	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("card gateway rejected request with %d: %w", httpResp.StatusCode, core.ErrDeclined)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode card response: %w", err)
	}
	return nil
}

// declineKind maps the processor's decline codes onto the core taxonomy
func declineKind(code string) core.ErrorKind {
	switch code {
	case "insufficient_funds":
		return core.ErrorKindInsufficientFunds
	case "cancelled":
		return core.ErrorKindUserCancelled
	default:
		return core.ErrorKindDeclined
	}
}
