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

// MobileMoneyAdapter fronts the mobile-money operator's STK-push API.
// Charges are asynchronous: the initiate call only acknowledges with a
// checkout reference, then the subscriber approves on their handset and
// the engine polls CheckStatus until a terminal answer appears. The
// operator exposes no programmatic reversal, so Refund always demands
// manual intervention.
type MobileMoneyAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewMobileMoneyAdapter creates a mobile-money gateway adapter
func NewMobileMoneyAdapter(baseURL, apiKey string) *MobileMoneyAdapter {
	return &MobileMoneyAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Name returns the gateway this adapter fronts
func (a *MobileMoneyAdapter) Name() core.Gateway {
	return core.GatewayMobileMoney
}

// Capabilities returns the mobile-money network descriptor
func (a *MobileMoneyAdapter) Capabilities() Capabilities {
	return Capabilities{
		SynchronousCharge:   false,
		ProgrammaticRefund:  false,
		MaxConfirmationWait: 30 * time.Second,
	}
}

type stkPushRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	PhoneNumber string `json:"phone_number"`
	RequestID   string `json:"request_id"`
}

type stkPushResponse struct {
	CheckoutID string `json:"checkout_id"`
	Accepted   bool   `json:"accepted"`
}

// Charge initiates an STK push. The operator dedups on request_id, so the
// idempotency key rides there. A successful response only means the push
// reached the handset; the charge is Pending until the subscriber approves.
func (a *MobileMoneyAdapter) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := stkPushRequest{
		Amount:      req.Amount,
		Currency:    string(req.Currency),
		PhoneNumber: req.Details,
		RequestID:   req.IdempotencyKey,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stk push: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/stkpush", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build stk push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mobile money request failed: %w", core.ErrNetwork)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("mobile money gateway returned %d: %w", httpResp.StatusCode, core.ErrGatewayUnavailable)
	}

	var resp stkPushResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode stk push response: %w", err)
	}

	if !resp.Accepted {
		return &ChargeResult{
			Status:    core.TransactionStatusFailed,
			ErrorKind: core.ErrorKindDeclined,
		}, nil
	}

	return &ChargeResult{
		Status:           core.TransactionStatusPending,
		GatewayReference: resp.CheckoutID,
	}, nil
}

type stkStatusResponse struct {
	ResultCode string `json:"result_code"` // "success", "insufficient_funds", "cancelled", "pending"
}

// CheckStatus queries the outcome of a checkout
func (a *MobileMoneyAdapter) CheckStatus(ctx context.Context, reference string) (*StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/stkpush/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mobile money status query failed: %w", core.ErrNetwork)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("mobile money gateway returned %d: %w", httpResp.StatusCode, core.ErrGatewayUnavailable)
	}

	var resp stkStatusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	switch resp.ResultCode {
	case "success":
		return &StatusResult{Status: core.TransactionStatusCompleted}, nil
	case "insufficient_funds":
		return &StatusResult{Status: core.TransactionStatusFailed, ErrorKind: core.ErrorKindInsufficientFunds}, nil
	case "cancelled":
		return &StatusResult{Status: core.TransactionStatusFailed, ErrorKind: core.ErrorKindUserCancelled}, nil
	default:
		return &StatusResult{Status: core.TransactionStatusPending}, nil
	}
}

// Refund always fails fast: the operator has no reversal API, so captured
// funds can only be returned through a manual back-office reversal.
func (a *MobileMoneyAdapter) Refund(ctx context.Context, reference string, amount int64) (*RefundResult, error) {
	return nil, fmt.Errorf("mobile money gateway cannot refund %s: %w", reference, core.ErrManualInterventionRequired)
}
