package gateway

import (
	"context"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/core"
)

// Capabilities is the static descriptor for one payment network
type Capabilities struct {
	// SynchronousCharge reports whether Charge returns a terminal result
	// inline. When false, Charge only acknowledges and the engine polls
	// CheckStatus for confirmation.
	SynchronousCharge bool
	// ProgrammaticRefund reports whether Refund works through the API.
	// When false, Refund fails fast with ErrManualInterventionRequired.
	ProgrammaticRefund bool
	// MaxConfirmationWait bounds how long a confirmation wait may block.
	MaxConfirmationWait time.Duration
}

// ChargeRequest contains the data needed to charge a payment method
type ChargeRequest struct {
	// IdempotencyKey is forwarded to the network's own dedup mechanism;
	// the same key must never produce two captures.
	IdempotencyKey string
	Amount         int64
	Currency       core.Currency
	// Details is method-specific: a card token for the card network, a
	// subscriber phone number for mobile money.
	Details string
}

// ChargeResult holds the gateway's answer to a charge
type ChargeResult struct {
	Status core.TransactionStatus
	// GatewayReference is the network's transaction id, set as soon as
	// the network acknowledges the charge.
	GatewayReference string
	ErrorKind        core.ErrorKind
}

// StatusResult holds the gateway's answer to a status query
type StatusResult struct {
	Status    core.TransactionStatus
	ErrorKind core.ErrorKind
}

// RefundResult holds the gateway's answer to a refund
type RefundResult struct {
	GatewayReference string
}

// Adapter is the uniform capability surface over one external payment
// network. Implementations translate the network's wire protocol and raw
// errors into the core taxonomy; the engine never sees provider codes.
type Adapter interface {
	// Name returns the gateway this adapter fronts
	Name() core.Gateway
	// Capabilities returns the static descriptor for this network
	Capabilities() Capabilities
	// Charge submits one charge. It must be called at most once per
	// idempotency key and must not resubmit internally without
	// gateway-side dedup.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// CheckStatus queries a previously submitted charge. Read-only and
	// safe to call repeatedly.
	CheckStatus(ctx context.Context, reference string) (*StatusResult, error)
	// Refund returns captured funds for a settled charge
	Refund(ctx context.Context, reference string, amount int64) (*RefundResult, error)
}
