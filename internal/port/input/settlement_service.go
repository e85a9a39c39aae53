package input

import (
	"context"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/google/uuid"
)

// SettlementService is the input port (primary port) for payment
// operations. Primary adapters (HTTP handlers, the reconciliation worker)
// drive the core through it. The principal on the context is already
// authenticated; this core never authenticates.
type SettlementService interface {
	// Pay drives one settlement attempt for a booking
	Pay(ctx context.Context, req PayRequest) (*PaymentResult, error)

	// GetStatus returns a booking's payment status and its full ledger
	GetStatus(ctx context.Context, bookingID uuid.UUID) (*BookingStatus, error)

	// Refund returns captured funds for a settled booking
	Refund(ctx context.Context, req RefundRequest) (*PaymentResult, error)

	// ReconcilePending resolves a booking stuck in Processing once the
	// gateway has a terminal answer for its open attempt.
	ReconcilePending(ctx context.Context, bookingID uuid.UUID) (*PaymentResult, error)
}

// PayRequest asks the engine to charge a booking
type PayRequest struct {
	BookingID uuid.UUID
	Method    core.PaymentMethod
	// Details is method-specific: card token or subscriber phone number
	Details string
	// IdempotencyKey lets a caller resubmit the same attempt safely;
	// left empty, the engine generates one per invocation.
	IdempotencyKey string
}

// RefundRequest asks the coordinator to return captured funds
type RefundRequest struct {
	BookingID uuid.UUID
	// Amount in minor units; zero means the full net captured amount
	Amount int64
	Reason string
}

// PaymentResult reports the outcome of one attempt. A Pending status with
// a Timeout error kind means the confirmation wait elapsed and the booking
// stays Processing until reconciliation resolves it.
type PaymentResult struct {
	Status        core.TransactionStatus
	BookingStatus core.BookingStatus
	TransactionID uuid.UUID
	ErrorKind     core.ErrorKind
}

// BookingStatus is a booking's payment state together with its ledger
type BookingStatus struct {
	BookingID     uuid.UUID
	PaymentStatus core.BookingStatus
	Amount        int64
	Currency      core.Currency
	Transactions  []core.Transaction
	UpdatedAt     time.Time
}
