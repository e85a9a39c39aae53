package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/Nexus-orgs/sypot-payments/internal/port/input"
	"github.com/Nexus-orgs/sypot-payments/internal/port/output"
	"github.com/google/uuid"
)

// RefundCoordinator inspects which gateway settled a booking and issues a
// capability-appropriate refund. Gateways without a programmatic refund
// API surface ErrManualInterventionRequired and never mutate the booking;
// an operator reverses out-of-band and records the refund through an
// administrative path.
type RefundCoordinator struct {
	store    output.SettlementStore
	gateways *Gateways
}

// NewRefundCoordinator creates a refund coordinator
func NewRefundCoordinator(store output.SettlementStore, gateways *Gateways) *RefundCoordinator {
	return &RefundCoordinator{store: store, gateways: gateways}
}

// Refund returns captured funds. A zero amount means the full net captured
// amount; partial refunds are allowed up to that net. The booking moves to
// Refunded only when the net captured amount reaches zero.
func (c *RefundCoordinator) Refund(ctx context.Context, req input.RefundRequest) (*input.PaymentResult, error) {
	booking, err := c.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus != core.BookingStatusCompleted {
		return nil, fmt.Errorf("booking %s is %s, only completed bookings refund: %w",
			booking.ID, booking.PaymentStatus, core.ErrInvalidState)
	}

	transactions, err := c.store.ListTransactions(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	captured := core.NetCaptured(transactions)
	amount := req.Amount
	if amount == 0 {
		amount = captured
	}
	// Rejected before any network call is made.
	if amount <= 0 || amount > captured {
		return nil, fmt.Errorf("refund of %d against %d captured: %w", amount, captured, core.ErrInvalidAmount)
	}

	settling := settlingTransaction(transactions)
	if settling == nil {
		return nil, fmt.Errorf("booking %s has no completed payment in its ledger: %w", booking.ID, core.ErrInvalidState)
	}

	adapter, err := c.gateways.ForGateway(settling.Gateway)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().ProgrammaticRefund {
		return nil, fmt.Errorf("gateway %s requires an operator reversal: %w",
			settling.Gateway, core.ErrManualInterventionRequired)
	}

	tx := &core.Transaction{
		ID:             uuid.New(),
		BookingID:      booking.ID,
		Type:           core.TransactionTypeRefund,
		Amount:         amount,
		Currency:       booking.Currency,
		Gateway:        settling.Gateway,
		Status:         core.TransactionStatusPending,
		IdempotencyKey: "refund-" + uuid.NewString(),
		Reason:         req.Reason,
		CreatedAt:      time.Now().UTC(),
	}
	// The booking stays Completed while the refund attempt is open; the
	// CAS still serializes concurrent refunds on the same booking.
	if err := c.store.BeginAttempt(ctx, tx, core.BookingStatusCompleted, core.BookingStatusCompleted); err != nil {
		return nil, err
	}

	result, err := adapter.Refund(ctx, settling.GatewayReference, amount)
	if err != nil {
		kind := kindFromError(err)
		if rerr := c.store.ResolveAttempt(ctx, tx.ID, output.Resolution{
			TransactionStatus: core.TransactionStatusFailed,
			ErrorKind:         kind,
			BookingStatus:     core.BookingStatusCompleted,
		}); rerr != nil {
			return nil, fmt.Errorf("refund failed (%v) and could not be recorded: %w", err, rerr)
		}
		return &input.PaymentResult{
			Status:        core.TransactionStatusFailed,
			BookingStatus: core.BookingStatusCompleted,
			TransactionID: tx.ID,
			ErrorKind:     kind,
		}, nil
	}

	finalStatus := core.BookingStatusCompleted
	if amount == captured {
		finalStatus = core.BookingStatusRefunded
	}
	if err := c.store.ResolveAttempt(ctx, tx.ID, output.Resolution{
		TransactionStatus: core.TransactionStatusCompleted,
		GatewayReference:  result.GatewayReference,
		BookingStatus:     finalStatus,
	}); err != nil {
		return nil, err
	}

	return &input.PaymentResult{
		Status:        core.TransactionStatusCompleted,
		BookingStatus: finalStatus,
		TransactionID: tx.ID,
	}, nil
}

// settlingTransaction returns the most recent completed payment, which is
// the charge the gateway still holds funds against.
func settlingTransaction(transactions []core.Transaction) *core.Transaction {
	for i := len(transactions) - 1; i >= 0; i-- {
		tx := transactions[i]
		if tx.Type == core.TransactionTypePayment && tx.Status == core.TransactionStatusCompleted {
			return &transactions[i]
		}
	}
	return nil
}
