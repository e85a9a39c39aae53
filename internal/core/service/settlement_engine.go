package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/adapter/secondary/gateway"
	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/Nexus-orgs/sypot-payments/internal/port/input"
	"github.com/Nexus-orgs/sypot-payments/internal/port/output"
	"github.com/google/uuid"
)

// Config tunes the settlement engine's confirmation wait and retry cap
type Config struct {
	// PollInterval is the initial gap between status polls
	PollInterval time.Duration
	// MaxPollInterval caps the exponential backoff
	MaxPollInterval time.Duration
	// BackoffAfter is how many polls run at PollInterval before the
	// interval starts doubling.
	BackoffAfter int
	// MaxConfirmationWait bounds the whole wait; an adapter's own
	// MaxConfirmationWait lowers it further.
	MaxConfirmationWait time.Duration
	// MaxAttempts caps payment attempts per booking
	MaxAttempts int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:        time.Second,
		MaxPollInterval:     5 * time.Second,
		BackoffAfter:        3,
		MaxConfirmationWait: 30 * time.Second,
		MaxAttempts:         3,
	}
}

// SettlementEngine drives the booking payment state machine:
// Unpaid/Failed -> Processing -> Completed/Failed. Each booking is
// serialized by the store's compare-and-swap transition, so two racing Pay
// calls produce exactly one charge; the loser never reaches a gateway.
type SettlementEngine struct {
	store     output.SettlementStore
	gateways  *Gateways
	reconcile output.ReconcileQueue
	cfg       Config
}

// NewSettlementEngine creates the engine. The reconcile queue may be nil
// in setups where a scheduler sweeps Processing bookings instead.
func NewSettlementEngine(store output.SettlementStore, gateways *Gateways, reconcile output.ReconcileQueue, cfg Config) *SettlementEngine {
	return &SettlementEngine{
		store:     store,
		gateways:  gateways,
		reconcile: reconcile,
		cfg:       cfg,
	}
}

// Pay drives one settlement attempt. It writes a Pending ledger entry and
// moves the booking to Processing in one atomic unit, dispatches the
// charge, and converges ledger and booking to the same terminal state. An
// asynchronous gateway that stays pending past the confirmation window
// leaves the booking Processing and hands it to reconciliation.
func (e *SettlementEngine) Pay(ctx context.Context, req input.PayRequest) (*input.PaymentResult, error) {
	booking, err := e.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	// A resubmitted idempotency key replays the prior attempt's outcome
	// without touching a gateway.
	if req.IdempotencyKey != "" {
		existing, err := e.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			if existing.BookingID != booking.ID {
				return nil, fmt.Errorf("idempotency key already used for another booking: %w", core.ErrInvalidState)
			}
			return &input.PaymentResult{
				Status:        existing.Status,
				BookingStatus: booking.PaymentStatus,
				TransactionID: existing.ID,
				ErrorKind:     existing.ErrorKind,
			}, nil
		}
	}

	if !booking.IsChargeable() {
		return nil, fmt.Errorf("booking %s is %s: %w", booking.ID, booking.PaymentStatus, core.ErrInvalidState)
	}

	attempts, err := e.store.CountPaymentAttempts(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	if attempts >= e.cfg.MaxAttempts {
		return nil, fmt.Errorf("booking %s already has %d attempts: %w", booking.ID, attempts, core.ErrRetriesExhausted)
	}

	adapter, err := e.gateways.ForMethod(req.Method)
	if err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = "pay-" + uuid.NewString()
	}

	tx := &core.Transaction{
		ID:             uuid.New(),
		BookingID:      booking.ID,
		Type:           core.TransactionTypePayment,
		Amount:         booking.Amount,
		Currency:       booking.Currency,
		Gateway:        adapter.Name(),
		Status:         core.TransactionStatusPending,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}

	// CAS transition: of two concurrent Pay calls exactly one appends its
	// pending entry and wins Processing; the other gets ErrInvalidState
	// here and must not retry a charge.
	if err := e.store.BeginAttempt(ctx, tx, core.BookingStatusProcessing,
		core.BookingStatusUnpaid, core.BookingStatusFailed); err != nil {
		return nil, err
	}

	result, err := adapter.Charge(ctx, gateway.ChargeRequest{
		IdempotencyKey: key,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Details:        req.Details,
	})
	if err != nil {
		kind := kindFromError(err)
		if rerr := e.store.ResolveAttempt(ctx, tx.ID, output.Resolution{
			TransactionStatus: core.TransactionStatusFailed,
			ErrorKind:         kind,
			BookingStatus:     core.BookingStatusFailed,
		}); rerr != nil {
			return nil, fmt.Errorf("charge failed (%v) and could not be recorded: %w", err, rerr)
		}
		return &input.PaymentResult{
			Status:        core.TransactionStatusFailed,
			BookingStatus: core.BookingStatusFailed,
			TransactionID: tx.ID,
			ErrorKind:     kind,
		}, nil
	}

	switch result.Status {
	case core.TransactionStatusCompleted:
		if err := e.store.ResolveAttempt(ctx, tx.ID, output.Resolution{
			TransactionStatus: core.TransactionStatusCompleted,
			GatewayReference:  result.GatewayReference,
			BookingStatus:     core.BookingStatusCompleted,
		}); err != nil {
			return nil, err
		}
		return &input.PaymentResult{
			Status:        core.TransactionStatusCompleted,
			BookingStatus: core.BookingStatusCompleted,
			TransactionID: tx.ID,
		}, nil

	case core.TransactionStatusFailed:
		if err := e.store.ResolveAttempt(ctx, tx.ID, output.Resolution{
			TransactionStatus: core.TransactionStatusFailed,
			GatewayReference:  result.GatewayReference,
			ErrorKind:         result.ErrorKind,
			BookingStatus:     core.BookingStatusFailed,
		}); err != nil {
			return nil, err
		}
		return &input.PaymentResult{
			Status:        core.TransactionStatusFailed,
			BookingStatus: core.BookingStatusFailed,
			TransactionID: tx.ID,
			ErrorKind:     result.ErrorKind,
		}, nil

	default:
		// Asynchronous acknowledgment: record the network's reference,
		// then wait for the subscriber to approve.
		if err := e.store.SetGatewayReference(ctx, tx.ID, result.GatewayReference); err != nil {
			return nil, err
		}
		return e.awaitConfirmation(ctx, adapter, tx, result.GatewayReference)
	}
}

// awaitConfirmation polls the gateway until the charge is terminal or the
// wait is exhausted. The wait honors the caller's deadline: cancellation
// stops polling but not the charge already at the gateway, so the booking
// is left Processing for reconciliation rather than guessed terminal.
func (e *SettlementEngine) awaitConfirmation(ctx context.Context, adapter gateway.Adapter, tx *core.Transaction, reference string) (*input.PaymentResult, error) {
	maxWait := e.cfg.MaxConfirmationWait
	if w := adapter.Capabilities().MaxConfirmationWait; w > 0 && w < maxWait {
		maxWait = w
	}
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	interval := e.cfg.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for polls := 1; ; polls++ {
		select {
		case <-waitCtx.Done():
			return e.handoffToReconciliation(tx)
		case <-timer.C:
		}

		status, err := adapter.CheckStatus(waitCtx, reference)
		if err != nil {
			// Transient; the deadline bounds how long we keep trying.
			log.Printf("status poll for %s failed: %v", reference, err)
		} else if status.Status != core.TransactionStatusPending {
			return e.resolveConfirmed(ctx, tx, reference, status)
		}

		if polls >= e.cfg.BackoffAfter {
			interval *= 2
			if interval > e.cfg.MaxPollInterval {
				interval = e.cfg.MaxPollInterval
			}
		}
		timer.Reset(interval)
	}
}

func (e *SettlementEngine) resolveConfirmed(ctx context.Context, tx *core.Transaction, reference string, status *gateway.StatusResult) (*input.PaymentResult, error) {
	res := output.Resolution{
		TransactionStatus: status.Status,
		GatewayReference:  reference,
		ErrorKind:         status.ErrorKind,
		BookingStatus:     core.BookingStatusCompleted,
	}
	if status.Status == core.TransactionStatusFailed {
		res.BookingStatus = core.BookingStatusFailed
	}
	if err := e.store.ResolveAttempt(ctx, tx.ID, res); err != nil {
		return nil, err
	}
	return &input.PaymentResult{
		Status:        status.Status,
		BookingStatus: res.BookingStatus,
		TransactionID: tx.ID,
		ErrorKind:     status.ErrorKind,
	}, nil
}

// handoffToReconciliation leaves the attempt Pending and the booking
// Processing: the charge may still land out-of-band, so timing out is
// never treated as success or failure.
func (e *SettlementEngine) handoffToReconciliation(tx *core.Transaction) (*input.PaymentResult, error) {
	if e.reconcile != nil {
		if err := e.reconcile.PublishReconcile(tx.BookingID); err != nil {
			log.Printf("failed to enqueue reconciliation for booking %s: %v", tx.BookingID, err)
		}
	}
	return &input.PaymentResult{
		Status:        core.TransactionStatusPending,
		BookingStatus: core.BookingStatusProcessing,
		TransactionID: tx.ID,
		ErrorKind:     core.ErrorKindTimeout,
	}, nil
}

// GetStatus returns a booking's payment status and its full ledger
func (e *SettlementEngine) GetStatus(ctx context.Context, bookingID uuid.UUID) (*input.BookingStatus, error) {
	booking, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	transactions, err := e.store.ListTransactions(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return &input.BookingStatus{
		BookingID:     booking.ID,
		PaymentStatus: booking.PaymentStatus,
		Amount:        booking.Amount,
		Currency:      booking.Currency,
		Transactions:  transactions,
		UpdatedAt:     booking.UpdatedAt,
	}, nil
}

// ReconcilePending resolves a booking left Processing after a confirmation
// timeout, re-querying the gateway out-of-band. Safe to call repeatedly;
// it only acts while the booking is Processing.
func (e *SettlementEngine) ReconcilePending(ctx context.Context, bookingID uuid.UUID) (*input.PaymentResult, error) {
	booking, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus != core.BookingStatusProcessing {
		return &input.PaymentResult{
			Status:        core.TransactionStatusCompleted,
			BookingStatus: booking.PaymentStatus,
		}, nil
	}

	tx, err := e.store.FindPendingTransaction(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending transaction: %w", err)
	}
	if tx == nil {
		// Processing booking with no open ledger entry: recover the
		// status from the ledger, which is the source of truth.
		return e.recoverFromLedger(ctx, booking)
	}

	if tx.GatewayReference == "" {
		// The charge was never acknowledged. Once it has aged past the
		// confirmation window it cannot be queried and is failed as a
		// transport loss, which the caller may retry.
		if time.Since(tx.CreatedAt) < e.cfg.MaxConfirmationWait {
			return &input.PaymentResult{
				Status:        core.TransactionStatusPending,
				BookingStatus: core.BookingStatusProcessing,
				TransactionID: tx.ID,
				ErrorKind:     core.ErrorKindTimeout,
			}, nil
		}
		if err := e.store.ResolveAttempt(ctx, tx.ID, output.Resolution{
			TransactionStatus: core.TransactionStatusFailed,
			ErrorKind:         core.ErrorKindNetwork,
			BookingStatus:     core.BookingStatusFailed,
		}); err != nil {
			return nil, err
		}
		return &input.PaymentResult{
			Status:        core.TransactionStatusFailed,
			BookingStatus: core.BookingStatusFailed,
			TransactionID: tx.ID,
			ErrorKind:     core.ErrorKindNetwork,
		}, nil
	}

	adapter, err := e.gateways.ForGateway(tx.Gateway)
	if err != nil {
		return nil, err
	}
	status, err := adapter.CheckStatus(ctx, tx.GatewayReference)
	if err != nil {
		return nil, err
	}
	if status.Status == core.TransactionStatusPending {
		return &input.PaymentResult{
			Status:        core.TransactionStatusPending,
			BookingStatus: core.BookingStatusProcessing,
			TransactionID: tx.ID,
			ErrorKind:     core.ErrorKindTimeout,
		}, nil
	}
	return e.resolveConfirmed(ctx, tx, tx.GatewayReference, status)
}

// recoverFromLedger replays the ledger to decide the terminal status of a
// Processing booking whose pending entry is gone (crash between writes).
func (e *SettlementEngine) recoverFromLedger(ctx context.Context, booking *core.Booking) (*input.PaymentResult, error) {
	transactions, err := e.store.ListTransactions(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	target := core.BookingStatusFailed
	if core.NetCaptured(transactions) > 0 {
		target = core.BookingStatusCompleted
	}
	if err := e.store.TransitionBooking(ctx, booking.ID, core.BookingStatusProcessing, target); err != nil {
		return nil, err
	}
	status := core.TransactionStatusFailed
	if target == core.BookingStatusCompleted {
		status = core.TransactionStatusCompleted
	}
	return &input.PaymentResult{Status: status, BookingStatus: target}, nil
}

// kindFromError classifies an adapter error for the ledger
func kindFromError(err error) core.ErrorKind {
	switch {
	case errors.Is(err, core.ErrGatewayUnavailable):
		return core.ErrorKindGatewayUnavailable
	case errors.Is(err, core.ErrDeclined):
		return core.ErrorKindDeclined
	default:
		return core.ErrorKindNetwork
	}
}
