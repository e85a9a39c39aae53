package output

import (
	"context"

	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/google/uuid"
)

// Resolution finalizes one pending ledger entry and moves the booking to
// its matching status in the same unit of work.
type Resolution struct {
	TransactionStatus core.TransactionStatus
	// GatewayReference is recorded on the entry if it is not already set
	GatewayReference  string
	ErrorKind         core.ErrorKind
	BookingStatus     core.BookingStatus
}

// SettlementStore is an output port (secondary port) coupling the
// append-only transaction ledger with the booking's cached payment status.
// The two must never diverge permanently, so every write that touches both
// is a single atomic unit (a database transaction, or a mutex in the
// in-memory double). Completed and Failed ledger entries are immutable;
// corrections are appended, never rewritten.
type SettlementStore interface {
	// CreateBooking writes a new booking in its initial state
	CreateBooking(ctx context.Context, booking *core.Booking) error

	// GetBooking retrieves a booking by id
	GetBooking(ctx context.Context, id uuid.UUID) (*core.Booking, error)

	// ListTransactions returns a booking's ledger ordered by creation time
	ListTransactions(ctx context.Context, bookingID uuid.UUID) ([]core.Transaction, error)

	// FindByIdempotencyKey returns the attempt a key already authorized,
	// or nil when the key is unseen.
	FindByIdempotencyKey(ctx context.Context, key string) (*core.Transaction, error)

	// FindPendingTransaction returns the booking's open attempt, or nil
	FindPendingTransaction(ctx context.Context, bookingID uuid.UUID) (*core.Transaction, error)

	// CountPaymentAttempts counts how many payment attempts a booking has
	// accumulated, for the retry cap.
	CountPaymentAttempts(ctx context.Context, bookingID uuid.UUID) (int, error)

	// BeginAttempt atomically appends a Pending ledger entry and moves the
	// booking from one of the given source states to the target state.
	// Fails with core.ErrInvalidState when the booking is in any other
	// state or already has an open attempt; exactly one of two racing
	// callers wins.
	BeginAttempt(ctx context.Context, tx *core.Transaction, to core.BookingStatus, from ...core.BookingStatus) error

	// SetGatewayReference records the network's reference on a still
	// pending attempt as soon as the gateway acknowledges the charge.
	SetGatewayReference(ctx context.Context, txID uuid.UUID, reference string) error

	// ResolveAttempt atomically finalizes a pending entry and updates the
	// booking status. Fails with core.ErrInvalidState if the entry is
	// already terminal.
	ResolveAttempt(ctx context.Context, txID uuid.UUID, res Resolution) error

	// TransitionBooking compare-and-swaps a booking's status alone, for
	// reconciliation recovery when no pending ledger entry exists.
	TransitionBooking(ctx context.Context, id uuid.UUID, from, to core.BookingStatus) error
}
