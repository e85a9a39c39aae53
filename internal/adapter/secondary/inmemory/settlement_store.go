package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/Nexus-orgs/sypot-payments/internal/port/output"
	"github.com/google/uuid"
)

// SettlementStore is the in-process test double for the SettlementStore
// output port. One mutex stands in for the database transaction, so the
// "append ledger entry + swap booking status" unit is atomic here too and
// the engine's race behavior can be exercised without postgres.
type SettlementStore struct {
	mu           sync.Mutex
	bookings     map[uuid.UUID]*core.Booking
	transactions []core.Transaction
	byKey        map[string]uuid.UUID
}

// NewSettlementStore creates an empty in-memory store
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		bookings: make(map[uuid.UUID]*core.Booking),
		byKey:    make(map[string]uuid.UUID),
	}
}

// CreateBooking writes a new booking
func (s *SettlementStore) CreateBooking(ctx context.Context, booking *core.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[booking.ID]; ok {
		return fmt.Errorf("booking %s already exists", booking.ID)
	}
	now := time.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	copied := *booking
	s.bookings[booking.ID] = &copied
	return nil
}

// GetBooking retrieves a booking by id
func (s *SettlementStore) GetBooking(ctx context.Context, id uuid.UUID) (*core.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[id]
	if !ok {
		return nil, core.ErrBookingNotFound
	}
	copied := *booking
	return &copied, nil
}

// ListTransactions returns a booking's ledger ordered by creation time
func (s *SettlementStore) ListTransactions(ctx context.Context, bookingID uuid.UUID) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if tx.BookingID == bookingID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindByIdempotencyKey returns the attempt a key authorized, or nil
func (s *SettlementStore) FindByIdempotencyKey(ctx context.Context, key string) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	return s.findLocked(id), nil
}

// FindPendingTransaction returns the booking's open attempt, or nil
func (s *SettlementStore) FindPendingTransaction(ctx context.Context, bookingID uuid.UUID) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.BookingID == bookingID && tx.Status == core.TransactionStatusPending {
			copied := tx
			return &copied, nil
		}
	}
	return nil, nil
}

// CountPaymentAttempts counts payment attempts for the retry cap
func (s *SettlementStore) CountPaymentAttempts(ctx context.Context, bookingID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, tx := range s.transactions {
		if tx.BookingID == bookingID && tx.Type == core.TransactionTypePayment {
			count++
		}
	}
	return count, nil
}

// BeginAttempt atomically appends a Pending entry and swaps the booking
// status; exactly one of two racing callers wins.
func (s *SettlementStore) BeginAttempt(ctx context.Context, tx *core.Transaction, to core.BookingStatus, from ...core.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[tx.BookingID]
	if !ok {
		return core.ErrBookingNotFound
	}

	allowed := false
	for _, f := range from {
		if booking.PaymentStatus == f {
			allowed = true
		}
	}
	if !allowed {
		return fmt.Errorf("booking is %s: %w", booking.PaymentStatus, core.ErrInvalidState)
	}

	for _, existing := range s.transactions {
		if existing.BookingID == tx.BookingID && existing.Status == core.TransactionStatusPending {
			return fmt.Errorf("booking has an open attempt: %w", core.ErrInvalidState)
		}
	}

	if _, dup := s.byKey[tx.IdempotencyKey]; dup {
		return fmt.Errorf("idempotency key %s already used: %w", tx.IdempotencyKey, core.ErrInvalidState)
	}

	s.transactions = append(s.transactions, *tx)
	s.byKey[tx.IdempotencyKey] = tx.ID
	booking.PaymentStatus = to
	booking.UpdatedAt = time.Now()
	return nil
}

// SetGatewayReference records the network reference on a pending attempt
func (s *SettlementStore) SetGatewayReference(ctx context.Context, txID uuid.UUID, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		if s.transactions[i].ID == txID {
			if s.transactions[i].Status != core.TransactionStatusPending {
				return fmt.Errorf("transaction %s is not pending: %w", txID, core.ErrInvalidState)
			}
			s.transactions[i].GatewayReference = reference
			return nil
		}
	}
	return fmt.Errorf("transaction %s not found: %w", txID, core.ErrInvalidState)
}

// ResolveAttempt finalizes a pending entry and updates the booking status
// as one unit. Terminal entries are immutable.
func (s *SettlementStore) ResolveAttempt(ctx context.Context, txID uuid.UUID, res output.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.transactions {
		if s.transactions[i].ID != txID {
			continue
		}
		tx := &s.transactions[i]
		if tx.Status != core.TransactionStatusPending {
			return fmt.Errorf("transaction %s already %s: %w", txID, tx.Status, core.ErrInvalidState)
		}

		booking, ok := s.bookings[tx.BookingID]
		if !ok {
			return core.ErrBookingNotFound
		}

		now := time.Now()
		tx.Status = res.TransactionStatus
		tx.ErrorKind = res.ErrorKind
		tx.CompletedAt = &now
		if tx.GatewayReference == "" {
			tx.GatewayReference = res.GatewayReference
		}
		booking.PaymentStatus = res.BookingStatus
		booking.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("transaction %s not found: %w", txID, core.ErrInvalidState)
}

// TransitionBooking compare-and-swaps the booking status alone
func (s *SettlementStore) TransitionBooking(ctx context.Context, id uuid.UUID, from, to core.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[id]
	if !ok {
		return core.ErrBookingNotFound
	}
	if booking.PaymentStatus != from {
		return fmt.Errorf("booking %s is %s: %w", id, booking.PaymentStatus, core.ErrInvalidState)
	}
	booking.PaymentStatus = to
	booking.UpdatedAt = time.Now()
	return nil
}

func (s *SettlementStore) findLocked(id uuid.UUID) *core.Transaction {
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			copied := s.transactions[i]
			return &copied
		}
	}
	return nil
}
