package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/constant/model/db"
	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/Nexus-orgs/sypot-payments/internal/port/output"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSettlementStore is a secondary adapter that implements the
// SettlementStore output port. Every write coupling the ledger to the
// booking status runs inside one database transaction with the booking
// row locked SELECT FOR UPDATE, which gives the compare-and-swap the
// engine's state machine relies on.
type GormSettlementStore struct {
	gormDB *gorm.DB
}

// NewGormSettlementStore creates a new GORM settlement store
func NewGormSettlementStore(gormDB *gorm.DB) output.SettlementStore {
	return &GormSettlementStore{gormDB: gormDB}
}

func bookingToCore(b *db.Booking) *core.Booking {
	return &core.Booking{
		ID:            b.ID,
		UserID:        b.UserID,
		Amount:        b.Amount,
		Currency:      core.Currency(b.Currency),
		PaymentStatus: core.BookingStatus(b.PaymentStatus),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func transactionToCore(t *db.Transaction) *core.Transaction {
	return &core.Transaction{
		ID:               t.ID,
		BookingID:        t.BookingID,
		Type:             core.TransactionType(t.Type),
		Amount:           t.Amount,
		Currency:         core.Currency(t.Currency),
		Gateway:          core.Gateway(t.Gateway),
		GatewayReference: t.GatewayReference,
		Status:           core.TransactionStatus(t.Status),
		ErrorKind:        core.ErrorKind(t.ErrorKind),
		IdempotencyKey:   t.IdempotencyKey,
		Reason:           t.Reason,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

func transactionFromCore(t *core.Transaction) *db.Transaction {
	return &db.Transaction{
		ID:               t.ID,
		BookingID:        t.BookingID,
		Type:             string(t.Type),
		Amount:           t.Amount,
		Currency:         string(t.Currency),
		Gateway:          string(t.Gateway),
		GatewayReference: t.GatewayReference,
		Status:           string(t.Status),
		ErrorKind:        string(t.ErrorKind),
		IdempotencyKey:   t.IdempotencyKey,
		Reason:           t.Reason,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

// CreateBooking writes a new booking row
func (s *GormSettlementStore) CreateBooking(ctx context.Context, booking *core.Booking) error {
	row := &db.Booking{
		ID:            booking.ID,
		UserID:        booking.UserID,
		Amount:        booking.Amount,
		Currency:      string(booking.Currency),
		PaymentStatus: string(booking.PaymentStatus),
	}
	if err := s.gormDB.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	booking.CreatedAt = row.CreatedAt
	booking.UpdatedAt = row.UpdatedAt
	return nil
}

// GetBooking retrieves a booking by its ID
func (s *GormSettlementStore) GetBooking(ctx context.Context, id uuid.UUID) (*core.Booking, error) {
	var row db.Booking
	if err := s.gormDB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return bookingToCore(&row), nil
}

// ListTransactions returns a booking's ledger ordered by creation time
func (s *GormSettlementStore) ListTransactions(ctx context.Context, bookingID uuid.UUID) ([]core.Transaction, error) {
	var rows []db.Transaction
	if err := s.gormDB.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	transactions := make([]core.Transaction, 0, len(rows))
	for i := range rows {
		transactions = append(transactions, *transactionToCore(&rows[i]))
	}
	return transactions, nil
}

// FindByIdempotencyKey returns the attempt a key authorized, or nil
func (s *GormSettlementStore) FindByIdempotencyKey(ctx context.Context, key string) (*core.Transaction, error) {
	var row db.Transaction
	err := s.gormDB.WithContext(ctx).Where("idempotency_key = ?", key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return transactionToCore(&row), nil
}

// FindPendingTransaction returns the booking's open attempt, or nil
func (s *GormSettlementStore) FindPendingTransaction(ctx context.Context, bookingID uuid.UUID) (*core.Transaction, error) {
	var row db.Transaction
	err := s.gormDB.WithContext(ctx).
		Where("booking_id = ? AND status = ?", bookingID, string(core.TransactionStatusPending)).
		Order("created_at desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find pending transaction: %w", err)
	}
	return transactionToCore(&row), nil
}

// CountPaymentAttempts counts payment attempts for the retry cap
func (s *GormSettlementStore) CountPaymentAttempts(ctx context.Context, bookingID uuid.UUID) (int, error) {
	var count int64
	if err := s.gormDB.WithContext(ctx).Model(&db.Transaction{}).
		Where("booking_id = ? AND type = ?", bookingID, string(core.TransactionTypePayment)).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return int(count), nil
}

// BeginAttempt atomically appends a Pending ledger entry and transitions
// the booking status, locking the booking row so exactly one of two
// racing callers wins.
func (s *GormSettlementStore) BeginAttempt(ctx context.Context, tx *core.Transaction, to core.BookingStatus, from ...core.BookingStatus) error {
	return s.gormDB.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		var booking db.Booking
		if err := dbTx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tx.BookingID).
			First(&booking).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrBookingNotFound
			}
			return fmt.Errorf("failed to lock booking: %w", err)
		}

		if !statusIn(core.BookingStatus(booking.PaymentStatus), from) {
			return fmt.Errorf("booking is %s: %w", booking.PaymentStatus, core.ErrInvalidState)
		}

		// One open attempt per booking at a time.
		var pending int64
		if err := dbTx.Model(&db.Transaction{}).
			Where("booking_id = ? AND status = ?", tx.BookingID, string(core.TransactionStatusPending)).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("failed to check open attempts: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("booking has an open attempt: %w", core.ErrInvalidState)
		}

		if err := dbTx.Create(transactionFromCore(tx)).Error; err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}

		booking.PaymentStatus = string(to)
		booking.UpdatedAt = time.Now()
		if err := dbTx.Save(&booking).Error; err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		return nil
	})
}

// SetGatewayReference records the network reference on a pending attempt
func (s *GormSettlementStore) SetGatewayReference(ctx context.Context, txID uuid.UUID, reference string) error {
	result := s.gormDB.WithContext(ctx).Model(&db.Transaction{}).
		Where("id = ? AND status = ?", txID, string(core.TransactionStatusPending)).
		Update("gateway_reference", reference)
	if result.Error != nil {
		return fmt.Errorf("failed to set gateway reference: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("transaction %s is not pending: %w", txID, core.ErrInvalidState)
	}
	return nil
}

// ResolveAttempt finalizes a pending entry and updates the booking status
// in one database transaction. Terminal entries are immutable: resolving
// one again fails with ErrInvalidState.
func (s *GormSettlementStore) ResolveAttempt(ctx context.Context, txID uuid.UUID, res output.Resolution) error {
	return s.gormDB.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		var row db.Transaction
		if err := dbTx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", txID).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("transaction %s not found: %w", txID, core.ErrInvalidState)
			}
			return fmt.Errorf("failed to lock transaction: %w", err)
		}
		if row.Status != string(core.TransactionStatusPending) {
			return fmt.Errorf("transaction %s already %s: %w", txID, row.Status, core.ErrInvalidState)
		}

		now := time.Now()
		row.Status = string(res.TransactionStatus)
		row.ErrorKind = string(res.ErrorKind)
		row.CompletedAt = &now
		if row.GatewayReference == "" {
			row.GatewayReference = res.GatewayReference
		}
		if err := dbTx.Save(&row).Error; err != nil {
			return fmt.Errorf("failed to finalize transaction: %w", err)
		}

		var booking db.Booking
		if err := dbTx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", row.BookingID).
			First(&booking).Error; err != nil {
			return fmt.Errorf("failed to lock booking: %w", err)
		}
		booking.PaymentStatus = string(res.BookingStatus)
		booking.UpdatedAt = now
		if err := dbTx.Save(&booking).Error; err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		return nil
	})
}

// TransitionBooking compare-and-swaps the booking status alone
func (s *GormSettlementStore) TransitionBooking(ctx context.Context, id uuid.UUID, from, to core.BookingStatus) error {
	result := s.gormDB.WithContext(ctx).Model(&db.Booking{}).
		Where("id = ? AND payment_status = ?", id, string(from)).
		Updates(map[string]any{"payment_status": string(to), "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to transition booking: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("booking %s is not %s: %w", id, from, core.ErrInvalidState)
	}
	return nil
}

func statusIn(status core.BookingStatus, allowed []core.BookingStatus) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
