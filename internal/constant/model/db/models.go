package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Booking represents a booking row. The payment engine owns only the
// payment columns; the rest of the booking is created by the booking flow.
type Booking struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Currency      string    `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentStatus string    `gorm:"type:varchar(20);not null;index" json:"payment_status"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Booking) TableName() string {
	return "bookings"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	return nil
}

// BeforeUpdate is a GORM hook that runs before updating a record
func (b *Booking) BeforeUpdate(tx *gorm.DB) error {
	b.UpdatedAt = time.Now()
	return nil
}

// Transaction represents one ledger row. Terminal rows are never updated
// in place; corrections append new rows.
type Transaction struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	BookingID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"booking_id"`
	Type             string     `gorm:"type:varchar(10);not null" json:"type"`
	Amount           int64      `gorm:"not null" json:"amount"`
	Currency         string     `gorm:"type:varchar(3);not null" json:"currency"`
	Gateway          string     `gorm:"type:varchar(20);not null" json:"gateway"`
	GatewayReference string     `gorm:"type:varchar(255)" json:"gateway_reference"`
	Status           string     `gorm:"type:varchar(20);not null;index" json:"status"`
	ErrorKind        string     `gorm:"type:varchar(30)" json:"error_kind"`
	IdempotencyKey   string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"idempotency_key"`
	Reason           string     `gorm:"type:varchar(255)" json:"reason"`
	CreatedAt        time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// TableName specifies the table name for GORM
func (Transaction) TableName() string {
	return "transactions"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return nil
}
