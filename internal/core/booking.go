package core

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the payment status of a booking
type BookingStatus string

const (
	BookingStatusUnpaid     BookingStatus = "UNPAID"
	BookingStatusProcessing BookingStatus = "PROCESSING"
	BookingStatusCompleted  BookingStatus = "COMPLETED"
	BookingStatusFailed     BookingStatus = "FAILED"
	BookingStatusRefunded   BookingStatus = "REFUNDED"
)

// Currency represents supported ISO 4217 currency codes
type Currency string

const (
	CurrencyKES Currency = "KES"
	CurrencyUSD Currency = "USD"
)

// PaymentMethod selects which gateway settles a booking
type PaymentMethod string

const (
	PaymentMethodCard        PaymentMethod = "CARD"
	PaymentMethodMobileMoney PaymentMethod = "MOBILE_MONEY"
)

// Gateway returns the payment network that settles this method
func (m PaymentMethod) Gateway() Gateway {
	switch m {
	case PaymentMethodMobileMoney:
		return GatewayMobileMoney
	default:
		return GatewayCard
	}
}

// Valid reports whether the method is one this engine can dispatch
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCard || m == PaymentMethodMobileMoney
}

// Booking represents what a user is paying for. Amounts are integers in
// minor currency units; the payment status is mutated only by the
// settlement engine and the refund coordinator.
type Booking struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Amount        int64
	Currency      Currency
	PaymentStatus BookingStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsChargeable reports whether a new payment attempt may start
func (b *Booking) IsChargeable() bool {
	return b.PaymentStatus == BookingStatusUnpaid || b.PaymentStatus == BookingStatusFailed
}

// IsTerminal reports whether no further automatic transition occurs
func (b *Booking) IsTerminal() bool {
	return b.PaymentStatus == BookingStatusCompleted ||
		b.PaymentStatus == BookingStatusFailed ||
		b.PaymentStatus == BookingStatusRefunded
}
