package core

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType distinguishes settlements from refunds
type TransactionType string

const (
	TransactionTypePayment TransactionType = "PAYMENT"
	TransactionTypeRefund  TransactionType = "REFUND"
)

// TransactionStatus represents the status of one settlement attempt
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// Gateway identifies the external payment network that handled an attempt
type Gateway string

const (
	GatewayCard        Gateway = "CARD"
	GatewayMobileMoney Gateway = "MOBILE_MONEY"
)

// Transaction is one immutable ledger entry: a single settlement or refund
// attempt against a booking. Entries are corrected by appending new ones,
// never by rewriting a Completed or Failed entry. The IdempotencyKey is the
// token forwarded to the gateway so a retried Charge cannot double-capture.
type Transaction struct {
	ID               uuid.UUID
	BookingID        uuid.UUID
	Type             TransactionType
	Amount           int64
	Currency         Currency
	Gateway          Gateway
	GatewayReference string
	Status           TransactionStatus
	ErrorKind        ErrorKind
	IdempotencyKey   string
	Reason           string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// IsTerminal reports whether the entry may no longer be mutated
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted || t.Status == TransactionStatusFailed
}

// NetCaptured returns the amount currently held at the gateway for a
// booking according to its ledger: completed payments minus completed
// refunds.
func NetCaptured(transactions []Transaction) int64 {
	var net int64
	for _, tx := range transactions {
		if tx.Status != TransactionStatusCompleted {
			continue
		}
		switch tx.Type {
		case TransactionTypePayment:
			net += tx.Amount
		case TransactionTypeRefund:
			net -= tx.Amount
		}
	}
	return net
}
