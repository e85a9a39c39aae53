package core

import "errors"

// Sentinel errors forming the settlement error taxonomy. Adapters translate
// raw network and provider errors into these at the adapter boundary; the
// engine and the HTTP layer match them with errors.Is.
var (
	// ErrBookingNotFound means the booking id is unknown to the store.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrInvalidState means the booking is not in a state the requested
	// operation accepts (e.g. paying a booking already Processing).
	ErrInvalidState = errors.New("booking is not in a valid state for this operation")
	// ErrDeclined is a business decline from the gateway (insufficient
	// funds, user cancelled). Terminal; not retried automatically.
	ErrDeclined = errors.New("payment declined by gateway")
	// ErrNetwork is a transient transport failure reaching the gateway.
	ErrNetwork = errors.New("network error reaching gateway")
	// ErrGatewayUnavailable means the gateway itself reported an outage.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	// ErrConfirmationTimeout means an asynchronous charge did not reach a
	// terminal status within the confirmation window. The booking stays
	// Processing until reconciliation resolves it.
	ErrConfirmationTimeout = errors.New("confirmation wait timed out")
	// ErrManualInterventionRequired means the settling gateway cannot
	// refund programmatically; an operator must reverse out-of-band.
	ErrManualInterventionRequired = errors.New("manual intervention required")
	// ErrInvalidAmount means a refund exceeds the net captured amount.
	ErrInvalidAmount = errors.New("amount exceeds captured total")
	// ErrRetriesExhausted means the per-booking attempt cap was reached.
	ErrRetriesExhausted = errors.New("payment retry limit reached")
)

// ErrorKind is the failure classification recorded on a Failed transaction
// so the ledger always explains why a booking is in its current state.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindDeclined           ErrorKind = "DECLINED"
	ErrorKindInsufficientFunds  ErrorKind = "INSUFFICIENT_FUNDS"
	ErrorKindUserCancelled      ErrorKind = "USER_CANCELLED"
	ErrorKindNetwork            ErrorKind = "NETWORK"
	ErrorKindGatewayUnavailable ErrorKind = "GATEWAY_UNAVAILABLE"
	ErrorKindTimeout            ErrorKind = "TIMEOUT"
	ErrorKindManualIntervention ErrorKind = "MANUAL_INTERVENTION"
)

// Retryable reports whether a caller may retry a failed attempt with a
// fresh idempotency key. Business declines are terminal; transport and
// gateway outages are not.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindNetwork || k == ErrorKindGatewayUnavailable
}

// Err maps a kind back to its sentinel for surfacing to callers.
func (k ErrorKind) Err() error {
	switch k {
	case ErrorKindDeclined, ErrorKindInsufficientFunds, ErrorKindUserCancelled:
		return ErrDeclined
	case ErrorKindNetwork:
		return ErrNetwork
	case ErrorKindGatewayUnavailable:
		return ErrGatewayUnavailable
	case ErrorKindTimeout:
		return ErrConfirmationTimeout
	case ErrorKindManualIntervention:
		return ErrManualInterventionRequired
	default:
		return nil
	}
}
