package output

import (
	"github.com/google/uuid"
)

// ReconcileQueue is an output port (secondary port) for handing off
// bookings whose confirmation wait timed out. A consumer drains the queue
// and drives ReconcilePending until the gateway has a terminal answer.
type ReconcileQueue interface {
	// PublishReconcile enqueues a booking for out-of-band reconciliation
	PublishReconcile(bookingID uuid.UUID) error
	// Close closes the queue connection
	Close() error
}
