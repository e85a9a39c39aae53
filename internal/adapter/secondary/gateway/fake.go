package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/core"

	"github.com/google/uuid"
)

// Fake is an in-process gateway used by tests and local development. It
// tracks the amount actually captured per charge so tests can check that
// the ledger and the gateway agree, dedups charges by idempotency key the
// way a real network would, and can be scripted to decline, stay pending
// for a number of status polls, or fail with transport errors.
type Fake struct {
	name core.Gateway
	caps Capabilities

	// ChargeOutcome is the status the next Charge reports. For an
	// asynchronous fake this is normally Pending.
	ChargeOutcome core.TransactionStatus
	// DeclineKind is attached when ChargeOutcome is Failed
	DeclineKind core.ErrorKind
	// ResolveAfterPolls makes a pending charge turn into ResolveTo after
	// that many CheckStatus calls. Zero means it stays pending until a
	// test resolves it by hand.
	ResolveAfterPolls int
	// ResolveTo is the terminal status a pending charge resolves to
	ResolveTo core.TransactionStatus
	// ChargeErr, when set, is returned verbatim from Charge
	ChargeErr error

	mu      sync.Mutex
	charges map[string]*fakeCharge
	byKey   map[string]string
}

type fakeCharge struct {
	amount    int64
	captured  int64
	status    core.TransactionStatus
	errorKind core.ErrorKind
	polls     int
}

// NewFake creates a fake gateway with the given capability surface
func NewFake(name core.Gateway, caps Capabilities) *Fake {
	return &Fake{
		name:          name,
		caps:          caps,
		ChargeOutcome: core.TransactionStatusCompleted,
		ResolveTo:     core.TransactionStatusCompleted,
		charges:       make(map[string]*fakeCharge),
		byKey:         make(map[string]string),
	}
}

// NewFakeCard creates a fake with the card network's capabilities
func NewFakeCard() *Fake {
	return NewFake(core.GatewayCard, Capabilities{
		SynchronousCharge:   true,
		ProgrammaticRefund:  true,
		MaxConfirmationWait: 15 * time.Second,
	})
}

// NewFakeMobileMoney creates a fake with the mobile-money capabilities.
// Charges acknowledge pending and need polling to resolve.
func NewFakeMobileMoney() *Fake {
	f := NewFake(core.GatewayMobileMoney, Capabilities{
		SynchronousCharge:   false,
		ProgrammaticRefund:  false,
		MaxConfirmationWait: 30 * time.Second,
	})
	f.ChargeOutcome = core.TransactionStatusPending
	return f
}

// Name returns the gateway this fake stands in for
func (f *Fake) Name() core.Gateway {
	return f.name
}

// Capabilities returns the configured descriptor
func (f *Fake) Capabilities() Capabilities {
	return f.caps
}

// Charge records a charge, deduping on the idempotency key: replaying a
// key returns the original result without capturing again.
func (f *Fake) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if f.ChargeErr != nil {
		return nil, f.ChargeErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if ref, ok := f.byKey[req.IdempotencyKey]; ok {
		ch := f.charges[ref]
		return &ChargeResult{Status: ch.status, GatewayReference: ref, ErrorKind: ch.errorKind}, nil
	}

	ref := uuid.NewString()
	ch := &fakeCharge{amount: req.Amount, status: f.ChargeOutcome}
	if f.ChargeOutcome == core.TransactionStatusCompleted {
		ch.captured = req.Amount
	}
	if f.ChargeOutcome == core.TransactionStatusFailed {
		ch.errorKind = f.DeclineKind
		if ch.errorKind == core.ErrorKindNone {
			ch.errorKind = core.ErrorKindDeclined
		}
	}
	f.charges[ref] = ch
	f.byKey[req.IdempotencyKey] = ref

	return &ChargeResult{Status: ch.status, GatewayReference: ref, ErrorKind: ch.errorKind}, nil
}

// CheckStatus reports a charge's status, resolving pending charges after
// the scripted number of polls.
func (f *Fake) CheckStatus(ctx context.Context, reference string) (*StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.charges[reference]
	if !ok {
		return nil, fmt.Errorf("fake gateway has no charge %s", reference)
	}

	if ch.status == core.TransactionStatusPending {
		ch.polls++
		if f.ResolveAfterPolls > 0 && ch.polls >= f.ResolveAfterPolls {
			f.resolveLocked(ch, f.ResolveTo)
		}
	}

	return &StatusResult{Status: ch.status, ErrorKind: ch.errorKind}, nil
}

// Refund returns captured funds, honoring the capability descriptor
func (f *Fake) Refund(ctx context.Context, reference string, amount int64) (*RefundResult, error) {
	if !f.caps.ProgrammaticRefund {
		return nil, fmt.Errorf("gateway %s cannot refund %s: %w", f.name, reference, core.ErrManualInterventionRequired)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.charges[reference]
	if !ok {
		return nil, fmt.Errorf("fake gateway has no charge %s", reference)
	}
	if amount > ch.captured {
		return nil, fmt.Errorf("fake gateway: refund %d exceeds captured %d", amount, ch.captured)
	}
	ch.captured -= amount

	return &RefundResult{GatewayReference: uuid.NewString()}, nil
}

// Resolve forces a pending charge to a terminal status, standing in for
// the subscriber approving (or the network failing) out-of-band.
func (f *Fake) Resolve(reference string, status core.TransactionStatus, kind core.ErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.charges[reference]; ok {
		f.resolveLocked(ch, status)
		if status == core.TransactionStatusFailed {
			ch.errorKind = kind
		}
	}
}

func (f *Fake) resolveLocked(ch *fakeCharge, status core.TransactionStatus) {
	ch.status = status
	if status == core.TransactionStatusCompleted {
		ch.captured = ch.amount
	}
}

// CapturedTotal is the amount currently held across all charges
func (f *Fake) CapturedTotal() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, ch := range f.charges {
		total += ch.captured
	}
	return total
}

// ChargeCount reports how many distinct charges reached the gateway
func (f *Fake) ChargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

// Reference looks up the charge reference created for an idempotency key
func (f *Fake) Reference(idempotencyKey string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byKey[idempotencyKey]
}
