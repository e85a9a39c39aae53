package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Nexus-orgs/sypot-payments/internal/adapter/secondary/gateway"
	"github.com/Nexus-orgs/sypot-payments/internal/adapter/secondary/inmemory"
	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/Nexus-orgs/sypot-payments/internal/core/service"
	"github.com/Nexus-orgs/sypot-payments/internal/port/input"
)

type fakeQueue struct {
	mu        sync.Mutex
	published []uuid.UUID
}

func (q *fakeQueue) PublishReconcile(bookingID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, bookingID)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

func testConfig() service.Config {
	return service.Config{
		PollInterval:        5 * time.Millisecond,
		MaxPollInterval:     20 * time.Millisecond,
		BackoffAfter:        3,
		MaxConfirmationWait: 60 * time.Millisecond,
		MaxAttempts:         3,
	}
}

func newBooking(t *testing.T, store *inmemory.SettlementStore, amount int64, currency core.Currency) *core.Booking {
	t.Helper()
	booking := &core.Booking{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Amount:        amount,
		Currency:      currency,
		PaymentStatus: core.BookingStatusUnpaid,
	}
	require.NoError(t, store.CreateBooking(context.Background(), booking))
	return booking
}

func TestPay_CardChargeSettlesSynchronously(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 5000, core.CurrencyUSD)

	result, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
		Details:   "tok_visa",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, result.Status)
	require.Equal(t, core.BookingStatusCompleted, result.BookingStatus)

	status, err := engine.GetStatus(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, core.BookingStatusCompleted, status.PaymentStatus)
	require.Len(t, status.Transactions, 1)
	require.Equal(t, core.TransactionTypePayment, status.Transactions[0].Type)
	require.Equal(t, core.TransactionStatusCompleted, status.Transactions[0].Status)
	require.Equal(t, int64(5000), status.Transactions[0].Amount)
	require.NotEmpty(t, status.Transactions[0].GatewayReference)
	require.NotNil(t, status.Transactions[0].CompletedAt)
}

func TestPay_DeclineIsTerminalAndRecorded(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	card.ChargeOutcome = core.TransactionStatusFailed
	card.DeclineKind = core.ErrorKindInsufficientFunds
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 5000, core.CurrencyUSD)

	result, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
		Details:   "tok_empty",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusFailed, result.Status)
	require.Equal(t, core.BookingStatusFailed, result.BookingStatus)
	require.Equal(t, core.ErrorKindInsufficientFunds, result.ErrorKind)
	require.False(t, result.ErrorKind.Retryable())

	// The failure is never silently dropped: the ledger explains it.
	status, err := engine.GetStatus(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, status.Transactions, 1)
	require.Equal(t, core.TransactionStatusFailed, status.Transactions[0].Status)
	require.Equal(t, core.ErrorKindInsufficientFunds, status.Transactions[0].ErrorKind)
}

func TestPay_NetworkErrorIsRetryableAndFailedBookingCanRetry(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	card.ChargeErr = core.ErrNetwork
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 5000, core.CurrencyUSD)

	result, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusFailed, result.Status)
	require.Equal(t, core.ErrorKindNetwork, result.ErrorKind)
	require.True(t, result.ErrorKind.Retryable())

	// A fresh Pay call re-enters Processing from Failed and succeeds.
	card.ChargeErr = nil
	result, err = engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, result.Status)

	status, err := engine.GetStatus(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, status.Transactions, 2)
}

func TestPay_RetryCapRejectsFourthAttempt(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	card.ChargeErr = core.ErrNetwork
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 5000, core.CurrencyUSD)

	for i := 0; i < 3; i++ {
		result, err := engine.Pay(context.Background(), input.PayRequest{
			BookingID: booking.ID,
			Method:    core.PaymentMethodCard,
		})
		require.NoError(t, err)
		require.Equal(t, core.TransactionStatusFailed, result.Status)
	}

	_, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
	})
	require.ErrorIs(t, err, core.ErrRetriesExhausted)
}

func TestPay_SameIdempotencyKeyNeverChargesTwice(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 5000, core.CurrencyUSD)
	req := input.PayRequest{
		BookingID:      booking.ID,
		Method:         core.PaymentMethodCard,
		IdempotencyKey: "client-key-1",
	}

	first, err := engine.Pay(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, first.Status)

	second, err := engine.Pay(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, second.Status)
	require.Equal(t, first.TransactionID, second.TransactionID)

	require.Equal(t, 1, card.ChargeCount())
	status, err := engine.GetStatus(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, status.Transactions, 1)
}

func TestPay_ConcurrentCallsProduceExactlyOneCharge(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 5000, core.CurrencyUSD)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Pay(context.Background(), input.PayRequest{
				BookingID: booking.ID,
				Method:    core.PaymentMethodCard,
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, core.ErrInvalidState)
		}
	}
	require.Equal(t, 1, winners, "exactly one Pay call must win the transition")
	require.Equal(t, 1, card.ChargeCount(), "the loser must never reach the gateway")
}

func TestPay_MobileMoneyResolvesAfterPolling(t *testing.T) {
	store := inmemory.NewSettlementStore()
	momo := gateway.NewFakeMobileMoney()
	momo.ResolveAfterPolls = 3
	engine := service.NewSettlementEngine(store, service.NewGateways(momo), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 2000, core.CurrencyKES)

	start := time.Now()
	result, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodMobileMoney,
		Details:   "254700000001",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, result.Status)
	require.Equal(t, core.BookingStatusCompleted, result.BookingStatus)
	// Three polls at the base interval had to elapse first.
	require.GreaterOrEqual(t, time.Since(start), 3*testConfig().PollInterval)

	status, err := engine.GetStatus(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, status.Transactions, 1)
	require.Equal(t, core.TransactionStatusCompleted, status.Transactions[0].Status)
}

func TestPay_ConfirmationTimeoutLeavesBookingProcessing(t *testing.T) {
	store := inmemory.NewSettlementStore()
	momo := gateway.NewFakeMobileMoney() // never resolves on its own
	queue := &fakeQueue{}
	engine := service.NewSettlementEngine(store, service.NewGateways(momo), queue, testConfig())

	booking := newBooking(t, store, 2000, core.CurrencyKES)

	result, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodMobileMoney,
		Details:   "254700000002",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusPending, result.Status)
	require.Equal(t, core.BookingStatusProcessing, result.BookingStatus)
	require.Equal(t, core.ErrorKindTimeout, result.ErrorKind)
	require.Equal(t, 1, queue.count(), "timed-out attempt must be handed to reconciliation")

	// The pending entry stays pending: timing out is neither success nor failure.
	status, err := engine.GetStatus(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, status.Transactions, 1)
	require.Equal(t, core.TransactionStatusPending, status.Transactions[0].Status)
}

func TestReconcilePending_ResolvesOnceGatewayHasAnswer(t *testing.T) {
	store := inmemory.NewSettlementStore()
	momo := gateway.NewFakeMobileMoney()
	engine := service.NewSettlementEngine(store, service.NewGateways(momo), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 2000, core.CurrencyKES)

	result, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodMobileMoney,
		Details:   "254700000003",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusPending, result.Status)

	// Still indeterminate at the gateway: reconciliation changes nothing.
	recon, err := engine.ReconcilePending(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, core.BookingStatusProcessing, recon.BookingStatus)

	// The subscriber approves out-of-band; the next pass converges.
	pending, err := store.FindPendingTransaction(context.Background(), booking.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	momo.Resolve(pending.GatewayReference, core.TransactionStatusCompleted, core.ErrorKindNone)

	recon, err = engine.ReconcilePending(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, recon.Status)
	require.Equal(t, core.BookingStatusCompleted, recon.BookingStatus)

	booking2, err := store.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, core.BookingStatusCompleted, booking2.PaymentStatus)
}

func TestReconcilePending_FailsUnacknowledgedChargePastWindow(t *testing.T) {
	store := inmemory.NewSettlementStore()
	momo := gateway.NewFakeMobileMoney()
	cfg := testConfig()
	engine := service.NewSettlementEngine(store, service.NewGateways(momo), &fakeQueue{}, cfg)

	booking := newBooking(t, store, 2000, core.CurrencyKES)

	// An attempt whose charge was never acknowledged: pending, no gateway
	// reference, older than the confirmation window.
	tx := &core.Transaction{
		ID:             uuid.New(),
		BookingID:      booking.ID,
		Type:           core.TransactionTypePayment,
		Amount:         booking.Amount,
		Currency:       booking.Currency,
		Gateway:        core.GatewayMobileMoney,
		Status:         core.TransactionStatusPending,
		IdempotencyKey: "pay-" + uuid.NewString(),
		CreatedAt:      time.Now().Add(-2 * cfg.MaxConfirmationWait),
	}
	require.NoError(t, store.BeginAttempt(context.Background(), tx,
		core.BookingStatusProcessing, core.BookingStatusUnpaid))

	result, err := engine.ReconcilePending(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusFailed, result.Status)
	require.Equal(t, core.BookingStatusFailed, result.BookingStatus)
	require.Equal(t, core.ErrorKindNetwork, result.ErrorKind)
}

func TestReconcilePending_RecoversProcessingBookingFromLedger(t *testing.T) {
	store := inmemory.NewSettlementStore()
	engine := service.NewSettlementEngine(store, service.NewGateways(gateway.NewFakeCard()), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 2000, core.CurrencyKES)
	require.NoError(t, store.TransitionBooking(context.Background(), booking.ID,
		core.BookingStatusUnpaid, core.BookingStatusProcessing))

	// No pending entry and no completed payment: the ledger says Failed.
	result, err := engine.ReconcilePending(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, core.BookingStatusFailed, result.BookingStatus)
}

func TestReconcilePending_NoopOnTerminalBooking(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 5000, core.CurrencyUSD)
	_, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
	})
	require.NoError(t, err)

	result, err := engine.ReconcilePending(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, core.BookingStatusCompleted, result.BookingStatus)
}

func TestPay_UnknownBooking(t *testing.T) {
	store := inmemory.NewSettlementStore()
	engine := service.NewSettlementEngine(store, service.NewGateways(gateway.NewFakeCard()), &fakeQueue{}, testConfig())

	_, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: uuid.New(),
		Method:    core.PaymentMethodCard,
	})
	require.ErrorIs(t, err, core.ErrBookingNotFound)
}

func TestPay_CompletedBookingRejected(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 5000, core.CurrencyUSD)
	_, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
	})
	require.NoError(t, err)

	_, err = engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
	})
	require.ErrorIs(t, err, core.ErrInvalidState)
	require.Equal(t, 1, card.ChargeCount())
}

func TestPay_CallerCancellationStopsPollingNotTheCharge(t *testing.T) {
	store := inmemory.NewSettlementStore()
	momo := gateway.NewFakeMobileMoney()
	queue := &fakeQueue{}
	engine := service.NewSettlementEngine(store, service.NewGateways(momo), queue, testConfig())

	booking := newBooking(t, store, 2000, core.CurrencyKES)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	result, err := engine.Pay(ctx, input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodMobileMoney,
		Details:   "254700000004",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusPending, result.Status)
	require.Equal(t, core.BookingStatusProcessing, result.BookingStatus)
	require.Equal(t, 1, momo.ChargeCount(), "the submitted charge stays at the gateway")
	require.Equal(t, 1, queue.count())
}
