package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Nexus-orgs/sypot-payments/internal/adapter/secondary/gateway"
	"github.com/Nexus-orgs/sypot-payments/internal/adapter/secondary/inmemory"
	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/Nexus-orgs/sypot-payments/internal/core/service"
	"github.com/Nexus-orgs/sypot-payments/internal/port/input"
)

// settleViaCard pays a booking through the fake card gateway so refund
// tests start from a Completed booking with funds held at the gateway.
func settleViaCard(t *testing.T, store *inmemory.SettlementStore, card *gateway.Fake, amount int64) *core.Booking {
	t.Helper()
	engine := service.NewSettlementEngine(store, service.NewGateways(card), &fakeQueue{}, testConfig())
	booking := newBooking(t, store, amount, core.CurrencyUSD)
	result, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodCard,
		Details:   "tok_visa",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, result.Status)
	return booking
}

func TestRefund_FullRefundMovesBookingToRefunded(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	booking := settleViaCard(t, store, card, 5000)

	coordinator := service.NewRefundCoordinator(store, service.NewGateways(card))
	result, err := coordinator.Refund(context.Background(), input.RefundRequest{
		BookingID: booking.ID,
		Reason:    "event cancelled",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, result.Status)
	require.Equal(t, core.BookingStatusRefunded, result.BookingStatus)

	// Conservation: ledger and gateway agree on zero held funds.
	transactions, err := store.ListTransactions(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), core.NetCaptured(transactions))
	require.Equal(t, int64(0), card.CapturedTotal())
}

func TestRefund_PartialRefundLeavesBookingCompleted(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	booking := settleViaCard(t, store, card, 5000)

	coordinator := service.NewRefundCoordinator(store, service.NewGateways(card))
	result, err := coordinator.Refund(context.Background(), input.RefundRequest{
		BookingID: booking.ID,
		Amount:    2000,
	})
	require.NoError(t, err)
	require.Equal(t, core.BookingStatusCompleted, result.BookingStatus)

	transactions, err := store.ListTransactions(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3000), core.NetCaptured(transactions))
	require.Equal(t, int64(3000), card.CapturedTotal())

	// The remainder can still be refunded, which closes the booking.
	result, err = coordinator.Refund(context.Background(), input.RefundRequest{
		BookingID: booking.ID,
		Amount:    3000,
	})
	require.NoError(t, err)
	require.Equal(t, core.BookingStatusRefunded, result.BookingStatus)
	require.Equal(t, int64(0), card.CapturedTotal())
}

func TestRefund_ExceedingCapturedAmountRejectedBeforeNetwork(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	booking := settleViaCard(t, store, card, 5000)

	coordinator := service.NewRefundCoordinator(store, service.NewGateways(card))
	_, err := coordinator.Refund(context.Background(), input.RefundRequest{
		BookingID: booking.ID,
		Amount:    6000,
	})
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	// No Refund entry was written.
	transactions, err := store.ListTransactions(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	require.Equal(t, int64(5000), card.CapturedTotal())
}

func TestRefund_MobileMoneyRequiresManualIntervention(t *testing.T) {
	store := inmemory.NewSettlementStore()
	momo := gateway.NewFakeMobileMoney()
	momo.ResolveAfterPolls = 1
	engine := service.NewSettlementEngine(store, service.NewGateways(momo), &fakeQueue{}, testConfig())

	booking := newBooking(t, store, 2000, core.CurrencyKES)
	result, err := engine.Pay(context.Background(), input.PayRequest{
		BookingID: booking.ID,
		Method:    core.PaymentMethodMobileMoney,
		Details:   "254700000005",
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusCompleted, result.Status)

	coordinator := service.NewRefundCoordinator(store, service.NewGateways(momo))
	_, err = coordinator.Refund(context.Background(), input.RefundRequest{
		BookingID: booking.ID,
	})
	require.ErrorIs(t, err, core.ErrManualInterventionRequired)

	// The booking is untouched until an operator resolves it.
	after, err := store.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Equal(t, core.BookingStatusCompleted, after.PaymentStatus)
	transactions, err := store.ListTransactions(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
}

func TestRefund_UnsettledBookingRejected(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	coordinator := service.NewRefundCoordinator(store, service.NewGateways(card))

	booking := newBooking(t, store, 5000, core.CurrencyUSD)
	_, err := coordinator.Refund(context.Background(), input.RefundRequest{
		BookingID: booking.ID,
	})
	require.ErrorIs(t, err, core.ErrInvalidState)
}

func TestRefund_GatewayFailureRecordedAndBookingStaysCompleted(t *testing.T) {
	store := inmemory.NewSettlementStore()
	card := gateway.NewFakeCard()
	booking := settleViaCard(t, store, card, 5000)

	// A second gateway registration whose refunds fail at the wire.
	failing := &refundFailingAdapter{Fake: card}
	coordinator := service.NewRefundCoordinator(store, service.NewGateways(failing))

	result, err := coordinator.Refund(context.Background(), input.RefundRequest{
		BookingID: booking.ID,
	})
	require.NoError(t, err)
	require.Equal(t, core.TransactionStatusFailed, result.Status)
	require.Equal(t, core.BookingStatusCompleted, result.BookingStatus)
	require.Equal(t, core.ErrorKindNetwork, result.ErrorKind)

	transactions, err := store.ListTransactions(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, transactions, 2)
	require.Equal(t, core.TransactionStatusFailed, transactions[1].Status)
	require.Equal(t, int64(5000), card.CapturedTotal())
}

type refundFailingAdapter struct {
	*gateway.Fake
}

func (a *refundFailingAdapter) Refund(ctx context.Context, reference string, amount int64) (*gateway.RefundResult, error) {
	return nil, core.ErrNetwork
}
