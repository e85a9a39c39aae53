package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/Nexus-orgs/sypot-payments/internal/port/input"
	"github.com/Nexus-orgs/sypot-payments/internal/port/output"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SettlementHandler is a primary adapter (HTTP handler)
type SettlementHandler struct {
	settlements input.SettlementService
	// store backs the booking seeding endpoint only; settlement flows
	// never touch it directly.
	store output.SettlementStore
}

// NewSettlementHandler creates a new settlement handler
func NewSettlementHandler(settlements input.SettlementService, store output.SettlementStore) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		store:       store,
	}
}

// CreateBookingRequest represents the HTTP request to seed a booking
type CreateBookingRequest struct {
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// PayRequest represents the HTTP request to charge a booking
type PayRequest struct {
	Method         string `json:"method"`
	Details        string `json:"details"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RefundRequest represents the HTTP request to refund a booking
type RefundRequest struct {
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PaymentResultResponse represents the outcome of a settlement operation
type PaymentResultResponse struct {
	Status        string `json:"status"`
	BookingStatus string `json:"booking_status"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
}

// TransactionResponse represents one ledger entry
type TransactionResponse struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Gateway          string `json:"gateway"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	Status           string `json:"status"`
	ErrorKind        string `json:"error_kind,omitempty"`
	CreatedAt        string `json:"created_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

// BookingStatusResponse represents a booking's payment state and ledger
type BookingStatusResponse struct {
	BookingID     string                `json:"booking_id"`
	PaymentStatus string                `json:"payment_status"`
	Amount        int64                 `json:"amount"`
	Currency      string                `json:"currency"`
	Transactions  []TransactionResponse `json:"transactions"`
}

// CreateBooking seeds an unpaid booking. The real booking-creation flow
// lives outside this service; this endpoint stands in for it.
func (h *SettlementHandler) CreateBooking(c echo.Context) error {
	var req CreateBookingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid user ID"})
	}
	if req.Amount <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "amount must be greater than zero"})
	}

	booking := &core.Booking{
		ID:            uuid.New(),
		UserID:        userID,
		Amount:        req.Amount,
		Currency:      core.Currency(req.Currency),
		PaymentStatus: core.BookingStatusUnpaid,
	}
	if err := h.store.CreateBooking(c.Request().Context(), booking); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create booking"})
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"id":             booking.ID.String(),
		"user_id":        booking.UserID.String(),
		"amount":         booking.Amount,
		"currency":       string(booking.Currency),
		"payment_status": string(booking.PaymentStatus),
		"created_at":     booking.CreatedAt.Format(time.RFC3339),
	})
}

// Pay handles a payment request for a booking
func (h *SettlementHandler) Pay(c echo.Context) error {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid booking ID"})
	}

	var req PayRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	result, err := h.settlements.Pay(c.Request().Context(), input.PayRequest{
		BookingID:      bookingID,
		Method:         core.PaymentMethod(req.Method),
		Details:        req.Details,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	// A timed-out confirmation is accepted, not failed: the booking stays
	// Processing until reconciliation resolves it.
	status := http.StatusOK
	if result.Status == core.TransactionStatusPending {
		status = http.StatusAccepted
	}
	return c.JSON(status, toResultResponse(result))
}

// GetPayment handles payment status retrieval for a booking
func (h *SettlementHandler) GetPayment(c echo.Context) error {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid booking ID"})
	}

	status, err := h.settlements.GetStatus(c.Request().Context(), bookingID)
	if err != nil {
		return h.mapError(c, err)
	}

	resp := BookingStatusResponse{
		BookingID:     status.BookingID.String(),
		PaymentStatus: string(status.PaymentStatus),
		Amount:        status.Amount,
		Currency:      string(status.Currency),
		Transactions:  make([]TransactionResponse, 0, len(status.Transactions)),
	}
	for _, tx := range status.Transactions {
		entry := TransactionResponse{
			ID:               tx.ID.String(),
			Type:             string(tx.Type),
			Amount:           tx.Amount,
			Currency:         string(tx.Currency),
			Gateway:          string(tx.Gateway),
			GatewayReference: tx.GatewayReference,
			Status:           string(tx.Status),
			ErrorKind:        string(tx.ErrorKind),
			CreatedAt:        tx.CreatedAt.Format(time.RFC3339),
		}
		if tx.CompletedAt != nil {
			entry.CompletedAt = tx.CompletedAt.Format(time.RFC3339)
		}
		resp.Transactions = append(resp.Transactions, entry)
	}
	return c.JSON(http.StatusOK, resp)
}

// Refund handles a refund request for a booking
func (h *SettlementHandler) Refund(c echo.Context) error {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid booking ID"})
	}

	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	result, err := h.settlements.Refund(c.Request().Context(), input.RefundRequest{
		BookingID: bookingID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, toResultResponse(result))
}

// Reconcile handles a reconciliation request, normally invoked by the
// worker or a gateway webhook delivery.
func (h *SettlementHandler) Reconcile(c echo.Context) error {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid booking ID"})
	}

	result, err := h.settlements.ReconcilePending(c.Request().Context(), bookingID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, toResultResponse(result))
}

func toResultResponse(result *input.PaymentResult) PaymentResultResponse {
	resp := PaymentResultResponse{
		Status:        string(result.Status),
		BookingStatus: string(result.BookingStatus),
		ErrorKind:     string(result.ErrorKind),
	}
	if result.TransactionID != uuid.Nil {
		resp.TransactionID = result.TransactionID.String()
	}
	return resp
}

// mapError translates the core error taxonomy onto HTTP status codes
func (h *SettlementHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, core.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Booking not found"})
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrRetriesExhausted),
		errors.Is(err, core.ErrManualInterventionRequired):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidAmount):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrNetwork), errors.Is(err, core.ErrGatewayUnavailable):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to process request"})
	}
}
