package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/services/saga"
	"github.com/urbanserve/booking-payments/pkg/resilience"
)

// CheckoutService runs a booking checkout.
type CheckoutService interface {
	Execute(ctx context.Context, req *saga.CheckoutRequest) (*saga.CheckoutResult, error)
}

// CheckoutHandler exposes the booking checkout over HTTP.
type CheckoutHandler struct {
	saga   CheckoutService
	logger *zap.Logger
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(s CheckoutService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{saga: s, logger: logger}
}

// CheckoutRequest is the request body for POST /api/v1/bookings/checkout
type CheckoutRequest struct {
	CustomerID           string            `json:"customer_id"`
	EstimatedAmountCents int64             `json:"estimated_amount_cents"`
	PaymentMethodRef     string            `json:"payment_method_ref"`
	ServiceDetails       map[string]string `json:"service_details,omitempty"`
}

// CheckoutResponse is the success payload.
type CheckoutResponse struct {
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	AuthorizationID string `json:"authorization_id"`
	Replayed        bool   `json:"replayed,omitempty"`
}

// Checkout handles POST /api/v1/bookings/checkout. The Idempotency-Key
// header is mandatory: retried requests with the same key replay the stored
// outcome instead of authorizing twice.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		respondError(w, h.logger, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" || req.PaymentMethodRef == "" {
		respondError(w, h.logger, http.StatusBadRequest, "customer_id and payment_method_ref are required")
		return
	}
	if req.EstimatedAmountCents <= 0 {
		respondError(w, h.logger, http.StatusBadRequest, "estimated_amount_cents must be positive")
		return
	}

	result, err := h.saga.Execute(r.Context(), &saga.CheckoutRequest{
		CustomerID:           req.CustomerID,
		EstimatedAmountCents: req.EstimatedAmountCents,
		PaymentMethodRef:     req.PaymentMethodRef,
		ServiceDetails:       req.ServiceDetails,
		IdempotencyKey:       idempotencyKey,
	})
	if err != nil {
		h.respondCheckoutError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, h.logger, status, CheckoutResponse{
		OrderID:         result.OrderID.String(),
		Status:          string(result.Status),
		AuthorizationID: result.AuthorizationID,
		Replayed:        result.Replayed,
	})
}

func (h *CheckoutHandler) respondCheckoutError(w http.ResponseWriter, err error) {
	var cardErr *models.CardError
	switch {
	case errors.As(err, &cardErr):
		respondError(w, h.logger, http.StatusPaymentRequired, cardErr.UserMessage)
	case errors.Is(err, models.ErrIdempotencyConflict):
		respondError(w, h.logger, http.StatusConflict, "a checkout with this idempotency key is already in progress")
	case errors.Is(err, saga.ErrCheckoutAlreadyFailed):
		respondError(w, h.logger, http.StatusConflict, "checkout already failed for this idempotency key, use a new key")
	case errors.Is(err, resilience.ErrCircuitOpen):
		respondError(w, h.logger, http.StatusServiceUnavailable, "payment service is temporarily unavailable, please try again shortly")
	default:
		var transientErr *models.ProviderTransientError
		if errors.As(err, &transientErr) {
			respondError(w, h.logger, http.StatusServiceUnavailable, "payment could not be processed, please try again shortly")
			return
		}
		h.logger.Error("Checkout failed", zap.Error(err))
		respondError(w, h.logger, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, logger *zap.Logger, statusCode int, message string) {
	respondJSON(w, logger, statusCode, map[string]any{
		"success": false,
		"error":   message,
	})
}
