package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/services/order"
	"github.com/urbanserve/booking-payments/pkg/resilience"
)

// OrderLifecycleService drives an order through fulfillment and recovery.
type OrderLifecycleService interface {
	ConfirmFulfillment(ctx context.Context, orderID uuid.UUID, finalAmountCents int64) (*models.Order, error)
	ApproveCharge(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ResolvePaymentFailure(ctx context.Context, orderID uuid.UUID, newPaymentMethodRef string) (*models.Order, error)
}

// OrderHandler exposes the post-authorization order lifecycle over HTTP.
type OrderHandler struct {
	orders OrderLifecycleService
	logger *zap.Logger
}

// NewOrderHandler creates a new order lifecycle handler
func NewOrderHandler(orders OrderLifecycleService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// ConfirmFulfillmentRequest is the body for the fulfillment confirmation.
type ConfirmFulfillmentRequest struct {
	FinalAmountCents int64 `json:"final_amount_cents"`
}

// ResolvePaymentFailureRequest optionally carries a replacement payment method.
type ResolvePaymentFailureRequest struct {
	PaymentMethodRef string `json:"payment_method_ref,omitempty"`
}

// OrderResponse is the common order payload.
type OrderResponse struct {
	OrderID               string `json:"order_id"`
	Status                string `json:"status"`
	AuthorizedAmountCents int64  `json:"authorized_amount_cents"`
	FinalAmountCents      int64  `json:"final_amount_cents,omitempty"`
	PaymentErrorCode      string `json:"payment_error_code,omitempty"`
	PaymentErrorMessage   string `json:"payment_error_message,omitempty"`
}

// ConfirmFulfillment handles POST /api/v1/orders/{id}/confirm-fulfillment.
func (h *OrderHandler) ConfirmFulfillment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req ConfirmFulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FinalAmountCents <= 0 {
		respondError(w, h.logger, http.StatusBadRequest, "final_amount_cents must be positive")
		return
	}

	updated, err := h.orders.ConfirmFulfillment(r.Context(), orderID, req.FinalAmountCents)
	h.respondOrder(w, updated, err)
}

// ApproveCharge handles POST /api/v1/orders/{id}/approve-charge.
func (h *OrderHandler) ApproveCharge(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	updated, err := h.orders.ApproveCharge(r.Context(), orderID)
	h.respondOrder(w, updated, err)
}

// ResolvePaymentFailure handles POST /api/v1/orders/{id}/resolve-payment-failure.
func (h *OrderHandler) ResolvePaymentFailure(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req ResolvePaymentFailureRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, h.logger, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	updated, err := h.orders.ResolvePaymentFailure(r.Context(), orderID, req.PaymentMethodRef)
	h.respondOrder(w, updated, err)
}

func (h *OrderHandler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

// respondOrder maps service outcomes to HTTP. A charge failure returns the
// updated order (now payment_failed) with 402 and the actionable card
// message, not a bare error: the client needs both.
func (h *OrderHandler) respondOrder(w http.ResponseWriter, updated *models.Order, err error) {
	if err != nil {
		var cardErr *models.CardError
		var transitionErr *models.InvalidTransitionError
		switch {
		case errors.As(err, &cardErr):
			resp := orderResponse(updated)
			resp.PaymentErrorMessage = cardErr.UserMessage
			respondJSON(w, h.logger, http.StatusPaymentRequired, resp)
		case errors.As(err, &transitionErr):
			respondError(w, h.logger, http.StatusConflict, transitionErr.Error())
		case errors.Is(err, models.ErrOrderNotFound):
			respondError(w, h.logger, http.StatusNotFound, "order not found")
		case errors.Is(err, models.ErrVersionConflict):
			respondError(w, h.logger, http.StatusConflict, "order was modified concurrently, retry the request")
		case errors.Is(err, order.ErrGracePeriodExpired):
			respondError(w, h.logger, http.StatusConflict, "the payment recovery window has expired")
		case errors.Is(err, resilience.ErrCircuitOpen):
			respondError(w, h.logger, http.StatusServiceUnavailable, "payment processing is temporarily unavailable, please try again shortly")
		default:
			var transientErr *models.ProviderTransientError
			if errors.As(err, &transientErr) {
				if updated != nil {
					resp := orderResponse(updated)
					resp.PaymentErrorMessage = "payment could not be processed, it will be retried automatically"
					respondJSON(w, h.logger, http.StatusAccepted, resp)
					return
				}
				respondError(w, h.logger, http.StatusServiceUnavailable, "payment could not be processed, please try again shortly")
				return
			}
			h.logger.Error("Order operation failed", zap.Error(err))
			respondError(w, h.logger, http.StatusInternalServerError, "internal error")
		}
		return
	}
	respondJSON(w, h.logger, http.StatusOK, orderResponse(updated))
}

func orderResponse(o *models.Order) OrderResponse {
	if o == nil {
		return OrderResponse{}
	}
	return OrderResponse{
		OrderID:               o.ID.String(),
		Status:                string(o.Status),
		AuthorizedAmountCents: o.AuthorizedAmountCents,
		FinalAmountCents:      o.FinalAmountCents,
		PaymentErrorCode:      o.PaymentErrorCode,
	}
}
