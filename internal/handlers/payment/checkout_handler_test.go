package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/handlers/payment"
	"github.com/urbanserve/booking-payments/internal/services/saga"
	"github.com/urbanserve/booking-payments/pkg/resilience"
)

// MockCheckoutService mocks the checkout saga
type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) Execute(ctx context.Context, req *saga.CheckoutRequest) (*saga.CheckoutResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*saga.CheckoutResult), args.Error(1)
}

func checkoutRequest(t *testing.T, idempotencyKey string) *http.Request {
	t.Helper()
	body, err := json.Marshal(payment.CheckoutRequest{
		CustomerID:           "cust_1",
		EstimatedAmountCents: 10000,
		PaymentMethodRef:     "pm_abc",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/checkout", bytes.NewReader(body))
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return req
}

func TestCheckout_Created(t *testing.T) {
	svc := new(MockCheckoutService)
	h := payment.NewCheckoutHandler(svc, zap.NewNop())
	orderID := uuid.New()

	svc.On("Execute", mock.Anything, mock.MatchedBy(func(r *saga.CheckoutRequest) bool {
		return r.IdempotencyKey == "idem-1" && r.EstimatedAmountCents == 10000
	})).Return(&saga.CheckoutResult{
		OrderID:         orderID,
		Status:          models.StatusPendingFulfillment,
		AuthorizationID: "auth_123",
	}, nil)

	rec := httptest.NewRecorder()
	h.Checkout(rec, checkoutRequest(t, "idem-1"))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp payment.CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orderID.String(), resp.OrderID)
	assert.Equal(t, "pending_fulfillment", resp.Status)
	assert.Equal(t, "auth_123", resp.AuthorizationID)
}

func TestCheckout_ReplayReturns200(t *testing.T) {
	svc := new(MockCheckoutService)
	h := payment.NewCheckoutHandler(svc, zap.NewNop())

	svc.On("Execute", mock.Anything, mock.Anything).Return(&saga.CheckoutResult{
		OrderID:  uuid.New(),
		Status:   models.StatusPendingFulfillment,
		Replayed: true,
	}, nil)

	rec := httptest.NewRecorder()
	h.Checkout(rec, checkoutRequest(t, "idem-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckout_MissingIdempotencyKey(t *testing.T) {
	svc := new(MockCheckoutService)
	h := payment.NewCheckoutHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Checkout(rec, checkoutRequest(t, ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestCheckout_CardDeclinedMapsTo402(t *testing.T) {
	svc := new(MockCheckoutService)
	h := payment.NewCheckoutHandler(svc, zap.NewNop())

	svc.On("Execute", mock.Anything, mock.Anything).Return(nil, &models.CardError{
		Kind:        models.ErrorKindCardDeclined,
		UserMessage: "Your card was declined. Please use a different payment method.",
	})

	rec := httptest.NewRecorder()
	h.Checkout(rec, checkoutRequest(t, "idem-1"))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "different payment method")
}

func TestCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"in_flight_conflict", models.ErrIdempotencyConflict, http.StatusConflict},
		{"already_failed", saga.ErrCheckoutAlreadyFailed, http.StatusConflict},
		{"circuit_open", resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"transient", &models.ProviderTransientError{Kind: models.ErrorKindProcessingError}, http.StatusServiceUnavailable},
		{"compensation_failed", &models.CompensationFailedError{OrderID: "o", Step: "s"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockCheckoutService)
			h := payment.NewCheckoutHandler(svc, zap.NewNop())
			svc.On("Execute", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := httptest.NewRecorder()
			h.Checkout(rec, checkoutRequest(t, "idem-1"))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestCheckout_RejectsNonPositiveAmount(t *testing.T) {
	svc := new(MockCheckoutService)
	h := payment.NewCheckoutHandler(svc, zap.NewNop())

	body, _ := json.Marshal(payment.CheckoutRequest{
		CustomerID:       "cust_1",
		PaymentMethodRef: "pm_abc",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/checkout", bytes.NewReader(body))
	req.Header.Set("Idempotency-Key", "idem-1")

	rec := httptest.NewRecorder()
	h.Checkout(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
