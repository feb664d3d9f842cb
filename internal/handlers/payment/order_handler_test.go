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
	"github.com/urbanserve/booking-payments/internal/services/order"
	"github.com/urbanserve/booking-payments/pkg/resilience"
)

// MockOrderLifecycle mocks the order lifecycle service
type MockOrderLifecycle struct {
	mock.Mock
}

func (m *MockOrderLifecycle) ConfirmFulfillment(ctx context.Context, orderID uuid.UUID, finalAmountCents int64) (*models.Order, error) {
	args := m.Called(ctx, orderID, finalAmountCents)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderLifecycle) ApproveCharge(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderLifecycle) ResolvePaymentFailure(ctx context.Context, orderID uuid.UUID, newPaymentMethodRef string) (*models.Order, error) {
	args := m.Called(ctx, orderID, newPaymentMethodRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func confirmRequest(t *testing.T, orderID string, finalCents int64) *http.Request {
	t.Helper()
	body, err := json.Marshal(payment.ConfirmFulfillmentRequest{FinalAmountCents: finalCents})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID+"/confirm-fulfillment", bytes.NewReader(body))
	req.SetPathValue("id", orderID)
	return req
}

func TestConfirmFulfillment_Completed(t *testing.T) {
	svc := new(MockOrderLifecycle)
	h := payment.NewOrderHandler(svc, zap.NewNop())
	orderID := uuid.New()

	svc.On("ConfirmFulfillment", mock.Anything, orderID, int64(11500)).Return(&models.Order{
		ID:                    orderID,
		Status:                models.StatusCompleted,
		AuthorizedAmountCents: 10000,
		FinalAmountCents:      11500,
	}, nil)

	rec := httptest.NewRecorder()
	h.ConfirmFulfillment(rec, confirmRequest(t, orderID.String(), 11500))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp payment.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, int64(11500), resp.FinalAmountCents)
}

func TestConfirmFulfillment_CardDeclineReturnsOrderWith402(t *testing.T) {
	svc := new(MockOrderLifecycle)
	h := payment.NewOrderHandler(svc, zap.NewNop())
	orderID := uuid.New()

	svc.On("ConfirmFulfillment", mock.Anything, orderID, int64(11500)).Return(&models.Order{
		ID:               orderID,
		Status:           models.StatusPaymentFailed,
		PaymentErrorCode: "card_declined",
	}, &models.CardError{
		Kind:        models.ErrorKindCardDeclined,
		UserMessage: "Your card was declined. Please use a different payment method.",
	})

	rec := httptest.NewRecorder()
	h.ConfirmFulfillment(rec, confirmRequest(t, orderID.String(), 11500))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var resp payment.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "payment_failed", resp.Status)
	assert.Equal(t, "card_declined", resp.PaymentErrorCode)
	assert.Contains(t, resp.PaymentErrorMessage, "different payment method")
}

func TestConfirmFulfillment_TransientFailureReturns202WithOrder(t *testing.T) {
	svc := new(MockOrderLifecycle)
	h := payment.NewOrderHandler(svc, zap.NewNop())
	orderID := uuid.New()

	svc.On("ConfirmFulfillment", mock.Anything, orderID, int64(11500)).Return(&models.Order{
		ID:     orderID,
		Status: models.StatusPaymentFailed,
	}, &models.ProviderTransientError{Kind: models.ErrorKindProcessingError})

	rec := httptest.NewRecorder()
	h.ConfirmFulfillment(rec, confirmRequest(t, orderID.String(), 11500))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestConfirmFulfillment_RejectsBadInput(t *testing.T) {
	svc := new(MockOrderLifecycle)
	h := payment.NewOrderHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ConfirmFulfillment(rec, confirmRequest(t, "not-a-uuid", 11500))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ConfirmFulfillment(rec, confirmRequest(t, uuid.NewString(), 0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.AssertNotCalled(t, "ConfirmFulfillment", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmFulfillment_ErrorMapping(t *testing.T) {
	orderID := uuid.New()
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not_found", models.ErrOrderNotFound, http.StatusNotFound},
		{"version_conflict", models.ErrVersionConflict, http.StatusConflict},
		{"invalid_transition", &models.InvalidTransitionError{From: models.StatusCompleted, To: models.StatusCompleted}, http.StatusConflict},
		{"transient_no_order", &models.ProviderTransientError{Kind: models.ErrorKindProcessingError}, http.StatusServiceUnavailable},
		{"circuit_open", resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockOrderLifecycle)
			h := payment.NewOrderHandler(svc, zap.NewNop())
			svc.On("ConfirmFulfillment", mock.Anything, orderID, int64(11500)).Return(nil, tt.err)

			rec := httptest.NewRecorder()
			h.ConfirmFulfillment(rec, confirmRequest(t, orderID.String(), 11500))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestApproveCharge_Completed(t *testing.T) {
	svc := new(MockOrderLifecycle)
	h := payment.NewOrderHandler(svc, zap.NewNop())
	orderID := uuid.New()

	svc.On("ApproveCharge", mock.Anything, orderID).Return(&models.Order{
		ID:               orderID,
		Status:           models.StatusCompleted,
		FinalAmountCents: 14000,
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/approve-charge", nil)
	req.SetPathValue("id", orderID.String())

	rec := httptest.NewRecorder()
	h.ApproveCharge(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
}

func TestResolvePaymentFailure_SwapsPaymentMethod(t *testing.T) {
	svc := new(MockOrderLifecycle)
	h := payment.NewOrderHandler(svc, zap.NewNop())
	orderID := uuid.New()

	svc.On("ResolvePaymentFailure", mock.Anything, orderID, "pm_new").Return(&models.Order{
		ID:     orderID,
		Status: models.StatusCompleted,
	}, nil)

	body, err := json.Marshal(payment.ResolvePaymentFailureRequest{PaymentMethodRef: "pm_new"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/resolve-payment-failure", bytes.NewReader(body))
	req.SetPathValue("id", orderID.String())

	rec := httptest.NewRecorder()
	h.ResolvePaymentFailure(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolvePaymentFailure_ExpiredGraceReturns409(t *testing.T) {
	svc := new(MockOrderLifecycle)
	h := payment.NewOrderHandler(svc, zap.NewNop())
	orderID := uuid.New()

	svc.On("ResolvePaymentFailure", mock.Anything, orderID, "").Return(nil, order.ErrGracePeriodExpired)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/resolve-payment-failure", nil)
	req.SetPathValue("id", orderID.String())

	rec := httptest.NewRecorder()
	h.ResolvePaymentFailure(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "recovery window")
}
