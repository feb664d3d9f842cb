package saga_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/domain/ports"
	"github.com/urbanserve/booking-payments/internal/services/saga"
)

// MockDBPort mocks the database port
type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	// Execute the function with a nil transaction for testing
	return fn(ctx, nil)
}

// MockOrderRepository mocks the order repository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, tx ports.DBTX, order *models.Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// Lazy return lets a test hand back an order captured after setup time.
	if fn, ok := args.Get(0).(func() *models.Order); ok {
		return fn(), args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderRepository) Update(ctx context.Context, tx ports.DBTX, order *models.Order, expectedVersion int64) error {
	args := m.Called(ctx, tx, order, expectedVersion)
	return args.Error(0)
}

func (m *MockOrderRepository) ListPaymentFailedBefore(ctx context.Context, db ports.DBTX, cutoff time.Time, limit int32) ([]*models.Order, error) {
	args := m.Called(ctx, db, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

func (m *MockOrderRepository) ListPendingCaptureRetries(ctx context.Context, db ports.DBTX, now time.Time, limit int32) ([]*models.Order, error) {
	args := m.Called(ctx, db, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

// MockSagaRepository mocks the saga repository
type MockSagaRepository struct {
	mock.Mock
}

func (m *MockSagaRepository) Create(ctx context.Context, tx ports.DBTX, exec *models.SagaExecution) error {
	args := m.Called(ctx, tx, exec)
	return args.Error(0)
}

func (m *MockSagaRepository) GetByIdempotencyKey(ctx context.Context, db ports.DBTX, key string) (*models.SagaExecution, error) {
	args := m.Called(ctx, db, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SagaExecution), args.Error(1)
}

func (m *MockSagaRepository) RecordStep(ctx context.Context, db ports.DBTX, sagaID uuid.UUID, step models.SagaStepRecord) error {
	args := m.Called(ctx, db, sagaID, step)
	return args.Error(0)
}

func (m *MockSagaRepository) UpdateStatus(ctx context.Context, db ports.DBTX, sagaID uuid.UUID, status models.SagaStatus) error {
	args := m.Called(ctx, db, sagaID, status)
	return args.Error(0)
}

// MockPaymentGateway mocks the provider gateway
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Authorize(ctx context.Context, req *ports.AuthorizeRequest) (*ports.AuthorizeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.AuthorizeResponse), args.Error(1)
}

func (m *MockPaymentGateway) Capture(ctx context.Context, authorizationID string, amountCents int64) (*ports.CaptureResponse, error) {
	args := m.Called(ctx, authorizationID, amountCents)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.CaptureResponse), args.Error(1)
}

func (m *MockPaymentGateway) Void(ctx context.Context, authorizationID string) error {
	args := m.Called(ctx, authorizationID)
	return args.Error(0)
}

type checkoutFixture struct {
	db      *MockDBPort
	orders  *MockOrderRepository
	sagas   *MockSagaRepository
	gateway *MockPaymentGateway
	saga    *saga.PaymentAuthorizationSaga
}

func newCheckoutFixture() *checkoutFixture {
	f := &checkoutFixture{
		db:      new(MockDBPort),
		orders:  new(MockOrderRepository),
		sagas:   new(MockSagaRepository),
		gateway: new(MockPaymentGateway),
	}
	f.saga = saga.NewPaymentAuthorizationSaga(f.db, f.orders, f.sagas, f.gateway, zap.NewNop())
	return f
}

func checkoutRequest() *saga.CheckoutRequest {
	return &saga.CheckoutRequest{
		CustomerID:           "cust_1",
		EstimatedAmountCents: 10000,
		PaymentMethodRef:     "pm_abc",
		ServiceDetails:       map[string]string{"service": "deep_clean"},
		IdempotencyKey:       "idem-1",
	}
}

func TestCheckout_Success(t *testing.T) {
	f := newCheckoutFixture()
	req := checkoutRequest()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, "idem-1").Return(nil, nil)
	f.sagas.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sagas.On("RecordStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sagas.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, models.SagaStatusSucceeded).Return(nil)

	var created *models.Order
	f.orders.On("Create", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(2).(*models.Order)
	}).Return(nil)
	f.orders.On("GetByID", mock.Anything, mock.Anything, mock.Anything).Return(
		func() *models.Order { return created }, nil,
	)
	f.orders.On("Update", mock.Anything, mock.Anything, mock.Anything, int64(1)).Return(nil)

	f.gateway.On("Authorize", mock.Anything, mock.MatchedBy(func(r *ports.AuthorizeRequest) bool {
		return r.AmountCents == 10000 && r.IdempotencyKey == "idem-1"
	})).Return(&ports.AuthorizeResponse{AuthorizationID: "auth_123"}, nil)

	result, err := f.saga.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingFulfillment, result.Status)
	assert.Equal(t, "auth_123", result.AuthorizationID)
	assert.False(t, result.Replayed)

	assert.Equal(t, models.StatusPendingFulfillment, created.Status)
	assert.Equal(t, int64(10000), created.AuthorizedAmountCents)
	assert.Equal(t, "auth_123", created.ProviderAuthorizationID)
	f.gateway.AssertNotCalled(t, "Void", mock.Anything, mock.Anything)
}

// A declined authorization rolls back the draft order and marks the saga failed.
func TestCheckout_AuthorizeFailure_CancelsDraft(t *testing.T) {
	f := newCheckoutFixture()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.sagas.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sagas.On("RecordStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sagas.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, models.SagaStatusFailed).Return(nil)

	var created *models.Order
	f.orders.On("Create", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(2).(*models.Order)
	}).Return(nil)
	f.orders.On("GetByID", mock.Anything, mock.Anything, mock.Anything).Return(
		func() *models.Order { return created }, nil,
	)
	f.orders.On("Update", mock.Anything, mock.Anything, mock.Anything, int64(1)).Return(nil)

	declined := &models.CardError{Kind: models.ErrorKindCardDeclined, UserMessage: "declined"}
	f.gateway.On("Authorize", mock.Anything, mock.Anything).Return(nil, declined)

	_, err := f.saga.Execute(context.Background(), checkoutRequest())
	var cardErr *models.CardError
	require.ErrorAs(t, err, &cardErr)

	assert.Equal(t, models.StatusCancelled, created.Status)
	f.gateway.AssertNotCalled(t, "Void", mock.Anything, mock.Anything)
	f.sagas.AssertCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, models.SagaStatusFailed)
}

// A finalize failure releases the authorization hold, then cancels the draft.
func TestCheckout_FinalizeFailure_VoidsAuthorization(t *testing.T) {
	f := newCheckoutFixture()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.sagas.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sagas.On("RecordStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sagas.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, models.SagaStatusFailed).Return(nil)

	var created *models.Order
	f.orders.On("Create", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(2).(*models.Order)
	}).Return(nil)
	f.orders.On("GetByID", mock.Anything, mock.Anything, mock.Anything).Return(
		func() *models.Order { return created }, nil,
	)
	// First update (finalize) hits a version conflict, second (cancel) lands.
	f.orders.On("Update", mock.Anything, mock.Anything, mock.Anything, int64(1)).
		Return(models.ErrVersionConflict).Once()
	f.orders.On("Update", mock.Anything, mock.Anything, mock.Anything, int64(1)).
		Return(nil).Once()

	f.gateway.On("Authorize", mock.Anything, mock.Anything).
		Return(&ports.AuthorizeResponse{AuthorizationID: "auth_123"}, nil)
	f.gateway.On("Void", mock.Anything, "auth_123").Return(nil)

	_, err := f.saga.Execute(context.Background(), checkoutRequest())
	require.ErrorIs(t, err, models.ErrVersionConflict)

	f.gateway.AssertCalled(t, "Void", mock.Anything, "auth_123")
	assert.Equal(t, models.StatusCancelled, created.Status)
}

// A failed void leaves money held at the provider: the saga must escalate
// instead of pretending the rollback worked.
func TestCheckout_VoidFailure_EscalatesForManualReview(t *testing.T) {
	f := newCheckoutFixture()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.sagas.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sagas.On("RecordStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sagas.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, models.SagaStatusNeedsAttention).Return(nil)

	var created *models.Order
	f.orders.On("Create", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(2).(*models.Order)
	}).Return(nil)
	f.orders.On("GetByID", mock.Anything, mock.Anything, mock.Anything).Return(
		func() *models.Order { return created }, nil,
	)
	f.orders.On("Update", mock.Anything, mock.Anything, mock.Anything, int64(1)).
		Return(models.ErrVersionConflict).Once()

	f.gateway.On("Authorize", mock.Anything, mock.Anything).
		Return(&ports.AuthorizeResponse{AuthorizationID: "auth_123"}, nil)
	f.gateway.On("Void", mock.Anything, "auth_123").Return(errors.New("provider unavailable"))

	_, err := f.saga.Execute(context.Background(), checkoutRequest())

	var compErr *models.CompensationFailedError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, "authorize_payment", compErr.Step)
	assert.Equal(t, "auth_123", compErr.AuthorizationID)

	f.sagas.AssertCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, models.SagaStatusNeedsAttention)
	// The draft cancel compensator must not run once escalation happened.
	f.orders.AssertNumberOfCalls(t, "Update", 1)
}

func TestCheckout_ReplaysSucceededExecution(t *testing.T) {
	f := newCheckoutFixture()
	orderID := uuid.New()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, "idem-1").Return(&models.SagaExecution{
		ID:             uuid.New(),
		OrderID:        orderID,
		IdempotencyKey: "idem-1",
		Status:         models.SagaStatusSucceeded,
	}, nil)
	f.orders.On("GetByID", mock.Anything, mock.Anything, orderID).Return(&models.Order{
		ID:                      orderID,
		Status:                  models.StatusPendingFulfillment,
		ProviderAuthorizationID: "auth_123",
	}, nil)

	result, err := f.saga.Execute(context.Background(), checkoutRequest())
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, orderID, result.OrderID)
	assert.Equal(t, "auth_123", result.AuthorizationID)

	f.gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
	f.sagas.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckout_InFlightTokenConflicts(t *testing.T) {
	f := newCheckoutFixture()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(&models.SagaExecution{
		ID:        uuid.New(),
		Status:    models.SagaStatusStarted,
		UpdatedAt: time.Now(),
	}, nil)

	_, err := f.saga.Execute(context.Background(), checkoutRequest())
	assert.ErrorIs(t, err, models.ErrIdempotencyConflict)
}

// An execution stuck in started for over an hour belongs to a process that
// died mid-saga. It is escalated for review rather than blocking its
// idempotency token forever.
func TestCheckout_StaleStartedExecutionEscalated(t *testing.T) {
	f := newCheckoutFixture()
	execID := uuid.New()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(&models.SagaExecution{
		ID:        execID,
		OrderID:   uuid.New(),
		Status:    models.SagaStatusStarted,
		UpdatedAt: time.Now().Add(-2 * time.Hour),
		Steps: []models.SagaStepRecord{
			{Name: "create_order", Status: models.StepStatusSucceeded, ResultRef: "ord_1"},
			{Name: "authorize_payment", Status: models.StepStatusSucceeded, ResultRef: "auth_stale"},
		},
	}, nil)
	f.sagas.On("UpdateStatus", mock.Anything, mock.Anything, execID, models.SagaStatusNeedsAttention).Return(nil)

	_, err := f.saga.Execute(context.Background(), checkoutRequest())
	assert.ErrorIs(t, err, saga.ErrCheckoutAlreadyFailed)

	f.sagas.AssertCalled(t, "UpdateStatus", mock.Anything, mock.Anything, execID, models.SagaStatusNeedsAttention)
	f.gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
	f.sagas.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckout_FailedTokenIsNotRerun(t *testing.T) {
	f := newCheckoutFixture()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(&models.SagaExecution{
		ID:     uuid.New(),
		Status: models.SagaStatusFailed,
	}, nil)

	_, err := f.saga.Execute(context.Background(), checkoutRequest())
	assert.ErrorIs(t, err, saga.ErrCheckoutAlreadyFailed)
	f.gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
}

func TestCheckout_CreateRaceSurfacesConflict(t *testing.T) {
	f := newCheckoutFixture()

	f.sagas.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.sagas.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(models.ErrIdempotencyConflict)

	_, err := f.saga.Execute(context.Background(), checkoutRequest())
	assert.ErrorIs(t, err, models.ErrIdempotencyConflict)
}

func TestCheckout_RejectsMissingIdempotencyKey(t *testing.T) {
	f := newCheckoutFixture()
	req := checkoutRequest()
	req.IdempotencyKey = ""

	_, err := f.saga.Execute(context.Background(), req)
	assert.Error(t, err)
	f.sagas.AssertNotCalled(t, "GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything)
}
