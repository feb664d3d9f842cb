package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/domain/ports"
)

// Step names are stable identifiers: they key the persisted step records and
// must not change once executions exist.
const (
	stepCreateOrder      = "create_order"
	stepAuthorizePayment = "authorize_payment"
	stepFinalizeOrder    = "finalize_order"
)

// ErrCheckoutAlreadyFailed is returned when an idempotency token is replayed
// for an execution that already finished unsuccessfully. The caller must use
// a fresh token to try again.
var ErrCheckoutAlreadyFailed = errors.New("checkout already failed for this idempotency key")

// staleExecutionCutoff bounds how long a started execution may block its
// idempotency token. A saga is a few database writes and one provider call;
// an execution still started past this age belongs to a process that died
// mid-saga and will never finish.
const staleExecutionCutoff = time.Hour

// CheckoutRequest carries the inputs for a booking checkout.
type CheckoutRequest struct {
	CustomerID           string
	EstimatedAmountCents int64
	PaymentMethodRef     string
	ServiceDetails       map[string]string
	IdempotencyKey       string
}

// CheckoutResult is what a successful (or replayed successful) checkout yields.
type CheckoutResult struct {
	OrderID         uuid.UUID
	Status          models.OrderStatus
	AuthorizationID string
	Replayed        bool
}

// PaymentAuthorizationSaga runs the booking checkout as a three-step saga:
// create the draft order, place the authorization hold, then finalize the
// order into pending_fulfillment with the authorization handle attached.
// Executions are keyed by the caller's idempotency token, so a retried call
// with the same token replays the stored outcome without touching the
// provider again.
type PaymentAuthorizationSaga struct {
	db      ports.DBPort
	orders  ports.OrderRepository
	sagas   ports.SagaRepository
	gateway ports.PaymentGateway
	runner  *Runner
	logger  *zap.Logger
}

// NewPaymentAuthorizationSaga creates the checkout saga
func NewPaymentAuthorizationSaga(
	db ports.DBPort,
	orders ports.OrderRepository,
	sagas ports.SagaRepository,
	gateway ports.PaymentGateway,
	logger *zap.Logger,
) *PaymentAuthorizationSaga {
	return &PaymentAuthorizationSaga{
		db:      db,
		orders:  orders,
		sagas:   sagas,
		gateway: gateway,
		runner:  NewRunner(db, sagas, logger),
		logger:  logger,
	}
}

// Execute runs the checkout, or replays a previous outcome for a reused
// idempotency token.
func (s *PaymentAuthorizationSaga) Execute(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	if req.IdempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}
	if req.EstimatedAmountCents <= 0 {
		return nil, errors.New("estimated amount must be positive")
	}

	existing, err := s.sagas.GetByIdempotencyKey(ctx, s.db.GetDB(), req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(ctx, existing)
	}

	exec := &models.SagaExecution{
		ID:             uuid.New(),
		OrderID:        uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		Status:         models.SagaStatusStarted,
	}
	if err := s.sagas.Create(ctx, s.db.GetDB(), exec); err != nil {
		// A concurrent call with the same token won the insert race.
		if errors.Is(err, models.ErrIdempotencyConflict) {
			return nil, models.ErrIdempotencyConflict
		}
		return nil, err
	}

	var authorizationID string

	steps := []Step{
		{
			Name: stepCreateOrder,
			Run: func(ctx context.Context) (string, error) {
				order := &models.Order{
					ID:                   exec.OrderID,
					CustomerID:           req.CustomerID,
					Status:               models.StatusDraft,
					Version:              1,
					EstimatedAmountCents: req.EstimatedAmountCents,
					PaymentMethodRef:     req.PaymentMethodRef,
					ServiceDetails:       req.ServiceDetails,
				}
				if err := s.orders.Create(ctx, s.db.GetDB(), order); err != nil {
					return "", fmt.Errorf("create draft order: %w", err)
				}
				return order.ID.String(), nil
			},
			Compensate: func(ctx context.Context, resultRef string) error {
				return s.cancelDraft(ctx, exec.OrderID)
			},
		},
		{
			Name: stepAuthorizePayment,
			Run: func(ctx context.Context) (string, error) {
				resp, err := s.gateway.Authorize(ctx, &ports.AuthorizeRequest{
					AmountCents:      req.EstimatedAmountCents,
					PaymentMethodRef: req.PaymentMethodRef,
					IdempotencyKey:   req.IdempotencyKey,
				})
				if err != nil {
					return "", err
				}
				authorizationID = resp.AuthorizationID
				return resp.AuthorizationID, nil
			},
			Compensate: func(ctx context.Context, resultRef string) error {
				return s.gateway.Void(ctx, resultRef)
			},
		},
		{
			Name: stepFinalizeOrder,
			Run: func(ctx context.Context) (string, error) {
				if err := s.finalizeOrder(ctx, exec.OrderID, req.EstimatedAmountCents, authorizationID); err != nil {
					return "", err
				}
				return exec.OrderID.String(), nil
			},
		},
	}

	if err := s.runner.Execute(ctx, exec, steps); err != nil {
		return nil, err
	}

	s.logger.Info("Checkout succeeded",
		zap.String("order_id", exec.OrderID.String()),
		zap.String("saga_id", exec.ID.String()),
		zap.Int64("authorized_amount_cents", req.EstimatedAmountCents),
	)

	return &CheckoutResult{
		OrderID:         exec.OrderID,
		Status:          models.StatusPendingFulfillment,
		AuthorizationID: authorizationID,
	}, nil
}

// replay resolves a reused idempotency token from the stored execution
// without re-running any step.
func (s *PaymentAuthorizationSaga) replay(ctx context.Context, exec *models.SagaExecution) (*CheckoutResult, error) {
	switch exec.Status {
	case models.SagaStatusSucceeded:
		order, err := s.orders.GetByID(ctx, s.db.GetDB(), exec.OrderID)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{
			OrderID:         order.ID,
			Status:          order.Status,
			AuthorizationID: order.ProviderAuthorizationID,
			Replayed:        true,
		}, nil
	case models.SagaStatusStarted:
		if time.Since(exec.UpdatedAt) > staleExecutionCutoff {
			return nil, s.abandonStale(ctx, exec)
		}
		return nil, models.ErrIdempotencyConflict
	default:
		return nil, ErrCheckoutAlreadyFailed
	}
}

// abandonStale parks an execution abandoned mid-saga by a dead process. The
// step records say how far it got; an authorization hold recorded without a
// finalized order is money held at the provider, so the execution escalates
// to needs_attention for manual review instead of silently failing.
func (s *PaymentAuthorizationSaga) abandonStale(ctx context.Context, exec *models.SagaExecution) error {
	authRef, _ := exec.StepResult(stepAuthorizePayment)
	s.logger.Error("Abandoning stale saga execution, manual review required",
		zap.String("saga_id", exec.ID.String()),
		zap.String("order_id", exec.OrderID.String()),
		zap.String("idempotency_key", exec.IdempotencyKey),
		zap.String("authorization_id", authRef),
		zap.Time("started_at", exec.CreatedAt),
	)
	if err := s.sagas.UpdateStatus(ctx, s.db.GetDB(), exec.ID, models.SagaStatusNeedsAttention); err != nil {
		return err
	}
	return ErrCheckoutAlreadyFailed
}

// finalizeOrder moves the draft to pending_fulfillment with the authorization
// attached, under the optimistic version check.
func (s *PaymentAuthorizationSaga) finalizeOrder(ctx context.Context, orderID uuid.UUID, amountCents int64, authorizationID string) error {
	order, err := s.orders.GetByID(ctx, s.db.GetDB(), orderID)
	if err != nil {
		return err
	}
	if err := models.ValidateTransition(order.Status, models.StatusPendingFulfillment); err != nil {
		return err
	}
	order.Status = models.StatusPendingFulfillment
	order.AuthorizedAmountCents = amountCents
	order.ProviderAuthorizationID = authorizationID
	return s.orders.Update(ctx, s.db.GetDB(), order, order.Version)
}

// cancelDraft undoes the create step. The order keeps its row; cancellation
// is a status change so the audit trail survives.
func (s *PaymentAuthorizationSaga) cancelDraft(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.GetByID(ctx, s.db.GetDB(), orderID)
	if err != nil {
		return err
	}
	if err := models.ValidateTransition(order.Status, models.StatusCancelled); err != nil {
		return err
	}
	order.Status = models.StatusCancelled
	return s.orders.Update(ctx, s.db.GetDB(), order, order.Version)
}
