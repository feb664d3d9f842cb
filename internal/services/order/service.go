package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/domain/ports"
	"github.com/urbanserve/booking-payments/pkg/resilience"
)

// ErrGracePeriodExpired is returned when a payment-failure recovery arrives
// after the grace deadline. The sweep owns the order from that point on.
var ErrGracePeriodExpired = errors.New("payment failure grace period has expired")

// ServiceConfig tunes the lifecycle service. Zero values fall back to the
// defaults below.
type ServiceConfig struct {
	// VarianceThreshold is the maximum relative difference between the final
	// and authorized amounts that still auto-charges. Default 0.20.
	VarianceThreshold decimal.Decimal

	// GracePeriod is how long a customer has to fix a failed payment before
	// the order is cancelled. Default 48h.
	GracePeriod time.Duration

	// MaxVersionRetries bounds re-read attempts after an optimistic-lock
	// conflict. Default 3.
	MaxVersionRetries int

	// BatchSize caps how many orders one sweep or retry pass touches.
	// Default 100.
	BatchSize int32

	// CaptureBackoff gates how soon a failed charge may be retried.
	// Default resilience.CaptureRetryBackoff().
	CaptureBackoff resilience.BackoffStrategy

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.VarianceThreshold.IsZero() {
		c.VarianceThreshold = decimal.NewFromFloat(0.20)
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 48 * time.Hour
	}
	if c.MaxVersionRetries == 0 {
		c.MaxVersionRetries = 3
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.CaptureBackoff == nil {
		c.CaptureBackoff = resilience.CaptureRetryBackoff()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Service drives the order lifecycle after authorization: fulfillment
// confirmation with the variance-gated auto-charge, explicit charge approval,
// payment-failure recovery, and the periodic sweep and capture-retry batches.
// Every write is a read-version, validate-transition, conditional
// compare-and-increment write; version conflicts trigger a bounded re-read
// retry here, never a blind overwrite.
type Service struct {
	db       ports.DBPort
	orders   ports.OrderRepository
	gateway  ports.PaymentGateway
	notifier ports.Notifier
	backoff  resilience.BackoffStrategy
	logger   *zap.Logger
	cfg      ServiceConfig

	now func() time.Time
}

// NewService creates the order lifecycle service
func NewService(
	db ports.DBPort,
	orders ports.OrderRepository,
	gateway ports.PaymentGateway,
	notifier ports.Notifier,
	cfg ServiceConfig,
	logger *zap.Logger,
) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		db:       db,
		orders:   orders,
		gateway:  gateway,
		notifier: notifier,
		backoff:  cfg.CaptureBackoff,
		logger:   logger,
		cfg:      cfg,
		now:      cfg.Clock,
	}
}

// ConfirmFulfillment records the final amount for a fulfilled order. When the
// final amount is within the variance threshold of the authorization, the
// charge happens immediately; otherwise the order parks in
// awaiting_confirmation until the customer approves the new amount.
func (s *Service) ConfirmFulfillment(ctx context.Context, orderID uuid.UUID, finalAmountCents int64) (*models.Order, error) {
	if finalAmountCents <= 0 {
		return nil, errors.New("final amount must be positive")
	}

	order, err := s.orders.GetByID(ctx, s.db.GetDB(), orderID)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateTransition(order.Status, models.StatusCompleted); err != nil {
		return nil, err
	}
	if order.AuthorizedAmountCents <= 0 {
		return nil, fmt.Errorf("order %s has no authorization to charge against", orderID)
	}

	variance := relativeVariance(order.AuthorizedAmountCents, finalAmountCents)
	if variance.GreaterThan(s.cfg.VarianceThreshold) {
		s.logger.Info("Final amount outside variance threshold, awaiting customer confirmation",
			zap.String("order_id", orderID.String()),
			zap.Int64("authorized_amount_cents", order.AuthorizedAmountCents),
			zap.Int64("final_amount_cents", finalAmountCents),
			zap.String("variance", variance.String()),
		)
		return s.updateWithRetry(ctx, orderID, func(o *models.Order) error {
			if err := models.ValidateTransition(o.Status, models.StatusAwaitingConfirmation); err != nil {
				return err
			}
			o.Status = models.StatusAwaitingConfirmation
			o.FinalAmountCents = finalAmountCents
			return nil
		})
	}

	return s.charge(ctx, order, finalAmountCents)
}

// ApproveCharge is the customer's explicit approval of an out-of-variance
// final amount. It charges the amount recorded at confirmation time.
func (s *Service) ApproveCharge(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, s.db.GetDB(), orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusAwaitingConfirmation {
		return nil, &models.InvalidTransitionError{From: order.Status, To: models.StatusCompleted}
	}
	if order.FinalAmountCents <= 0 {
		return nil, fmt.Errorf("order %s has no confirmed final amount", orderID)
	}
	return s.charge(ctx, order, order.FinalAmountCents)
}

// ResolvePaymentFailure recovers a failed payment inside the grace window,
// optionally swapping the payment method, and returns the order to
// pending_fulfillment for another charge attempt.
func (s *Service) ResolvePaymentFailure(ctx context.Context, orderID uuid.UUID, newPaymentMethodRef string) (*models.Order, error) {
	return s.updateWithRetry(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.StatusPaymentFailed {
			return &models.InvalidTransitionError{From: o.Status, To: models.StatusPendingFulfillment}
		}
		// The sweep is authoritative, but an expired deadline is also
		// rejected here so a recovery racing the sweep cannot resurrect
		// the order.
		if o.PaymentFailureGraceDeadline != nil && s.now().After(*o.PaymentFailureGraceDeadline) {
			return ErrGracePeriodExpired
		}
		if newPaymentMethodRef != "" {
			o.PaymentMethodRef = newPaymentMethodRef
		}
		o.Status = models.StatusPendingFulfillment
		o.PaymentErrorCode = ""
		o.PaymentFailureGraceDeadline = nil
		return nil
	})
}

// SweepExpiredGracePeriods cancels payment_failed orders whose grace deadline
// has elapsed. Version conflicts are skipped: whoever won the write already
// moved the order, and the next sweep re-evaluates whatever state remains.
func (s *Service) SweepExpiredGracePeriods(ctx context.Context) (int, error) {
	expired, err := s.orders.ListPaymentFailedBefore(ctx, s.db.GetDB(), s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, order := range expired {
		if err := models.ValidateTransition(order.Status, models.StatusCancelled); err != nil {
			continue
		}
		order.Status = models.StatusCancelled
		err := s.orders.Update(ctx, s.db.GetDB(), order, order.Version)
		if errors.Is(err, models.ErrVersionConflict) {
			s.logger.Info("Skipping sweep of concurrently modified order",
				zap.String("order_id", order.ID.String()))
			continue
		}
		if err != nil {
			return cancelled, err
		}
		cancelled++
		s.logger.Info("Cancelled order after grace period expiry",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_error_code", order.PaymentErrorCode),
		)
	}
	return cancelled, nil
}

// RetryPendingCaptures re-attempts charges for payment_failed orders still
// inside their grace window, gated by an attempt-count backoff schedule so
// each pass does not hammer a card that just declined.
func (s *Service) RetryPendingCaptures(ctx context.Context) (int, error) {
	pending, err := s.orders.ListPendingCaptureRetries(ctx, s.db.GetDB(), s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, order := range pending {
		if !s.captureDue(order) {
			continue
		}
		amount := order.FinalAmountCents
		if amount <= 0 {
			amount = order.AuthorizedAmountCents
		}
		_, err := s.charge(ctx, order, amount)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			// The breaker is shared, so the rest of the batch would be
			// rejected the same way. Nothing was attempted; stop here and
			// let the next pass run against a closed circuit.
			s.logger.Warn("Stopping capture retries while the circuit is open",
				zap.Int("attempted", attempted))
			break
		}
		attempted++
		if err != nil {
			s.logger.Warn("Capture retry failed",
				zap.String("order_id", order.ID.String()),
				zap.Int32("capture_attempt_count", order.CaptureAttemptCount),
				zap.Error(err),
			)
		}
	}
	return attempted, nil
}

// captureDue applies the backoff schedule: attempt n may run only after the
// delay for attempt n has passed since the last write.
func (s *Service) captureDue(order *models.Order) bool {
	if order.CaptureAttemptCount == 0 {
		return true
	}
	delay := s.backoff.NextDelay(int(order.CaptureAttemptCount) - 1)
	return s.now().After(order.UpdatedAt.Add(delay))
}

// charge captures the amount and records the outcome. A successful capture
// completes the order; a failed one moves it to payment_failed with the
// grace deadline set. The typed charge error is returned alongside the
// updated order so callers can surface the card message.
func (s *Service) charge(ctx context.Context, order *models.Order, amountCents int64) (*models.Order, error) {
	resp, chargeErr := s.gateway.Capture(ctx, order.ProviderAuthorizationID, amountCents)
	if chargeErr != nil {
		// An open breaker rejected the call before it reached the provider.
		// The card was never tried, so nothing is recorded against the
		// order; the charge runs again once the circuit closes.
		if errors.Is(chargeErr, resilience.ErrCircuitOpen) {
			return nil, chargeErr
		}
		updated, err := s.markChargeFailed(ctx, order.ID, amountCents, chargeErr)
		if err != nil {
			return nil, err
		}
		return updated, chargeErr
	}

	updated, err := s.updateWithRetry(ctx, order.ID, func(o *models.Order) error {
		// A successful capture retry recovers and completes in one write;
		// the pending_fulfillment hop of the recovery cycle is implicit,
		// so both hops are validated.
		if o.Status == models.StatusPaymentFailed {
			if err := models.ValidateTransition(o.Status, models.StatusPendingFulfillment); err != nil {
				return err
			}
		} else if err := models.ValidateTransition(o.Status, models.StatusCompleted); err != nil {
			return err
		}
		o.Status = models.StatusCompleted
		o.FinalAmountCents = amountCents
		o.PaymentErrorCode = ""
		o.PaymentFailureGraceDeadline = nil
		return nil
	})
	if err != nil {
		// The charge landed but the write did not. Surface the error; the
		// charge id in the log is the thread to pull during reconciliation.
		s.logger.Error("Charge succeeded but order update failed",
			zap.String("order_id", order.ID.String()),
			zap.String("charge_id", resp.ChargeID),
			zap.Error(err),
		)
		return nil, err
	}

	s.notifier.NotifyChargeSucceeded(ctx, updated.ID, amountCents)
	s.logger.Info("Order charged and completed",
		zap.String("order_id", updated.ID.String()),
		zap.String("charge_id", resp.ChargeID),
		zap.Int64("amount_cents", amountCents),
	)
	return updated, nil
}

func (s *Service) markChargeFailed(ctx context.Context, orderID uuid.UUID, amountCents int64, chargeErr error) (*models.Order, error) {
	updated, err := s.updateWithRetry(ctx, orderID, func(o *models.Order) error {
		// A repeated failure stays in payment_failed; only the bookkeeping
		// fields move.
		if o.Status != models.StatusPaymentFailed {
			if err := models.ValidateTransition(o.Status, models.StatusPaymentFailed); err != nil {
				return err
			}
		}
		o.Status = models.StatusPaymentFailed
		o.FinalAmountCents = amountCents
		o.CaptureAttemptCount++
		o.PaymentErrorCode = chargeErrorCode(chargeErr)
		if o.PaymentFailureGraceDeadline == nil {
			deadline := s.now().Add(s.cfg.GracePeriod)
			o.PaymentFailureGraceDeadline = &deadline
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyPaymentFailed(ctx, updated.ID, *updated.PaymentFailureGraceDeadline)
	return updated, nil
}

// updateWithRetry runs the read-validate-write cycle, re-reading on version
// conflicts up to the configured bound. mutate sees the freshly read order
// and returns an error to abort without writing.
func (s *Service) updateWithRetry(ctx context.Context, orderID uuid.UUID, mutate func(o *models.Order) error) (*models.Order, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxVersionRetries; attempt++ {
		order, err := s.orders.GetByID(ctx, s.db.GetDB(), orderID)
		if err != nil {
			return nil, err
		}
		if err := mutate(order); err != nil {
			return nil, err
		}

		err = s.orders.Update(ctx, s.db.GetDB(), order, order.Version)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// relativeVariance computes |final - authorized| / authorized exactly.
func relativeVariance(authorizedCents, finalCents int64) decimal.Decimal {
	authorized := decimal.NewFromInt(authorizedCents)
	final := decimal.NewFromInt(finalCents)
	return final.Sub(authorized).Abs().Div(authorized)
}

func chargeErrorCode(err error) string {
	var cardErr *models.CardError
	if errors.As(err, &cardErr) {
		if cardErr.Code != "" {
			return cardErr.Code
		}
		return string(cardErr.Kind)
	}
	var transientErr *models.ProviderTransientError
	if errors.As(err, &transientErr) {
		if transientErr.Code != "" {
			return transientErr.Code
		}
		return string(transientErr.Kind)
	}
	return string(models.ErrorKindUnknown)
}
