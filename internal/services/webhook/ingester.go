package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/domain/ports"
)

// ErrUnknownEventType is returned for event types the ingester has no
// mapping for. The transport should acknowledge these so the provider stops
// redelivering something we will never handle.
var ErrUnknownEventType = errors.New("unknown webhook event type")

// IngesterConfig tunes the ingester. Zero values use the defaults.
type IngesterConfig struct {
	// GracePeriod applied when an event pushes an order into payment_failed.
	// Default 48h.
	GracePeriod time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Ingester applies provider-pushed events to orders exactly once. The event
// id is recorded and the order mutated in one transaction, so a duplicate
// delivery finds the id already present and applies nothing, and a failed
// mutation rolls the id record back so the provider redelivers.
type Ingester struct {
	db       ports.DBPort
	orders   ports.OrderRepository
	events   ports.WebhookEventRepository
	notifier ports.Notifier
	logger   *zap.Logger

	gracePeriod time.Duration
	now         func() time.Time
}

// NewIngester creates the webhook ingester
func NewIngester(
	db ports.DBPort,
	orders ports.OrderRepository,
	events ports.WebhookEventRepository,
	notifier ports.Notifier,
	cfg IngesterConfig,
	logger *zap.Logger,
) *Ingester {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 48 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Ingester{
		db:          db,
		orders:      orders,
		events:      events,
		notifier:    notifier,
		logger:      logger,
		gracePeriod: cfg.GracePeriod,
		now:         cfg.Clock,
	}
}

// targetStatus maps an event type to the status it drives the order toward.
func targetStatus(t models.WebhookEventType) (models.OrderStatus, error) {
	switch t {
	case models.EventAuthorizationFailed, models.EventAuthenticationRequired:
		return models.StatusPaymentFailed, nil
	case models.EventDisputeOpened:
		return models.StatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}
}

// Apply processes one verified event. Returns nil for duplicates and for
// events whose transition is no longer legal (the order moved on; replaying
// the delivery cannot help). A version conflict is returned as an error so
// the transport answers non-2xx and the provider redelivers against the
// fresh order state.
func (i *Ingester) Apply(ctx context.Context, event *models.WebhookEvent) error {
	target, err := targetStatus(event.Type)
	if err != nil {
		return err
	}

	// Set only when the event actually pushed the order into payment_failed;
	// the notification fires after the transaction commits so a rollback can
	// never leave a customer told about a failure that was not recorded.
	var failureDeadline *time.Time

	err = i.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := i.events.Insert(ctx, tx, &models.WebhookEventRecord{
			ProviderEventID: event.ProviderEventID,
			ProcessedAt:     i.now(),
		}); err != nil {
			return err
		}

		order, err := i.orders.GetByID(ctx, tx, event.OrderID)
		if err != nil {
			return err
		}

		if err := models.ValidateTransition(order.Status, target); err != nil {
			// The order already moved past this event. Keep the event
			// record so the delivery is settled, and apply nothing.
			i.logger.Info("Webhook event no longer applicable, recording and skipping",
				zap.String("provider_event_id", event.ProviderEventID),
				zap.String("event_type", string(event.Type)),
				zap.String("order_id", event.OrderID.String()),
				zap.String("order_status", string(order.Status)),
			)
			return nil
		}

		order.Status = target
		if target == models.StatusPaymentFailed {
			order.PaymentErrorCode = event.ErrorCode
			if order.PaymentFailureGraceDeadline == nil {
				deadline := i.now().Add(i.gracePeriod)
				order.PaymentFailureGraceDeadline = &deadline
			}
			failureDeadline = order.PaymentFailureGraceDeadline
		}
		return i.orders.Update(ctx, tx, order, order.Version)
	})

	if errors.Is(err, models.ErrDuplicateWebhookEvent) {
		i.logger.Info("Ignoring duplicate webhook delivery",
			zap.String("provider_event_id", event.ProviderEventID))
		return nil
	}
	if err != nil {
		return err
	}

	if failureDeadline != nil {
		i.notifier.NotifyPaymentFailed(ctx, event.OrderID, *failureDeadline)
	}

	i.logger.Info("Applied webhook event",
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", string(event.Type)),
		zap.String("order_id", event.OrderID.String()),
	)
	return nil
}
