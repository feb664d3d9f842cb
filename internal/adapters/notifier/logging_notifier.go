package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoggingNotifier satisfies ports.Notifier by logging. It stands in until a
// real customer-messaging channel is wired; callers treat notification as
// fire-and-forget either way.
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier creates a logging notifier
func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

func (n *LoggingNotifier) NotifyPaymentFailed(ctx context.Context, orderID uuid.UUID, graceDeadline time.Time) {
	n.logger.Info("Customer notification: payment failed",
		zap.String("order_id", orderID.String()),
		zap.Time("grace_deadline", graceDeadline),
	)
}

func (n *LoggingNotifier) NotifyChargeSucceeded(ctx context.Context, orderID uuid.UUID, amountCents int64) {
	n.logger.Info("Customer notification: charge succeeded",
		zap.String("order_id", orderID.String()),
		zap.Int64("amount_cents", amountCents),
	)
}
