package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notifier delivers customer-facing notifications. Calls are fire-and-forget:
// a notifier failure must never roll back a saga or webhook transaction, so
// implementations log and swallow their own errors.
type Notifier interface {
	NotifyPaymentFailed(ctx context.Context, orderID uuid.UUID, graceDeadline time.Time)
	NotifyChargeSucceeded(ctx context.Context, orderID uuid.UUID, amountCents int64)
}
