package ports

import (
	"context"

	"github.com/urbanserve/booking-payments/internal/domain/models"
)

// WebhookEventRepository is the idempotency ledger for provider events.
type WebhookEventRepository interface {
	// Insert records the provider event id. It must be called inside the
	// same transaction as the state mutation the event causes; the unique
	// constraint on the event id returns models.ErrDuplicateWebhookEvent
	// for an id that was already recorded, even under concurrent
	// duplicate delivery.
	Insert(ctx context.Context, tx DBTX, record *models.WebhookEventRecord) error
}
