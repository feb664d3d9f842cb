package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/domain/ports"
)

// WebhookEventRepository implements ports.WebhookEventRepository. The unique
// index on provider_event_id does the deduplication; the insert is expected
// to run in the same transaction as the state change the event causes.
type WebhookEventRepository struct{}

// NewWebhookEventRepository creates a new PostgreSQL webhook event repository
func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{}
}

func (r *WebhookEventRepository) Insert(ctx context.Context, tx ports.DBTX, record *models.WebhookEventRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO webhook_events (provider_event_id) VALUES ($1)`,
		record.ProviderEventID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.ErrDuplicateWebhookEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}
