package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/urbanserve/booking-payments/internal/domain/models"
)

// OrderRepository persists orders. All mutating writes go through Update,
// which performs the compare-and-increment version check; there is no
// unconditional write path.
type OrderRepository interface {
	Create(ctx context.Context, tx DBTX, order *models.Order) error

	// GetByID returns the order including its current version, or
	// models.ErrOrderNotFound.
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Order, error)

	// Update writes the order's mutable fields conditionally on
	// expectedVersion, incrementing the stored version atomically. Returns
	// models.ErrVersionConflict if the version moved since the read.
	Update(ctx context.Context, tx DBTX, order *models.Order, expectedVersion int64) error

	// ListPaymentFailedBefore returns payment_failed orders whose grace
	// deadline elapsed before the cutoff, oldest first.
	ListPaymentFailedBefore(ctx context.Context, db DBTX, cutoff time.Time, limit int32) ([]*models.Order, error)

	// ListPendingCaptureRetries returns payment_failed orders still inside
	// their grace window that are due another charge attempt.
	ListPendingCaptureRetries(ctx context.Context, db DBTX, now time.Time, limit int32) ([]*models.Order, error)
}
