package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/urbanserve/booking-payments/internal/domain/models"
)

// SagaRepository persists saga executions and their per-step bookkeeping.
// Step records are written before the next step starts, so compensation
// always sees an accurate picture of which steps actually completed.
type SagaRepository interface {
	// Create inserts a new execution. The idempotency key carries a unique
	// constraint; a concurrent duplicate surfaces
	// models.ErrIdempotencyConflict.
	Create(ctx context.Context, tx DBTX, saga *models.SagaExecution) error

	// GetByIdempotencyKey returns the execution for the token, or nil when
	// no execution exists.
	GetByIdempotencyKey(ctx context.Context, db DBTX, key string) (*models.SagaExecution, error)

	// RecordStep upserts the step record for the execution.
	RecordStep(ctx context.Context, db DBTX, sagaID uuid.UUID, step models.SagaStepRecord) error

	// UpdateStatus moves the execution to its new overall status.
	UpdateStatus(ctx context.Context, db DBTX, sagaID uuid.UUID, status models.SagaStatus) error
}
