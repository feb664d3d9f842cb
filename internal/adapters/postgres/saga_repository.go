package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/domain/ports"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// SagaRepository implements ports.SagaRepository using raw pgx queries.
// Step records live in a child table keyed by (saga_id, step_name) so a
// retried step overwrites its previous record instead of appending.
type SagaRepository struct{}

// NewSagaRepository creates a new PostgreSQL saga repository
func NewSagaRepository() *SagaRepository {
	return &SagaRepository{}
}

func (r *SagaRepository) Create(ctx context.Context, tx ports.DBTX, saga *models.SagaExecution) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO saga_executions (id, order_id, idempotency_key, status)
		VALUES ($1, $2, $3, $4)`,
		saga.ID, saga.OrderID, saga.IdempotencyKey, saga.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.ErrIdempotencyConflict
		}
		return fmt.Errorf("insert saga execution: %w", err)
	}
	return nil
}

func (r *SagaRepository) GetByIdempotencyKey(ctx context.Context, db ports.DBTX, key string) (*models.SagaExecution, error) {
	var saga models.SagaExecution
	err := db.QueryRow(ctx, `
		SELECT id, order_id, idempotency_key, status, created_at, updated_at
		FROM saga_executions
		WHERE idempotency_key = $1`,
		key,
	).Scan(&saga.ID, &saga.OrderID, &saga.IdempotencyKey, &saga.Status, &saga.CreatedAt, &saga.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get saga execution: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT step_name, status, result_ref, updated_at
		FROM saga_steps
		WHERE saga_id = $1
		ORDER BY seq ASC`,
		saga.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("get saga steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step models.SagaStepRecord
		if err := rows.Scan(&step.Name, &step.Status, &step.ResultRef, &step.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan saga step: %w", err)
		}
		saga.Steps = append(saga.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga steps: %w", err)
	}
	return &saga, nil
}

func (r *SagaRepository) RecordStep(ctx context.Context, db ports.DBTX, sagaID uuid.UUID, step models.SagaStepRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO saga_steps (saga_id, step_name, status, result_ref)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (saga_id, step_name)
		DO UPDATE SET status = EXCLUDED.status, result_ref = EXCLUDED.result_ref, updated_at = now()`,
		sagaID, step.Name, step.Status, step.ResultRef,
	)
	if err != nil {
		return fmt.Errorf("record saga step: %w", err)
	}
	return nil
}

func (r *SagaRepository) UpdateStatus(ctx context.Context, db ports.DBTX, sagaID uuid.UUID, status models.SagaStatus) error {
	tag, err := db.Exec(ctx, `
		UPDATE saga_executions SET status = $2, updated_at = now() WHERE id = $1`,
		sagaID, status,
	)
	if err != nil {
		return fmt.Errorf("update saga status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saga execution %s not found", sagaID)
	}
	return nil
}
