package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/domain/ports"
)

// OrderRepository implements ports.OrderRepository using raw pgx queries.
type OrderRepository struct{}

// NewOrderRepository creates a new PostgreSQL order repository
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

const orderColumns = `
	id, customer_id, status, version,
	estimated_amount_cents, authorized_amount_cents, final_amount_cents,
	payment_method_ref, provider_authorization_id, capture_attempt_count,
	payment_error_code, payment_failure_grace_deadline,
	service_details, created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, tx ports.DBTX, order *models.Order) error {
	details, err := json.Marshal(order.ServiceDetails)
	if err != nil {
		return fmt.Errorf("marshal service details: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, status, version,
			estimated_amount_cents, authorized_amount_cents, final_amount_cents,
			payment_method_ref, provider_authorization_id, capture_attempt_count,
			payment_error_code, payment_failure_grace_deadline, service_details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		order.ID, order.CustomerID, order.Status, order.Version,
		order.EstimatedAmountCents, order.AuthorizedAmountCents, order.FinalAmountCents,
		order.PaymentMethodRef, order.ProviderAuthorizationID, order.CaptureAttemptCount,
		nullString(order.PaymentErrorCode), order.PaymentFailureGraceDeadline, details,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Order, error) {
	row := db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// Update performs the compare-and-increment write. The WHERE clause carries
// both the id and the version the caller read; zero rows affected means the
// version moved and the write is stale.
func (r *OrderRepository) Update(ctx context.Context, tx ports.DBTX, order *models.Order, expectedVersion int64) error {
	details, err := json.Marshal(order.ServiceDetails)
	if err != nil {
		return fmt.Errorf("marshal service details: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET
			status = $3,
			version = version + 1,
			estimated_amount_cents = $4,
			authorized_amount_cents = $5,
			final_amount_cents = $6,
			payment_method_ref = $7,
			provider_authorization_id = $8,
			capture_attempt_count = $9,
			payment_error_code = $10,
			payment_failure_grace_deadline = $11,
			service_details = $12,
			updated_at = now()
		WHERE id = $1 AND version = $2`,
		order.ID, expectedVersion, order.Status,
		order.EstimatedAmountCents, order.AuthorizedAmountCents, order.FinalAmountCents,
		order.PaymentMethodRef, order.ProviderAuthorizationID, order.CaptureAttemptCount,
		nullString(order.PaymentErrorCode), order.PaymentFailureGraceDeadline, details,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrVersionConflict
	}
	order.Version = expectedVersion + 1
	return nil
}

func (r *OrderRepository) ListPaymentFailedBefore(ctx context.Context, db ports.DBTX, cutoff time.Time, limit int32) ([]*models.Order, error) {
	rows, err := db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		  AND payment_failure_grace_deadline IS NOT NULL
		  AND payment_failure_grace_deadline < $2
		ORDER BY payment_failure_grace_deadline ASC
		LIMIT $3`,
		models.StatusPaymentFailed, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired payment failures: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *OrderRepository) ListPendingCaptureRetries(ctx context.Context, db ports.DBTX, now time.Time, limit int32) ([]*models.Order, error) {
	rows, err := db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		  AND payment_failure_grace_deadline IS NOT NULL
		  AND payment_failure_grace_deadline >= $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		models.StatusPaymentFailed, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending capture retries: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order     models.Order
		errCode   *string
		deadline  *time.Time
		rawDetail []byte
	)
	err := row.Scan(
		&order.ID, &order.CustomerID, &order.Status, &order.Version,
		&order.EstimatedAmountCents, &order.AuthorizedAmountCents, &order.FinalAmountCents,
		&order.PaymentMethodRef, &order.ProviderAuthorizationID, &order.CaptureAttemptCount,
		&errCode, &deadline, &rawDetail, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if errCode != nil {
		order.PaymentErrorCode = *errCode
	}
	order.PaymentFailureGraceDeadline = deadline
	if len(rawDetail) > 0 {
		if err := json.Unmarshal(rawDetail, &order.ServiceDetails); err != nil {
			return nil, fmt.Errorf("unmarshal service details: %w", err)
		}
	}
	return &order, nil
}

func scanOrders(rows pgx.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
