package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	StatusDraft                OrderStatus = "draft"
	StatusPendingFulfillment   OrderStatus = "pending_fulfillment"
	StatusInProgress           OrderStatus = "in_progress"
	StatusAwaitingConfirmation OrderStatus = "awaiting_confirmation"
	StatusPaymentFailed        OrderStatus = "payment_failed"
	StatusCompleted            OrderStatus = "completed"
	StatusCancelled            OrderStatus = "cancelled"
)

// Order represents a booking order. All monetary amounts are in minor units
// (cents). Version is the optimistic-lock counter: every write must supply
// the version it read, and the repository rejects stale writes with
// ErrVersionConflict.
type Order struct {
	ID                   uuid.UUID
	CustomerID           string
	Status               OrderStatus
	Version              int64
	EstimatedAmountCents int64
	AuthorizedAmountCents int64
	FinalAmountCents     int64

	// PaymentMethodRef is the provider-side token for the stored payment
	// method. Set once by the authorization saga, reused for capture.
	PaymentMethodRef string

	// ProviderAuthorizationID is the provider-side authorization handle.
	// Empty until the saga's authorize step succeeds.
	ProviderAuthorizationID string

	CaptureAttemptCount int32

	// Populated when a charge attempt fails; cleared on recovery.
	PaymentErrorCode            string
	PaymentFailureGraceDeadline *time.Time

	ServiceDetails map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the order can never transition again.
func (o *Order) Terminal() bool {
	return IsTerminal(o.Status)
}
