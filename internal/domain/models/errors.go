package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy raw provider errors are classified into.
type ErrorKind string

const (
	ErrorKindCardDeclined      ErrorKind = "card_declined"
	ErrorKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrorKindExpiredCard       ErrorKind = "expired_card"
	ErrorKindProcessingError   ErrorKind = "processing_error"
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindNetworkTimeout    ErrorKind = "network_timeout"
	ErrorKindUnknown           ErrorKind = "unknown"
)

var (
	// ErrVersionConflict indicates an optimistic-lock failure: the order's
	// version moved between read and write. The caller must re-read and
	// retry the whole operation, not just the write.
	ErrVersionConflict = errors.New("order version conflict")

	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateWebhookEvent indicates the provider event id was already
	// recorded; the event's effects must not be applied again.
	ErrDuplicateWebhookEvent = errors.New("webhook event already processed")

	// ErrIdempotencyConflict indicates an idempotency token was reused
	// while its original saga execution has not completed.
	ErrIdempotencyConflict = errors.New("idempotency key in use by an unfinished saga")
)

// InvalidTransitionError reports an illegal status change request. It is a
// programming or stale-client error and is never retried.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// CardError is a non-retryable card-state failure (declined, expired,
// insufficient funds). UserMessage is actionable and safe to surface.
type CardError struct {
	Kind        ErrorKind
	Code        string
	UserMessage string
}

func (e *CardError) Error() string {
	return fmt.Sprintf("card error %s (%s)", e.Kind, e.Code)
}

// ProviderTransientError is a retryable provider failure (timeout, rate
// limit, processing error). It becomes final once the retry budget is spent.
type ProviderTransientError struct {
	Kind ErrorKind
	Code string
}

func (e *ProviderTransientError) Error() string {
	return fmt.Sprintf("transient provider error %s (%s)", e.Kind, e.Code)
}

// CompensationFailedError reports that a saga rollback step itself failed.
// It represents money potentially held at the provider with no corresponding
// order, so it is escalated for manual review and never retried
// automatically.
type CompensationFailedError struct {
	OrderID         string
	AuthorizationID string
	Step            string
	Cause           error
}

func (e *CompensationFailedError) Error() string {
	return fmt.Sprintf("saga compensation failed at step %q (order=%s authorization=%s): %v",
		e.Step, e.OrderID, e.AuthorizationID, e.Cause)
}

func (e *CompensationFailedError) Unwrap() error { return e.Cause }
