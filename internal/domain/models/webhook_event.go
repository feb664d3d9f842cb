package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventType enumerates the provider-pushed events the ingester
// understands.
type WebhookEventType string

const (
	EventAuthorizationFailed    WebhookEventType = "authorization_failed"
	EventDisputeOpened          WebhookEventType = "dispute_opened"
	EventAuthenticationRequired WebhookEventType = "authentication_required"
)

// WebhookEvent is a verified, parsed provider event. Transport-level
// concerns (signature verification, raw HTTP) end before this type.
type WebhookEvent struct {
	ProviderEventID string
	Type            WebhookEventType
	OrderID         uuid.UUID
	ErrorCode       string
	OccurredAt      time.Time
}

// WebhookEventRecord is the idempotency ledger row. The unique constraint on
// ProviderEventID is the deduplication mechanism: the record is inserted in
// the same transaction as the state mutation the event causes, so "event
// recorded" and "effect applied" cannot diverge.
type WebhookEventRecord struct {
	ProviderEventID string
	ProcessedAt     time.Time
}
