package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/services/webhook"
)

// maxBodyBytes bounds webhook payloads; provider events are small.
const maxBodyBytes = 64 * 1024

// EventApplier applies a verified provider event exactly once.
type EventApplier interface {
	Apply(ctx context.Context, event *models.WebhookEvent) error
}

// Handler receives provider webhook deliveries. The HMAC-SHA256 signature is
// verified over the raw body before anything is parsed; an unsigned or
// mis-signed request never reaches the ingester.
type Handler struct {
	ingester EventApplier
	secret   string
	logger   *zap.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(ingester EventApplier, secret string, logger *zap.Logger) *Handler {
	return &Handler{ingester: ingester, secret: secret, logger: logger}
}

// eventPayload is the provider's wire format.
type eventPayload struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	ErrorCode  string    `json:"error_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Handle processes POST /webhooks/provider. Duplicates and stale events are
// acknowledged with 200 so the provider stops redelivering; a version
// conflict or storage failure answers 500 so it redelivers later.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", zap.Error(err))
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Webhook-Signature")) {
		h.logger.Warn("Webhook signature verification failed",
			zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	err = h.ingester.Apply(r.Context(), &models.WebhookEvent{
		ProviderEventID: payload.ID,
		Type:            models.WebhookEventType(payload.Type),
		OrderID:         orderID,
		ErrorCode:       payload.ErrorCode,
		OccurredAt:      payload.OccurredAt,
	})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, webhook.ErrUnknownEventType):
		// Acknowledge: redelivery cannot make the type known.
		h.logger.Info("Acknowledging unhandled webhook event type",
			zap.String("event_type", payload.Type),
			zap.String("provider_event_id", payload.ID))
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, models.ErrOrderNotFound):
		h.logger.Warn("Webhook event for unknown order",
			zap.String("provider_event_id", payload.ID),
			zap.String("order_id", payload.OrderID))
		http.Error(w, "order not found", http.StatusNotFound)
	default:
		h.logger.Error("Failed to apply webhook event",
			zap.String("provider_event_id", payload.ID),
			zap.Error(err))
		http.Error(w, "failed to process event", http.StatusInternalServerError)
	}
}

// verifySignature checks the hex HMAC-SHA256 of the raw body in constant time.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
