package cron

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/pkg/resilience"
)

// BatchService runs the scheduler-driven order batches.
type BatchService interface {
	SweepExpiredGracePeriods(ctx context.Context) (int, error)
	RetryPendingCaptures(ctx context.Context) (int, error)
}

// OperationsHandler handles the scheduler-driven batch endpoints and the
// operational stats surface.
type OperationsHandler struct {
	orders     BatchService
	breaker    *resilience.CircuitBreaker
	quota      *resilience.QuotaManager
	logger     *zap.Logger
	cronSecret string
}

// NewOperationsHandler creates a new cron operations handler
func NewOperationsHandler(
	orders BatchService,
	breaker *resilience.CircuitBreaker,
	quota *resilience.QuotaManager,
	logger *zap.Logger,
	cronSecret string,
) *OperationsHandler {
	return &OperationsHandler{
		orders:     orders,
		breaker:    breaker,
		quota:      quota,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// BatchResponse reports how many orders a batch pass touched.
type BatchResponse struct {
	Success     bool   `json:"success"`
	Processed   int    `json:"processed"`
	ProcessedAt string `json:"processed_at"`
	Error       string `json:"error,omitempty"`
}

// SweepGracePeriods handles POST /cron/sweep-grace-periods. Called by the
// scheduler to cancel payment_failed orders whose grace deadline elapsed.
func (h *OperationsHandler) SweepGracePeriods(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	n, err := h.orders.SweepExpiredGracePeriods(r.Context())
	if err != nil {
		h.logger.Error("Grace period sweep failed", zap.Int("cancelled", n), zap.Error(err))
		h.respondBatch(w, http.StatusInternalServerError, n, err)
		return
	}

	h.logger.Info("Grace period sweep completed", zap.Int("cancelled", n))
	h.respondBatch(w, http.StatusOK, n, nil)
}

// RetryCaptures handles POST /cron/retry-captures. Called by the scheduler
// to re-attempt charges still inside their grace window.
func (h *OperationsHandler) RetryCaptures(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	n, err := h.orders.RetryPendingCaptures(r.Context())
	if err != nil {
		h.logger.Error("Capture retry pass failed", zap.Int("attempted", n), zap.Error(err))
		h.respondBatch(w, http.StatusInternalServerError, n, err)
		return
	}

	h.logger.Info("Capture retry pass completed", zap.Int("attempted", n))
	h.respondBatch(w, http.StatusOK, n, nil)
}

// StatsResponse exposes breaker and quota state for dashboards and debugging.
type StatsResponse struct {
	Breaker BreakerStats             `json:"breaker"`
	Quota   resilience.QuotaSnapshot `json:"quota"`
	Time    string                   `json:"time"`
}

// BreakerStats is the circuit breaker's introspection payload.
type BreakerStats struct {
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Stats handles GET /cron/stats.
func (h *OperationsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	counts := h.breaker.Counts()
	resp := StatsResponse{
		Breaker: BreakerStats{
			State:               counts.State.String(),
			ConsecutiveFailures: counts.ConsecutiveFailures,
		},
		Quota: h.quota.Snapshot(),
		Time:  time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode stats response", zap.Error(err))
	}
}

// ResetBreaker handles POST /cron/reset-breaker: the manual override used
// once a provider incident is confirmed resolved.
func (h *OperationsHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	h.breaker.ForceClose()
	h.logger.Warn("Circuit breaker force-closed by operator request",
		zap.String("remote_addr", r.RemoteAddr))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"state":   h.breaker.State().String(),
	}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// authorize verifies the shared scheduler secret.
func (h *OperationsHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.authenticateRequest(r) {
		return true
	}
	h.logger.Warn("Unauthorized cron request",
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   "unauthorized",
	}); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
	return false
}

// authenticateRequest accepts the secret via the X-Cron-Secret header or a
// Bearer token.
func (h *OperationsHandler) authenticateRequest(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if secret := r.Header.Get("X-Cron-Secret"); secret == h.cronSecret {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+h.cronSecret
}

func (h *OperationsHandler) respondBatch(w http.ResponseWriter, statusCode, processed int, batchErr error) {
	resp := BatchResponse{
		Success:     batchErr == nil,
		Processed:   processed,
		ProcessedAt: time.Now().Format(time.RFC3339),
	}
	if batchErr != nil {
		resp.Error = batchErr.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
