package provider

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/ports"
	"github.com/urbanserve/booking-payments/pkg/observability"
	"github.com/urbanserve/booking-payments/pkg/resilience"
)

// ResilientGateway decorates a PaymentGateway so that every call runs
// through the full resilience stack:
//
//	OperationTracer -> retry policy -> CircuitBreaker -> QuotaManager -> base
//
// The breaker and quota manager are shared process state constructed once at
// startup; the gateway only holds references. Retry decisions come from the
// error classifier: card-state errors and an open circuit are final
// immediately, transient errors retry with exponential backoff up to
// MaxAttempts.
type ResilientGateway struct {
	base     ports.PaymentGateway
	tracer   *observability.OperationTracer
	breaker  *resilience.CircuitBreaker
	quota    *resilience.QuotaManager
	backoff  resilience.BackoffStrategy
	timeouts *resilience.TimeoutConfig
	logger   *zap.Logger

	maxAttempts int
}

// ResilientGatewayConfig bundles the shared resilience components.
type ResilientGatewayConfig struct {
	Tracer      *observability.OperationTracer
	Breaker     *resilience.CircuitBreaker
	Quota       *resilience.QuotaManager
	Backoff     resilience.BackoffStrategy
	Timeouts    *resilience.TimeoutConfig
	MaxAttempts int
}

// NewResilientGateway wraps base with the resilience stack.
func NewResilientGateway(base ports.PaymentGateway, cfg ResilientGatewayConfig, logger *zap.Logger) *ResilientGateway {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = resilience.DefaultExponentialBackoff()
	}
	timeouts := cfg.Timeouts
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &ResilientGateway{
		base:        base,
		tracer:      cfg.Tracer,
		breaker:     cfg.Breaker,
		quota:       cfg.Quota,
		backoff:     backoff,
		timeouts:    timeouts,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func (g *ResilientGateway) Authorize(ctx context.Context, req *ports.AuthorizeRequest) (*ports.AuthorizeResponse, error) {
	var resp *ports.AuthorizeResponse
	err := g.do(ctx, "provider.authorize", func(ctx context.Context) error {
		var err error
		resp, err = g.base.Authorize(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *ResilientGateway) Capture(ctx context.Context, authorizationID string, amountCents int64) (*ports.CaptureResponse, error) {
	var resp *ports.CaptureResponse
	err := g.do(ctx, "provider.capture", func(ctx context.Context) error {
		var err error
		resp, err = g.base.Capture(ctx, authorizationID, amountCents)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *ResilientGateway) Void(ctx context.Context, authorizationID string) error {
	return g.do(ctx, "provider.void", func(ctx context.Context) error {
		return g.base.Void(ctx, authorizationID)
	})
}

func (g *ResilientGateway) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	call := func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt < g.maxAttempts; attempt++ {
			if attempt > 0 {
				delay := g.backoff.NextDelay(attempt - 1)
				g.logger.Info("Retrying provider call",
					zap.String("operation", operation),
					zap.Int("attempt", attempt+1),
					zap.Int("max_attempts", g.maxAttempts),
					zap.Duration("backoff_delay", delay),
				)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}

			lastErr = g.attempt(ctx, fn)
			if lastErr == nil {
				return nil
			}
			if !g.shouldRetry(lastErr) {
				return lastErr
			}
		}
		return lastErr
	}

	if g.tracer != nil {
		return g.tracer.Trace(ctx, operation, call)
	}
	return call(ctx)
}

// attempt runs one pass through breaker and quota with a per-attempt timeout.
func (g *ResilientGateway) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.breaker.Execute(func() error {
		return g.quota.Execute(ctx, func() error {
			attemptCtx, cancel := g.timeouts.AttemptContext(ctx)
			defer cancel()
			return toDomainError(fn(attemptCtx))
		})
	})
}

func (g *ResilientGateway) shouldRetry(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return Classify(err).Retryable
}
