package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "operation_duration_seconds",
		Help: "Duration of traced logical operations (provider and database spans)",
		// Buckets: 10ms to 30s (provider calls dominate the tail)
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation", "outcome"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operations_total",
		Help: "Total traced operations by outcome",
	}, []string{"operation", "outcome"})
)

type traceIDKey struct{}

// TraceIDFromContext returns the trace id set by an enclosing span, if any.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// OperationTracer correlates a logical operation across provider and
// database calls: the outermost span mints a trace id, nested spans inherit
// it, and every span logs its duration and feeds the operation histograms.
type OperationTracer struct {
	logger *zap.Logger
}

// NewOperationTracer creates a tracer writing spans through the given logger.
func NewOperationTracer(logger *zap.Logger) *OperationTracer {
	return &OperationTracer{logger: logger}
}

// Trace runs fn as a named span. The returned error is fn's error,
// untouched; tracing never alters outcomes.
func (t *OperationTracer) Trace(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
		ctx = context.WithValue(ctx, traceIDKey{}, traceID)
	}

	start := time.Now()
	t.logger.Debug("operation started",
		zap.String("operation", operation),
		zap.String("trace_id", traceID),
	)

	err := fn(ctx)

	elapsed := time.Since(start)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	operationDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
	operationsTotal.WithLabelValues(operation, outcome).Inc()

	if err != nil {
		t.logger.Warn("operation failed",
			zap.String("operation", operation),
			zap.String("trace_id", traceID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return err
	}

	t.logger.Debug("operation completed",
		zap.String("operation", operation),
		zap.String("trace_id", traceID),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}
