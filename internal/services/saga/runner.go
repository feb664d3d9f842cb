package saga

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/models"
	"github.com/urbanserve/booking-payments/internal/domain/ports"
)

// Step is one forward action in a saga with its undo. Run returns an opaque
// result reference (an order id, a provider authorization id) that is
// persisted with the step record and handed to Compensate on rollback.
// Compensate may be nil when the step has nothing to undo.
type Step struct {
	Name       string
	Run        func(ctx context.Context) (string, error)
	Compensate func(ctx context.Context, resultRef string) error
}

// Runner executes saga steps in order, persisting each step's outcome before
// the next step starts. On a step failure it compensates the steps that
// succeeded, in reverse completion order. A compensation failure is never
// retried automatically: the execution is marked needs_attention and the
// error is escalated for manual review.
type Runner struct {
	db     ports.DBPort
	sagas  ports.SagaRepository
	logger *zap.Logger
}

// NewRunner creates a saga runner
func NewRunner(db ports.DBPort, sagas ports.SagaRepository, logger *zap.Logger) *Runner {
	return &Runner{db: db, sagas: sagas, logger: logger}
}

type completedStep struct {
	step Step
	ref  string
}

// Execute runs the steps for the given execution. The execution must already
// be persisted with status started. Returns nil when all steps succeed, the
// failing step's error when compensation fully rolled back, and a
// CompensationFailedError when rollback itself failed.
func (r *Runner) Execute(ctx context.Context, exec *models.SagaExecution, steps []Step) error {
	var completed []completedStep

	for _, step := range steps {
		if err := r.recordStep(ctx, exec, step.Name, models.StepStatusPending, ""); err != nil {
			return err
		}

		ref, err := step.Run(ctx)
		if err != nil {
			r.logger.Warn("Saga step failed",
				zap.String("saga_id", exec.ID.String()),
				zap.String("order_id", exec.OrderID.String()),
				zap.String("step", step.Name),
				zap.Error(err),
			)
			if recErr := r.recordStep(ctx, exec, step.Name, models.StepStatusFailed, ""); recErr != nil {
				r.logger.Error("Failed to record step failure", zap.String("step", step.Name), zap.Error(recErr))
			}
			return r.compensate(ctx, exec, completed, err)
		}

		if err := r.recordStep(ctx, exec, step.Name, models.StepStatusSucceeded, ref); err != nil {
			return err
		}
		completed = append(completed, completedStep{step: step, ref: ref})
	}

	if err := r.sagas.UpdateStatus(ctx, r.db.GetDB(), exec.ID, models.SagaStatusSucceeded); err != nil {
		return err
	}
	exec.Status = models.SagaStatusSucceeded
	return nil
}

// compensate undoes the completed steps in reverse order, then returns the
// original step error. If any compensator fails the saga is parked in
// needs_attention and the compensation error wins over the step error.
func (r *Runner) compensate(ctx context.Context, exec *models.SagaExecution, completed []completedStep, stepErr error) error {
	for i := len(completed) - 1; i >= 0; i-- {
		c := completed[i]
		if c.step.Compensate == nil {
			continue
		}

		if err := c.step.Compensate(ctx, c.ref); err != nil {
			r.logger.Error("Saga compensation failed, manual intervention required",
				zap.String("saga_id", exec.ID.String()),
				zap.String("order_id", exec.OrderID.String()),
				zap.String("step", c.step.Name),
				zap.String("result_ref", c.ref),
				zap.Error(err),
			)
			if updErr := r.sagas.UpdateStatus(ctx, r.db.GetDB(), exec.ID, models.SagaStatusNeedsAttention); updErr != nil {
				r.logger.Error("Failed to mark saga needs_attention", zap.Error(updErr))
			}
			exec.Status = models.SagaStatusNeedsAttention
			return &models.CompensationFailedError{
				OrderID:         exec.OrderID.String(),
				AuthorizationID: c.ref,
				Step:            c.step.Name,
				Cause:           err,
			}
		}

		if err := r.recordStep(ctx, exec, c.step.Name, models.StepStatusCompensated, c.ref); err != nil {
			r.logger.Error("Failed to record compensated step", zap.String("step", c.step.Name), zap.Error(err))
		}
	}

	if err := r.sagas.UpdateStatus(ctx, r.db.GetDB(), exec.ID, models.SagaStatusFailed); err != nil {
		r.logger.Error("Failed to mark saga failed", zap.Error(err))
	}
	exec.Status = models.SagaStatusFailed
	return stepErr
}

func (r *Runner) recordStep(ctx context.Context, exec *models.SagaExecution, name string, status models.SagaStepStatus, ref string) error {
	record := models.SagaStepRecord{Name: name, Status: status, ResultRef: ref, UpdatedAt: time.Now()}
	if err := r.sagas.RecordStep(ctx, r.db.GetDB(), exec.ID, record); err != nil {
		return err
	}
	for i := range exec.Steps {
		if exec.Steps[i].Name == name {
			exec.Steps[i] = record
			return nil
		}
	}
	exec.Steps = append(exec.Steps, record)
	return nil
}
