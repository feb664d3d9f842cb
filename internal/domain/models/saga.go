package models

import (
	"time"

	"github.com/google/uuid"
)

// SagaStatus captures the overall state of a saga execution.
type SagaStatus string

const (
	SagaStatusStarted        SagaStatus = "started"
	SagaStatusSucceeded      SagaStatus = "succeeded"
	SagaStatusFailed         SagaStatus = "failed"
	SagaStatusNeedsAttention SagaStatus = "needs_attention"
)

// SagaStepStatus captures the state of a single saga step.
type SagaStepStatus string

const (
	StepStatusPending     SagaStepStatus = "pending"
	StepStatusSucceeded   SagaStepStatus = "succeeded"
	StepStatusFailed      SagaStepStatus = "failed"
	StepStatusCompensated SagaStepStatus = "compensated"
)

// SagaStepRecord is the durable record of one step's outcome. ResultRef is
// an opaque reference produced by the step (the order id for the create
// step, the provider authorization id for the authorize step) and is what
// the matching compensator receives on rollback.
type SagaStepRecord struct {
	Name      string
	Status    SagaStepStatus
	ResultRef string
	UpdatedAt time.Time
}

// SagaExecution tracks an in-flight or completed authorization saga.
// Executions are keyed by the caller-supplied idempotency token; a retried
// call with the same token replays the stored result instead of re-running
// provider calls.
type SagaExecution struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	IdempotencyKey string
	Status         SagaStatus
	Steps          []SagaStepRecord
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StepResult returns the result reference recorded for the named step, if any.
func (s *SagaExecution) StepResult(name string) (string, bool) {
	for _, step := range s.Steps {
		if step.Name == name && step.Status == StepStatusSucceeded {
			return step.ResultRef, true
		}
	}
	return "", false
}
