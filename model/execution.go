package model

import (
	"fmt"
	"time"
)

// ExecutionStatus is the persisted lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionStarted    ExecutionStatus = "started"
	ExecutionTerminated ExecutionStatus = "terminated"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionTerminated, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending: {ExecutionStarted, ExecutionCancelled},
	ExecutionStarted: {ExecutionTerminated, ExecutionFailed, ExecutionCancelled},
}

// Execution is the durable record of one workflow run.
type Execution struct {
	ID                string          `json:"id"`
	ServiceInstanceID string          `json:"service_instance_id"`
	WorkflowName      string          `json:"workflow_name"`
	Parameters        map[string]any  `json:"parameters,omitempty"`
	Status            ExecutionStatus `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// NewExecution creates a pending execution record.
func NewExecution(serviceInstanceID, workflowName string, parameters map[string]any) *Execution {
	return &Execution{
		ID:                NewID(),
		ServiceInstanceID: serviceInstanceID,
		WorkflowName:      workflowName,
		Parameters:        parameters,
		Status:            ExecutionPending,
		CreatedAt:         time.Now(),
	}
}

// EntityID implements storage addressing.
func (e *Execution) EntityID() string { return e.ID }

// EntityName implements storage name lookup.
func (e *Execution) EntityName() string { return e.WorkflowName }

// Transition moves the execution to a new status, stamping started/ended
// timestamps. Terminal statuses are write-once.
func (e *Execution) Transition(to ExecutionStatus) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: execution %s is already %s", ErrInvalidTransition, e.ID, e.Status)
	}
	allowed := false
	for _, next := range executionTransitions[e.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: execution %s cannot go from %s to %s", ErrInvalidTransition, e.ID, e.Status, to)
	}

	now := time.Now()
	if to == ExecutionStarted && e.StartedAt == nil {
		e.StartedAt = &now
	}
	if to.IsTerminal() {
		if e.StartedAt == nil && to == ExecutionCancelled {
			// Cancelled before start: keep timestamps monotonic anyway.
			e.StartedAt = &now
		}
		e.EndedAt = &now
	}
	e.Status = to
	return nil
}
