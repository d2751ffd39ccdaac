package model

import (
	"fmt"
	"time"
)

// TaskStatus is the persisted lifecycle state of one operation task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRetrying TaskStatus = "retrying"
	TaskStarted  TaskStatus = "started"
	TaskSuccess  TaskStatus = "success"
	TaskFailed   TaskStatus = "failed"
)

// IsTerminal reports whether the task reached a final status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailed
}

// InfiniteAttempts marks a retry policy with no attempt ceiling.
const InfiniteAttempts = -1

// TaskRecord is the durable per-operation state. Status, attempts and
// timestamps change only through the Mark* transitions; the engine is the
// sole caller.
type TaskRecord struct {
	ID            string         `json:"id"`
	ExecutionID   string         `json:"execution_id"`
	ActorID       string         `json:"actor_id"`
	Function      string         `json:"function"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Status        TaskStatus     `json:"status"`
	Attempts      int            `json:"attempts_count"`
	MaxAttempts   int            `json:"max_attempts"`
	RetryInterval time.Duration  `json:"retry_interval"`
	IgnoreFailure bool           `json:"ignore_failure"`
	DueAt         time.Time      `json:"due_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// EntityID implements storage addressing.
func (t *TaskRecord) EntityID() string { return t.ID }

// EntityName implements storage name lookup.
func (t *TaskRecord) EntityName() string { return t.Function }

// MarkStarted records the beginning of an attempt and increments the
// attempt counter.
func (t *TaskRecord) MarkStarted() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is already %s", ErrInvalidTransition, t.ID, t.Status)
	}
	now := time.Now()
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.Attempts++
	t.Status = TaskStarted
	return nil
}

// MarkRetrying schedules the next attempt at dueAt.
func (t *TaskRecord) MarkRetrying(dueAt time.Time) error {
	if t.Status != TaskStarted {
		return fmt.Errorf("%w: task %s cannot retry from %s", ErrInvalidTransition, t.ID, t.Status)
	}
	t.Status = TaskRetrying
	t.DueAt = dueAt
	return nil
}

// MarkSuccess finalizes the task as succeeded.
func (t *TaskRecord) MarkSuccess() error {
	return t.finalize(TaskSuccess, "")
}

// MarkFailed finalizes the task as failed with the terminal error text.
func (t *TaskRecord) MarkFailed(errText string) error {
	return t.finalize(TaskFailed, errText)
}

func (t *TaskRecord) finalize(to TaskStatus, errText string) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is already %s", ErrInvalidTransition, t.ID, t.Status)
	}
	now := time.Now()
	t.EndedAt = &now
	t.Status = to
	t.Error = errText
	return nil
}

// AttemptsExhausted reports whether the retry budget is spent.
func (t *TaskRecord) AttemptsExhausted() bool {
	if t.MaxAttempts == InfiniteAttempts {
		return false
	}
	return t.Attempts >= t.MaxAttempts
}
