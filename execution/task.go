// Package execution turns an API task graph into an execution graph and
// drives it to a terminal state: scheduling under the graph's partial order,
// retries, cooperative cancellation, and transactional state updates.
package execution

import (
	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

// Kind tags the execution task variants.
type Kind int

const (
	KindStartWorkflow Kind = iota
	KindEndWorkflow
	KindStartSubWorkflow
	KindEndSubWorkflow
	KindOperation
	KindStub
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStartWorkflow:
		return "start_workflow"
	case KindEndWorkflow:
		return "end_workflow"
	case KindStartSubWorkflow:
		return "start_subworkflow"
	case KindEndSubWorkflow:
		return "end_subworkflow"
	case KindOperation:
		return "operation"
	case KindStub:
		return "stub"
	}
	return "unknown"
}

// IsSentinel reports whether the task is a scope boundary with no side
// effect.
func (k Kind) IsSentinel() bool {
	return k != KindOperation && k != KindStub
}

// Task is one node of the execution graph. Operation tasks wrap their API
// task; sentinels and stubs carry only identity and scope.
type Task struct {
	ID   string
	Kind Kind

	// ScopeID is the id of the API graph this task belongs to.
	ScopeID string

	// Operation is set for KindOperation.
	Operation *workflow.OperationTask
}

// NotificationKind tags executor notifications.
type NotificationKind int

const (
	TaskStarted NotificationKind = iota
	TaskSucceeded
	TaskFailed
)

// Notification is one executor report about a submitted task. Every
// submission produces exactly one terminal notification (succeeded or
// failed) preceded by a started notification.
type Notification struct {
	TaskID    string
	Kind      NotificationKind
	Err       error
	Traceback string
}

// TaskHandle is the unit submitted to an executor: the operation task, its
// per-attempt context, and the notification sink back into the engine.
type TaskHandle struct {
	Task   *Task
	OpCtx  *workflow.OperationContext
	Inputs map[string]any

	notify func(Notification)
}

// NewTaskHandle builds a handle that delivers its notifications to notify.
func NewTaskHandle(task *Task, opCtx *workflow.OperationContext, inputs map[string]any, notify func(Notification)) *TaskHandle {
	return &TaskHandle{Task: task, OpCtx: opCtx, Inputs: inputs, notify: notify}
}

// Started reports that the attempt began running.
func (h *TaskHandle) Started() {
	h.notify(Notification{TaskID: h.Task.ID, Kind: TaskStarted})
}

// Succeeded reports terminal success.
func (h *TaskHandle) Succeeded() {
	h.notify(Notification{TaskID: h.Task.ID, Kind: TaskSucceeded})
}

// Failed reports terminal failure with the underlying error and traceback
// text.
func (h *TaskHandle) Failed(err error, traceback string) {
	h.notify(Notification{TaskID: h.Task.ID, Kind: TaskFailed, Err: err, Traceback: traceback})
}

// Executor runs submitted tasks. Submit may block briefly for backpressure
// but must not block arbitrarily; Close drains workers and is safe to call
// repeatedly.
type Executor interface {
	Submit(handle *TaskHandle) error
	Close() error
}

// Resolver looks up operation implementations for executor variants.
type Resolver interface {
	Resolve(spec model.PluginSpec, implementation string) (workflow.OperationFunc, error)
}
