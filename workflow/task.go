package workflow

import (
	"fmt"
	"time"

	"github.com/apache/incubator-ariatosca-sub004/model"
)

// Task is a member of an API task graph. The set of variants is closed:
// OperationTask, StubTask, WorkflowTask.
type Task interface {
	ID() string
	isTask()
}

type baseTask struct {
	id string
}

func newBaseTask() baseTask { return baseTask{id: model.NewID()} }

func (t baseTask) ID() string { return t.id }
func (t baseTask) isTask()    {}

// OperationTask is an invokable unit bound to an actor's interface
// operation.
type OperationTask struct {
	baseTask

	Actor          model.Actor
	InterfaceName  string
	OperationName  string
	Implementation string
	Plugin         *model.PluginSpec
	RunsOn         model.RunsOn

	inputs map[string]any

	MaxAttempts   int
	RetryInterval time.Duration
	IgnoreFailure bool
}

// OperationOption customizes an OperationTask at construction.
type OperationOption func(*OperationTask)

// WithInputs overrides or extends the operation's declared inputs.
func WithInputs(inputs map[string]any) OperationOption {
	return func(t *OperationTask) {
		for k, v := range inputs {
			t.inputs[k] = v
		}
	}
}

// WithMaxAttempts sets the retry ceiling; model.InfiniteAttempts disables it.
func WithMaxAttempts(n int) OperationOption {
	return func(t *OperationTask) { t.MaxAttempts = n }
}

// WithRetryInterval sets the delay before a retried attempt is dispatched.
func WithRetryInterval(d time.Duration) OperationOption {
	return func(t *OperationTask) { t.RetryInterval = d }
}

// WithIgnoreFailure makes a failed attempt count as success.
func WithIgnoreFailure(ignore bool) OperationOption {
	return func(t *OperationTask) { t.IgnoreFailure = ignore }
}

// WithRunsOn tags where a relationship operation executes.
func WithRunsOn(runsOn model.RunsOn) OperationOption {
	return func(t *OperationTask) { t.RunsOn = runsOn }
}

// NewOperationTask builds an operation task against the current workflow
// context. The operation is resolved on the actor's interface and its plugin
// binding is validated; construction fails with model.ErrOperationNotFound
// or model.ErrPluginNotFound.
func NewOperationTask(actor model.Actor, interfaceName, operationName string, opts ...OperationOption) (*OperationTask, error) {
	ctx, err := CurrentContext()
	if err != nil {
		return nil, err
	}

	op, err := model.ResolveOperation(actor, interfaceName, operationName)
	if err != nil {
		return nil, err
	}
	if op.Plugin != nil && ctx.Plugins != nil && !ctx.Plugins.HasPlugin(*op.Plugin) {
		return nil, fmt.Errorf("%w: %s (declared by %s.%s on %s %s)",
			model.ErrPluginNotFound, op.Plugin.Name, interfaceName, operationName, actor.ActorKind(), actor.ActorID())
	}

	inputs := make(map[string]any, len(op.Inputs))
	for name, param := range op.Inputs {
		inputs[name] = param.Value
	}

	task := &OperationTask{
		baseTask:       newBaseTask(),
		Actor:          actor,
		InterfaceName:  interfaceName,
		OperationName:  operationName,
		Implementation: op.Implementation,
		Plugin:         op.Plugin,
		RunsOn:         model.RunsOnNode,
		inputs:         inputs,
		MaxAttempts:    1,
	}
	for _, opt := range opts {
		opt(task)
	}
	if task.MaxAttempts < 1 && task.MaxAttempts != model.InfiniteAttempts {
		return nil, fmt.Errorf("max attempts must be >= 1 or %d for infinite, got %d", model.InfiniteAttempts, task.MaxAttempts)
	}
	if task.RetryInterval < 0 {
		return nil, fmt.Errorf("retry interval must be >= 0, got %s", task.RetryInterval)
	}
	return task, nil
}

// Inputs returns a copy of the task's immutable inputs map.
func (t *OperationTask) Inputs() map[string]any {
	out := make(map[string]any, len(t.inputs))
	for k, v := range t.inputs {
		out[k] = v
	}
	return out
}

// StubTask is a no-op placeholder used to shape graph structure.
type StubTask struct {
	baseTask
}

// NewStubTask creates a stub task.
func NewStubTask() *StubTask {
	return &StubTask{baseTask: newBaseTask()}
}

// WorkflowTask embeds a sub-workflow's graph as a single composable task.
type WorkflowTask struct {
	baseTask

	Name  string
	graph *TaskGraph
}

// NewWorkflowTask runs fn against a fresh graph under the current context
// and wraps the populated graph as one task. A failing workflow function
// discards the partial graph.
func NewWorkflowTask(name string, fn WorkflowFunc, inputs map[string]any) (*WorkflowTask, error) {
	ctx, err := CurrentContext()
	if err != nil {
		return nil, err
	}
	graph := NewTaskGraph(name)
	if err := fn(ctx, graph, inputs); err != nil {
		return nil, fmt.Errorf("build sub-workflow %q: %w", name, err)
	}
	return &WorkflowTask{
		baseTask: newBaseTask(),
		Name:     name,
		graph:    graph,
	}, nil
}

// Graph returns the embedded sub-workflow graph.
func (t *WorkflowTask) Graph() *TaskGraph { return t.graph }
