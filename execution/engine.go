package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/apache/incubator-ariatosca-sub004/events"
	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/storage"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

// Engine drives an execution graph to a terminal state. The control loop
// runs on the Execute goroutine; task work runs on executor workers. The
// graph's partial order is the only ordering guarantee between tasks.
type Engine struct {
	wctx     *workflow.Context
	executor Executor
	apiGraph *workflow.TaskGraph

	bus     *events.Bus
	logger  *slog.Logger
	metrics *Metrics

	graph         *Graph
	notifications chan Notification

	// In-memory shadows of the store-owned task records, keyed by
	// execution task id. The store remains authoritative.
	records map[string]*model.TaskRecord
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBus sets the signal bus lifecycle events are published on.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithMetrics attaches prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the context logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine over a workflow context, an executor, and the
// API graph the workflow function populated. Translation happens lazily on
// the first Execute (or Graph) call.
func NewEngine(wctx *workflow.Context, executor Executor, apiGraph *workflow.TaskGraph, opts ...Option) *Engine {
	e := &Engine{
		wctx:     wctx,
		executor: executor,
		apiGraph: apiGraph,
		logger:   wctx.Logger,
		records:  make(map[string]*model.TaskRecord),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = events.NewBus(e.logger)
	}
	return e
}

// Bus returns the engine's signal bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Graph returns the execution graph, translating the API graph on first
// call.
func (e *Engine) Graph() (*Graph, error) {
	if e.graph == nil {
		graph, err := Translate(e.apiGraph)
		if err != nil {
			return nil, fmt.Errorf("translate workflow graph: %w", err)
		}
		e.graph = graph
	}
	return e.graph, nil
}

// Cancel requests cooperative cancellation: no new tasks are dispatched,
// running tasks drain, and the execution ends CANCELLED. Cancelling a
// terminal execution is a no-op.
func (e *Engine) Cancel() {
	e.wctx.RequestCancel()
}

// Execute runs the workflow until terminal. It returns the ExecutorError
// when the execution fails; cancellation is not an error.
func (e *Engine) Execute(ctx context.Context) error {
	graph, err := e.Graph()
	if err != nil {
		return err
	}
	e.notifications = make(chan Notification, 2*graph.Len()+16)

	execution := &model.Execution{
		ID:                e.wctx.ID,
		ServiceInstanceID: e.wctx.ServiceInstanceID,
		WorkflowName:      e.wctx.WorkflowName,
		Parameters:        e.wctx.Parameters,
		Status:            model.ExecutionPending,
		CreatedAt:         time.Now(),
	}
	if err := e.wctx.Model.Executions().Put(ctx, execution); err != nil {
		return fmt.Errorf("create execution record: %w", err)
	}

	// Cancel before start goes straight to CANCELLED.
	if e.wctx.CancelRequested() {
		return e.finish(ctx, model.ExecutionCancelled, nil)
	}

	if err := e.transitionExecution(ctx, model.ExecutionStarted, ""); err != nil {
		return err
	}
	e.bus.Publish(events.Event{
		Signal:      events.StartWorkflow,
		ExecutionID: e.wctx.ID,
		Workflow:    e.wctx.WorkflowName,
	})
	e.logger.Info("execution started",
		"execution_id", e.wctx.ID,
		"workflow", e.wctx.WorkflowName,
		"task_count", graph.Len())

	return e.run(ctx)
}

// run is the engine control loop: dispatch eligible tasks, wait for
// executor notifications, due timers, or cancellation, repeat until
// terminal.
func (e *Engine) run(ctx context.Context) error {
	track := newTracker(e.graph)
	running := make(map[string]bool)
	dueAt := make(map[string]time.Time)
	var failure *ExecutorError

	cancelCh := e.wctx.Cancelled()
	doneCh := ctx.Done()

	for {
		cancelled := e.wctx.CancelRequested()
		stopping := cancelled || failure != nil

		if !stopping {
			if err := e.dispatchReady(ctx, track, running, dueAt); err != nil {
				return err
			}
		}

		if len(running) == 0 {
			switch {
			case cancelled:
				return e.finish(ctx, model.ExecutionCancelled, nil)
			case failure != nil:
				return e.finish(ctx, model.ExecutionFailed, failure)
			case track.IsEmpty():
				return e.finish(ctx, model.ExecutionTerminated, nil)
			}
			if _, ok := earliestDue(track, running, dueAt); !ok {
				return fmt.Errorf("graph deadlock: %d tasks remaining but none ready", track.RemainingCount())
			}
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if !stopping {
			if due, ok := earliestDue(track, running, dueAt); ok {
				timer = time.NewTimer(time.Until(due))
				timerC = timer.C
			}
		}

		select {
		case n := <-e.notifications:
			e.handleNotification(ctx, n, track, running, dueAt, &failure)
		case <-cancelCh:
			cancelCh = nil // flag observed; stop selecting on it
		case <-timerC:
			// a retry became due; loop back to dispatch
		case <-doneCh:
			e.wctx.RequestCancel()
			doneCh = nil
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatchReady submits every eligible operation task and synthesizes
// completion for sentinels and stubs, cascading until no progress remains.
func (e *Engine) dispatchReady(ctx context.Context, track *tracker, running map[string]bool, dueAt map[string]time.Time) error {
	for progress := true; progress; {
		progress = false
		now := time.Now()
		for _, task := range track.Ready() {
			if running[task.ID] {
				continue
			}
			if due, ok := dueAt[task.ID]; ok && now.Before(due) {
				continue
			}
			if task.Kind != KindOperation {
				// Sentinels and stubs have no side effect and never
				// reach the executor.
				track.MarkCompleted(task.ID)
				progress = true
				continue
			}
			if err := e.dispatch(ctx, task); err != nil {
				return err
			}
			running[task.ID] = true
			delete(dueAt, task.ID)
		}
	}
	return nil
}

// dispatch creates the task record on first eligibility, transitions it to
// started, and submits the attempt to the executor.
func (e *Engine) dispatch(ctx context.Context, task *Task) error {
	op := task.Operation
	record := e.records[task.ID]
	created := false
	if record == nil {
		record = &model.TaskRecord{
			ID:            model.NewID(),
			ExecutionID:   e.wctx.ID,
			ActorID:       op.Actor.ActorID(),
			Function:      op.Implementation,
			Arguments:     op.Inputs(),
			Status:        model.TaskPending,
			MaxAttempts:   op.MaxAttempts,
			RetryInterval: op.RetryInterval,
			IgnoreFailure: op.IgnoreFailure,
			DueAt:         time.Now(),
		}
		e.records[task.ID] = record
		created = true
	}

	err := e.wctx.Model.InTransaction(ctx, func(tx storage.Store) error {
		if created {
			if err := tx.TaskRecords().Put(ctx, record); err != nil {
				return err
			}
		}
		if err := record.MarkStarted(); err != nil {
			return err
		}
		return tx.TaskRecords().Update(ctx, record)
	})
	if err != nil {
		return fmt.Errorf("start task record %s: %w", record.ID, err)
	}

	handle := &TaskHandle{
		Task:   task,
		OpCtx:  e.operationContext(task, record),
		Inputs: op.Inputs(),
		notify: func(n Notification) { e.notifications <- n },
	}
	if err := e.executor.Submit(handle); err != nil {
		// Submission failures route through the normal failure path so
		// retry policy applies.
		e.notifications <- Notification{TaskID: task.ID, Kind: TaskFailed, Err: fmt.Errorf("submit task: %w", err)}
	}
	e.metrics.dispatched()

	e.bus.Publish(events.Event{
		Signal:      events.SentTask,
		ExecutionID: e.wctx.ID,
		Workflow:    e.wctx.WorkflowName,
		TaskID:      task.ID,
	})
	e.logger.Debug("task dispatched",
		"execution_id", e.wctx.ID,
		"task_id", task.ID,
		"function", op.Implementation,
		"attempt", record.Attempts)
	return nil
}

func (e *Engine) handleNotification(ctx context.Context, n Notification, track *tracker, running map[string]bool, dueAt map[string]time.Time, failure **ExecutorError) {
	task, ok := e.graph.Task(n.TaskID)
	if !ok {
		e.logger.Warn("notification for unknown task", "task_id", n.TaskID)
		return
	}

	switch n.Kind {
	case TaskStarted:
		e.logger.Debug("task running", "execution_id", e.wctx.ID, "task_id", n.TaskID)
		return

	case TaskSucceeded:
		delete(running, n.TaskID)
		e.metrics.finished(true)
		e.updateRecord(ctx, task, func(r *model.TaskRecord) error { return r.MarkSuccess() })
		track.MarkCompleted(n.TaskID)
		e.bus.Publish(events.Event{
			Signal:      events.OnSuccessTask,
			ExecutionID: e.wctx.ID,
			Workflow:    e.wctx.WorkflowName,
			TaskID:      n.TaskID,
		})

	case TaskFailed:
		delete(running, n.TaskID)
		e.metrics.finished(false)
		record := e.records[n.TaskID]
		e.bus.Publish(events.Event{
			Signal:      events.OnFailureTask,
			ExecutionID: e.wctx.ID,
			Workflow:    e.wctx.WorkflowName,
			TaskID:      n.TaskID,
			Err:         n.Err,
		})

		op := task.Operation
		switch {
		case op.IgnoreFailure:
			// A failed attempt counts as success immediately; no retry.
			e.updateRecord(ctx, task, func(r *model.TaskRecord) error { return r.MarkFailed(errText(n.Err)) })
			track.MarkCompleted(n.TaskID)
			e.logger.Info("task failure ignored",
				"execution_id", e.wctx.ID,
				"task_id", n.TaskID,
				"error", n.Err)

		case !record.AttemptsExhausted():
			due := time.Now().Add(record.RetryInterval)
			e.updateRecord(ctx, task, func(r *model.TaskRecord) error { return r.MarkRetrying(due) })
			dueAt[n.TaskID] = due
			e.metrics.retried()
			e.logger.Info("task retrying",
				"execution_id", e.wctx.ID,
				"task_id", n.TaskID,
				"attempt", record.Attempts,
				"due_at", due.Format(time.RFC3339),
				"error", n.Err)

		default:
			e.updateRecord(ctx, task, func(r *model.TaskRecord) error { return r.MarkFailed(errText(n.Err)) })
			*failure = &ExecutorError{
				TaskID:    n.TaskID,
				Function:  op.Implementation,
				Err:       n.Err,
				Traceback: n.Traceback,
			}
			e.logger.Error("task failed terminally",
				"execution_id", e.wctx.ID,
				"task_id", n.TaskID,
				"attempts", record.Attempts,
				"error", n.Err)
		}
	}
}

// updateRecord applies a transition to the in-memory shadow and persists it
// in one store transaction.
func (e *Engine) updateRecord(ctx context.Context, task *Task, transition func(*model.TaskRecord) error) {
	record := e.records[task.ID]
	if record == nil {
		return
	}
	err := e.wctx.Model.InTransaction(ctx, func(tx storage.Store) error {
		if err := transition(record); err != nil {
			return err
		}
		return tx.TaskRecords().Update(ctx, record)
	})
	if err != nil {
		e.logger.Error("update task record",
			"execution_id", e.wctx.ID,
			"task_id", task.ID,
			"error", err)
	}
}

func (e *Engine) operationContext(task *Task, record *model.TaskRecord) *workflow.OperationContext {
	op := task.Operation
	octx := &workflow.OperationContext{
		Context:      e.wctx,
		TaskRecordID: record.ID,
		ActorID:      op.Actor.ActorID(),
		ActorKind:    op.Actor.ActorKind(),
		NodeID:       op.Actor.ActorID(),
	}
	if op.Plugin != nil {
		octx.PluginName = op.Plugin.Name
	}
	if rel, ok := op.Actor.(*model.Relationship); ok {
		octx.SourceNodeID = rel.SourceNodeID
		octx.TargetNodeID = rel.TargetNodeID
		if op.RunsOn == model.RunsOnTarget {
			octx.NodeID = rel.TargetNodeID
		} else {
			octx.NodeID = rel.SourceNodeID
		}
	}
	return octx
}

// finish records the terminal status and publishes the matching workflow
// signal. Exactly one of the three terminal signals fires per run.
func (e *Engine) finish(ctx context.Context, status model.ExecutionStatus, failure *ExecutorError) error {
	if err := e.transitionExecution(ctx, status, failureText(failure)); err != nil {
		return err
	}
	e.metrics.terminal(string(status))

	event := events.Event{
		ExecutionID: e.wctx.ID,
		Workflow:    e.wctx.WorkflowName,
	}
	switch status {
	case model.ExecutionTerminated:
		event.Signal = events.OnSuccessWorkflow
	case model.ExecutionFailed:
		event.Signal = events.OnFailureWorkflow
		event.Err = failure
	case model.ExecutionCancelled:
		event.Signal = events.OnCancelledWorkflow
	}
	e.bus.Publish(event)
	e.logger.Info("execution finished",
		"execution_id", e.wctx.ID,
		"workflow", e.wctx.WorkflowName,
		"status", status)

	if failure != nil {
		return failure
	}
	return nil
}

func (e *Engine) transitionExecution(ctx context.Context, status model.ExecutionStatus, errText string) error {
	return e.wctx.Model.InTransaction(ctx, func(tx storage.Store) error {
		execution, err := tx.Executions().Get(ctx, e.wctx.ID)
		if err != nil {
			return fmt.Errorf("load execution record: %w", err)
		}
		if err := execution.Transition(status); err != nil {
			return err
		}
		execution.Error = errText
		return tx.Executions().Update(ctx, execution)
	})
}

// earliestDue returns the soonest due time among ready-but-deferred tasks.
func earliestDue(track *tracker, running map[string]bool, dueAt map[string]time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, task := range track.Ready() {
		if running[task.ID] {
			continue
		}
		due, ok := dueAt[task.ID]
		if !ok {
			continue
		}
		if !found || due.Before(earliest) {
			earliest = due
			found = true
		}
	}
	return earliest, found
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func failureText(failure *ExecutorError) string {
	if failure == nil {
		return ""
	}
	return failure.Error()
}
