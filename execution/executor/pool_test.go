package executor

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/incubator-ariatosca-sub004/execution"
	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/storage"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

type resolverFunc func(spec model.PluginSpec, implementation string) (workflow.OperationFunc, error)

func (f resolverFunc) Resolve(spec model.PluginSpec, implementation string) (workflow.OperationFunc, error) {
	return f(spec, implementation)
}

// fixedResolver always returns fn.
func fixedResolver(fn workflow.OperationFunc) resolverFunc {
	return func(model.PluginSpec, string) (workflow.OperationFunc, error) {
		return fn, nil
	}
}

// newOpTask declares one operation on a throwaway node and builds its API
// task under a temporary workflow context.
func newOpTask(t *testing.T, name string) *workflow.OperationTask {
	t.Helper()

	node := &model.Node{
		ID:   model.NewID(),
		Name: "node",
		Interfaces: map[string]*model.Interface{
			"test": {Name: "test", Operations: map[string]*model.Operation{
				name: {Name: name, Implementation: "test." + name},
			}},
		},
	}
	wctx := workflow.NewContext("pool-test", storage.NewMemoryStore(), workflow.ContextOptions{})
	release := workflow.PushContext(wctx)
	t.Cleanup(release)

	op, err := workflow.NewOperationTask(node, "test", name)
	if err != nil {
		t.Fatalf("build operation: %v", err)
	}
	return op
}

// newHandle wraps an operation in an execution task handle whose
// notifications land on the returned channel.
func newHandle(t *testing.T, name string) (*execution.TaskHandle, chan execution.Notification) {
	t.Helper()
	op := newOpTask(t, name)
	task := &execution.Task{ID: op.ID(), Kind: execution.KindOperation, Operation: op}
	notifications := make(chan execution.Notification, 4)
	handle := execution.NewTaskHandle(task, nil, op.Inputs(), func(n execution.Notification) {
		notifications <- n
	})
	return handle, notifications
}

// await reads notifications until a terminal one arrives.
func await(t *testing.T, ch chan execution.Notification) (started bool, terminal execution.Notification) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-ch:
			switch n.Kind {
			case execution.TaskStarted:
				started = true
			default:
				return started, n
			}
		case <-deadline:
			t.Fatal("no terminal notification")
		}
	}
}

func TestPool_Success(t *testing.T) {
	var calls atomic.Int32
	pool := NewPool(fixedResolver(func(*workflow.OperationContext, map[string]any) error {
		calls.Add(1)
		return nil
	}), PoolConfig{Size: 2})
	defer pool.Close()

	handle, notifications := newHandle(t, "ok")
	if err := pool.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	started, terminal := await(t, notifications)
	if !started {
		t.Error("expected a started notification before the terminal one")
	}
	if terminal.Kind != execution.TaskSucceeded {
		t.Errorf("expected success, got %v (%v)", terminal.Kind, terminal.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 invocation, got %d", calls.Load())
	}
}

func TestPool_OperationError(t *testing.T) {
	pool := NewPool(fixedResolver(func(*workflow.OperationContext, map[string]any) error {
		return fmt.Errorf("disk full")
	}), PoolConfig{Size: 1})
	defer pool.Close()

	handle, notifications := newHandle(t, "boom")
	if err := pool.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, terminal := await(t, notifications)
	if terminal.Kind != execution.TaskFailed {
		t.Fatalf("expected failure, got %v", terminal.Kind)
	}
	if terminal.Err == nil || !strings.Contains(terminal.Err.Error(), "disk full") {
		t.Errorf("operation error not propagated: %v", terminal.Err)
	}
}

func TestPool_PanicBecomesFailure(t *testing.T) {
	pool := NewPool(fixedResolver(func(*workflow.OperationContext, map[string]any) error {
		panic("implementation bug")
	}), PoolConfig{Size: 1})
	defer pool.Close()

	handle, notifications := newHandle(t, "panics")
	if err := pool.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, terminal := await(t, notifications)
	if terminal.Kind != execution.TaskFailed {
		t.Fatalf("expected failure, got %v", terminal.Kind)
	}
	if terminal.Err == nil || !strings.Contains(terminal.Err.Error(), "implementation bug") {
		t.Errorf("panic value not surfaced: %v", terminal.Err)
	}
	if terminal.Traceback == "" {
		t.Error("expected a stack traceback")
	}
}

func TestPool_ResolveError(t *testing.T) {
	pool := NewPool(resolverFunc(func(model.PluginSpec, string) (workflow.OperationFunc, error) {
		return nil, fmt.Errorf("not installed")
	}), PoolConfig{Size: 1})
	defer pool.Close()

	handle, notifications := newHandle(t, "missing")
	if err := pool.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, terminal := await(t, notifications)
	if terminal.Kind != execution.TaskFailed {
		t.Fatalf("expected failure, got %v", terminal.Kind)
	}
	if terminal.Err == nil || !strings.Contains(terminal.Err.Error(), "not installed") {
		t.Errorf("resolve error not propagated: %v", terminal.Err)
	}
}

func TestPool_ResolveSeesZeroSpecWithoutPlugin(t *testing.T) {
	var gotSpec model.PluginSpec
	pool := NewPool(resolverFunc(func(spec model.PluginSpec, _ string) (workflow.OperationFunc, error) {
		gotSpec = spec
		return func(*workflow.OperationContext, map[string]any) error { return nil }, nil
	}), PoolConfig{Size: 1})
	defer pool.Close()

	handle, notifications := newHandle(t, "unbound")
	if err := pool.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	await(t, notifications)

	if gotSpec.Name != "" {
		t.Errorf("expected zero plugin spec, got %+v", gotSpec)
	}
}

func TestPool_CloseWaitsForInFlight(t *testing.T) {
	var finished atomic.Bool
	pool := NewPool(fixedResolver(func(*workflow.OperationContext, map[string]any) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}), PoolConfig{Size: 1})

	handle, _ := newHandle(t, "slow")
	if err := pool.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !finished.Load() {
		t.Error("close returned before the in-flight attempt finished")
	}
}

func TestPool_ConcurrentSubmitAndClose(t *testing.T) {
	pool := NewPool(fixedResolver(func(*workflow.OperationContext, map[string]any) error { return nil }),
		PoolConfig{Size: 1, QueueDepth: 1})

	op := newOpTask(t, "racy")
	task := &execution.Task{ID: op.ID(), Kind: execution.KindOperation, Operation: op}
	handle := execution.NewTaskHandle(task, nil, nil, func(execution.Notification) {})

	// Submitters hammer the queue while Close shuts it; a send on the
	// closed queue would panic the submitter goroutine.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := pool.Submit(handle); err != nil {
					return
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	if err := pool.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wg.Wait()
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := NewPool(fixedResolver(func(*workflow.OperationContext, map[string]any) error { return nil }), PoolConfig{Size: 1})
	if err := pool.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handle, _ := newHandle(t, "late")
	if err := pool.Submit(handle); err == nil {
		t.Error("expected submit to fail after close")
	}
}
