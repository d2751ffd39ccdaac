package workflow

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/storage"
)

// testNode builds a node exposing the given operations on the "test"
// interface, implementations named "test.<op>".
func testNode(name string, ops ...string) *model.Node {
	operations := make(map[string]*model.Operation, len(ops))
	for _, op := range ops {
		operations[op] = &model.Operation{
			Name:           op,
			Implementation: "test." + op,
		}
	}
	return &model.Node{
		ID:   model.NewID(),
		Name: name,
		Interfaces: map[string]*model.Interface{
			"test": {Name: "test", Operations: operations},
		},
	}
}

type fakeResolver struct {
	installed bool
}

func (f fakeResolver) HasPlugin(model.PluginSpec) bool { return f.installed }

func (f fakeResolver) Resolve(model.PluginSpec, string) (OperationFunc, error) {
	return nil, fmt.Errorf("not implemented")
}

func inScope(t *testing.T, ctx *Context) {
	t.Helper()
	release := PushContext(ctx)
	t.Cleanup(release)
}

func TestNewOperationTask_RequiresContext(t *testing.T) {
	node := testNode("web", "configure")
	if _, err := NewOperationTask(node, "test", "configure"); !errors.Is(err, ErrContextMissing) {
		t.Errorf("expected ErrContextMissing, got %v", err)
	}
}

func TestNewOperationTask_ResolvesOperation(t *testing.T) {
	inScope(t, newTestContext(t))
	node := testNode("web", "configure")

	task, err := NewOperationTask(node, "test", "configure")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Implementation != "test.configure" {
		t.Errorf("expected implementation test.configure, got %q", task.Implementation)
	}
	if task.MaxAttempts != 1 {
		t.Errorf("expected default max attempts 1, got %d", task.MaxAttempts)
	}
	if task.RunsOn != model.RunsOnNode {
		t.Errorf("expected default runs-on node, got %s", task.RunsOn)
	}
}

func TestNewOperationTask_UnknownOperation(t *testing.T) {
	inScope(t, newTestContext(t))
	node := testNode("web", "configure")

	if _, err := NewOperationTask(node, "test", "missing"); !errors.Is(err, model.ErrOperationNotFound) {
		t.Errorf("expected ErrOperationNotFound, got %v", err)
	}
	if _, err := NewOperationTask(node, "missing", "configure"); !errors.Is(err, model.ErrOperationNotFound) {
		t.Errorf("expected ErrOperationNotFound for unknown interface, got %v", err)
	}
}

func TestNewOperationTask_PluginValidation(t *testing.T) {
	node := testNode("web", "configure")
	node.Interfaces["test"].Operations["configure"].Plugin = &model.PluginSpec{Name: "scripts"}

	ctx := NewContext("test", storage.NewMemoryStore(), ContextOptions{
		Plugins: fakeResolver{installed: false},
	})
	inScope(t, ctx)

	if _, err := NewOperationTask(node, "test", "configure"); !errors.Is(err, model.ErrPluginNotFound) {
		t.Errorf("expected ErrPluginNotFound, got %v", err)
	}
}

func TestNewOperationTask_InputsMerge(t *testing.T) {
	inScope(t, newTestContext(t))
	node := testNode("web", "configure")
	node.Interfaces["test"].Operations["configure"].Inputs = map[string]model.Parameter{
		"port":    {Name: "port", Value: 80},
		"retries": {Name: "retries", Value: 3},
	}

	task, err := NewOperationTask(node, "test", "configure",
		WithInputs(map[string]any{"port": 8080, "extra": true}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inputs := task.Inputs()
	if inputs["port"] != 8080 {
		t.Errorf("override lost: %v", inputs["port"])
	}
	if inputs["retries"] != 3 {
		t.Errorf("declared default lost: %v", inputs["retries"])
	}
	if inputs["extra"] != true {
		t.Errorf("extra input lost: %v", inputs["extra"])
	}

	// Inputs() hands out a copy.
	inputs["port"] = 1
	if task.Inputs()["port"] != 8080 {
		t.Error("mutating the returned map changed the task's inputs")
	}
}

func TestNewOperationTask_RetryPolicyValidation(t *testing.T) {
	inScope(t, newTestContext(t))
	node := testNode("web", "configure")

	if _, err := NewOperationTask(node, "test", "configure", WithMaxAttempts(0)); err == nil {
		t.Error("expected error for max attempts 0")
	}
	if _, err := NewOperationTask(node, "test", "configure", WithMaxAttempts(-2)); err == nil {
		t.Error("expected error for max attempts -2")
	}
	if _, err := NewOperationTask(node, "test", "configure", WithMaxAttempts(model.InfiniteAttempts)); err != nil {
		t.Errorf("infinite attempts should be accepted: %v", err)
	}
	if _, err := NewOperationTask(node, "test", "configure", WithRetryInterval(-time.Second)); err == nil {
		t.Error("expected error for negative retry interval")
	}
}

func TestNewWorkflowTask_BuildsSubGraph(t *testing.T) {
	inScope(t, newTestContext(t))
	node := testNode("web", "configure")

	task, err := NewWorkflowTask("sub", func(ctx *Context, g *TaskGraph, inputs map[string]any) error {
		op, err := NewOperationTask(node, "test", "configure")
		if err != nil {
			return err
		}
		_, err = g.AddTasks(op)
		return err
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Graph().Len() != 1 {
		t.Errorf("expected 1 task in sub-graph, got %d", task.Graph().Len())
	}
}

func TestNewWorkflowTask_FailureDiscardsGraph(t *testing.T) {
	inScope(t, newTestContext(t))

	boom := fmt.Errorf("boom")
	_, err := NewWorkflowTask("sub", func(ctx *Context, g *TaskGraph, inputs map[string]any) error {
		_, _ = g.AddTasks(NewStubTask())
		return boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected workflow function error surfaced, got %v", err)
	}
}
