package execution_test

import (
	"testing"

	"github.com/apache/incubator-ariatosca-sub004/execution"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

func noop(*workflow.OperationContext, map[string]any) error { return nil }

// kindTask returns the single task of the given kind, failing on zero or
// multiple matches.
func kindTask(t *testing.T, g *execution.Graph, kind execution.Kind) *execution.Task {
	t.Helper()
	var found *execution.Task
	for _, task := range g.Tasks() {
		if task.Kind == kind {
			if found != nil {
				t.Fatalf("multiple %s tasks", kind)
			}
			found = task
		}
	}
	if found == nil {
		t.Fatalf("no %s task", kind)
	}
	return found
}

func TestTranslate_EmptyGraphHasSentinels(t *testing.T) {
	h := newHarness(t)

	g, err := execution.Translate(h.Graph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("expected start + end, got %d tasks", g.Len())
	}
	start, _ := g.Task(g.Start())
	end, _ := g.Task(g.End())
	if start.Kind != execution.KindStartWorkflow || end.Kind != execution.KindEndWorkflow {
		t.Errorf("unexpected sentinel kinds: %s, %s", start.Kind, end.Kind)
	}
	if !g.Precedes(g.Start(), g.End()) {
		t.Error("start must precede end")
	}
}

func TestTranslate_PreservesOperationOrder(t *testing.T) {
	h := newHarness(t)
	op1 := h.op("one", noop)
	op2 := h.op("two", noop)
	op3 := h.op("three", noop)
	if _, err := h.Graph.Sequence(op1, op2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.Graph.AddTasks(op3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g, err := execution.Translate(h.Graph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Between operations, the execution order mirrors the API order.
	if !g.Precedes(op1.ID(), op2.ID()) {
		t.Error("op1 must precede op2")
	}
	if g.Precedes(op2.ID(), op1.ID()) {
		t.Error("op2 must not precede op1")
	}
	if g.Precedes(op1.ID(), op3.ID()) || g.Precedes(op3.ID(), op1.ID()) {
		t.Error("unrelated operations must stay unordered")
	}

	// Sentinels bracket everything.
	for _, id := range []string{op1.ID(), op2.ID(), op3.ID()} {
		if !g.Precedes(g.Start(), id) {
			t.Errorf("start must precede %s", id)
		}
		if !g.Precedes(id, g.End()) {
			t.Errorf("%s must precede end", id)
		}
	}
}

func TestTranslate_SubWorkflowExpansion(t *testing.T) {
	h := newHarness(t)

	before := h.op("before", noop)
	after := h.op("after", noop)

	var op1, op2 *workflow.OperationTask
	sub, err := workflow.NewWorkflowTask("sub", func(ctx *workflow.Context, g *workflow.TaskGraph, _ map[string]any) error {
		op1 = h.op("sub-one", noop)
		op2 = h.op("sub-two", noop)
		stub := workflow.NewStubTask()
		_, err := g.Sequence(op1, stub, op2)
		return err
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.Graph.Sequence(before, sub, after); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g, err := execution.Translate(h.Graph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	startW := kindTask(t, g, execution.KindStartWorkflow)
	endW := kindTask(t, g, execution.KindEndWorkflow)
	startSub := kindTask(t, g, execution.KindStartSubWorkflow)
	endSub := kindTask(t, g, execution.KindEndSubWorkflow)

	// StartW, before, StartSub, op1, op2, EndSub, after, EndW.
	chain := []string{
		startW.ID, before.ID(), startSub.ID, op1.ID(), op2.ID(), endSub.ID, after.ID(), endW.ID,
	}
	for i := 0; i < len(chain)-1; i++ {
		if !g.Precedes(chain[i], chain[i+1]) {
			t.Errorf("chain position %d: %s must precede %s", i, chain[i], chain[i+1])
		}
	}

	// The stub survives as a node inside the sub-scope.
	stubs := 0
	for _, task := range g.Tasks() {
		if task.Kind == execution.KindStub {
			stubs++
		}
	}
	if stubs != 1 {
		t.Errorf("expected 1 stub node, got %d", stubs)
	}
}

func TestTranslate_TopologicalOrderIsComplete(t *testing.T) {
	h := newHarness(t)
	op1 := h.op("one", noop)
	op2 := h.op("two", noop)
	if _, err := h.Graph.Sequence(op1, op2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g, err := execution.Translate(h.Graph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order := g.TopologicalOrder()
	if len(order) != g.Len() {
		t.Fatalf("order is not a permutation: %d of %d", len(order), g.Len())
	}
	position := make(map[string]int, len(order))
	for i, task := range order {
		position[task.ID] = i
	}
	for _, task := range g.Tasks() {
		for _, dep := range g.Dependencies(task.ID) {
			if position[dep] >= position[task.ID] {
				t.Errorf("dependency %s ordered after %s", dep, task.ID)
			}
		}
	}
}
