package workflow

import (
	"errors"
	"testing"
)

func TestTaskGraph_AddTasksFlattens(t *testing.T) {
	g := NewTaskGraph("test")
	a, b, c := NewStubTask(), NewStubTask(), NewStubTask()

	added, err := g.AddTasks(a, []any{b, nil, []Task{c}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 3 {
		t.Fatalf("expected 3 added, got %d", len(added))
	}
	if g.Len() != 3 {
		t.Errorf("expected 3 members, got %d", g.Len())
	}

	// Re-adding is a no-op.
	added, err = g.AddTasks(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("expected 0 re-added, got %d", len(added))
	}
}

func TestTaskGraph_AddTasksRejectsNonTasks(t *testing.T) {
	g := NewTaskGraph("test")
	if _, err := g.AddTasks("not a task"); err == nil {
		t.Error("expected error for non-task argument")
	}
}

func TestTaskGraph_GetTaskMissing(t *testing.T) {
	g := NewTaskGraph("test")
	_, err := g.GetTask("nope")
	if !IsTaskNotInGraph(err) {
		t.Errorf("expected TaskNotInGraphError, got %v", err)
	}
}

func TestTaskGraph_Dependencies(t *testing.T) {
	g := NewTaskGraph("test")
	a, b := NewStubTask(), NewStubTask()
	if _, err := g.AddTasks(a, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created, err := g.AddDependency(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected edge to be created")
	}

	// Duplicate edge: no error, not created.
	created, err = g.AddDependency(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("duplicate edge should not be re-created")
	}

	has, err := g.HasDependency(b, a)
	if err != nil || !has {
		t.Errorf("expected edge to exist (err=%v)", err)
	}

	deps, err := g.GetDependencies(b)
	if err != nil || len(deps) != 1 || deps[0].ID() != a.ID() {
		t.Errorf("unexpected dependencies: %v (err=%v)", deps, err)
	}
	dependents, err := g.GetDependents(a)
	if err != nil || len(dependents) != 1 || dependents[0].ID() != b.ID() {
		t.Errorf("unexpected dependents: %v (err=%v)", dependents, err)
	}

	removed, err := g.RemoveDependency(b, a)
	if err != nil || !removed {
		t.Errorf("expected edge removed (err=%v)", err)
	}
	removed, err = g.RemoveDependency(b, a)
	if err != nil || removed {
		t.Errorf("removing absent edge should be a no-op (err=%v)", err)
	}
}

func TestTaskGraph_RejectsSelfDependency(t *testing.T) {
	g := NewTaskGraph("test")
	a := NewStubTask()
	if _, err := g.AddTasks(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.AddDependency(a, a); !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestTaskGraph_RejectsCycles(t *testing.T) {
	g := NewTaskGraph("test")
	a, b, c := NewStubTask(), NewStubTask(), NewStubTask()
	if _, err := g.AddTasks(a, b, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustLink(t, g, b, a)
	mustLink(t, g, c, b)

	if _, err := g.AddDependency(a, c); !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle, got %v", err)
	}
}

func TestTaskGraph_DependencyRequiresMembership(t *testing.T) {
	g := NewTaskGraph("test")
	a := NewStubTask()
	if _, err := g.AddTasks(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outsider := NewStubTask()
	if _, err := g.AddDependency(a, outsider); !IsTaskNotInGraph(err) {
		t.Errorf("expected TaskNotInGraphError, got %v", err)
	}
}

func TestTaskGraph_RemoveTasksDropsEdges(t *testing.T) {
	g := NewTaskGraph("test")
	a, b, c := NewStubTask(), NewStubTask(), NewStubTask()
	if _, err := g.AddTasks(a, b, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustLink(t, g, b, a)
	mustLink(t, g, c, b)

	removed, err := g.RemoveTasks(b)
	if err != nil || len(removed) != 1 {
		t.Fatalf("unexpected removal: %v (err=%v)", removed, err)
	}
	if g.HasTasks(b) {
		t.Error("b should no longer be a member")
	}
	deps, err := g.GetDependencies(c)
	if err != nil || len(deps) != 0 {
		t.Errorf("c should have no dependencies left: %v (err=%v)", deps, err)
	}
}

func TestTaskGraph_Sequence(t *testing.T) {
	g := NewTaskGraph("test")
	a, b, c := NewStubTask(), NewStubTask(), NewStubTask()

	seq, err := g.Sequence(a, []any{b, c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seq) != 3 {
		t.Fatalf("expected 3 sequenced tasks, got %d", len(seq))
	}
	for i := 1; i < len(seq); i++ {
		has, err := g.HasDependency(seq[i], seq[i-1])
		if err != nil || !has {
			t.Errorf("missing sequence edge %d -> %d (err=%v)", i, i-1, err)
		}
	}
}

func TestTaskGraph_TopologicalOrderRespectsEdges(t *testing.T) {
	g := NewTaskGraph("test")
	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = NewStubTask()
	}
	if _, err := g.AddTasks(tasks[0], tasks[1], tasks[2], tasks[3], tasks[4], tasks[5]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Diamond plus a tail: 0 -> {1,2} -> 3 -> 4, 5 free.
	mustLink(t, g, tasks[1], tasks[0])
	mustLink(t, g, tasks[2], tasks[0])
	mustLink(t, g, tasks[3], tasks[1])
	mustLink(t, g, tasks[3], tasks[2])
	mustLink(t, g, tasks[4], tasks[3])

	order := g.TopologicalOrder(false)
	if len(order) != g.Len() {
		t.Fatalf("order is not a permutation: %d of %d", len(order), g.Len())
	}
	position := make(map[string]int, len(order))
	for i, task := range order {
		position[task.ID()] = i
	}
	for _, task := range g.Tasks() {
		deps, err := g.GetDependencies(task)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, dep := range deps {
			if position[dep.ID()] >= position[task.ID()] {
				t.Errorf("dependency %s ordered after dependent %s", dep.ID(), task.ID())
			}
		}
	}

	reversed := g.TopologicalOrder(true)
	for i := range reversed {
		if reversed[i].ID() != order[len(order)-1-i].ID() {
			t.Fatal("reverse order is not the mirror of forward order")
		}
	}
}

func mustLink(t *testing.T, g *TaskGraph, dependent, dependency Task) {
	t.Helper()
	if _, err := g.AddDependency(dependent, dependency); err != nil {
		t.Fatalf("link failed: %v", err)
	}
}
