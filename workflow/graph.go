package workflow

import (
	"fmt"

	"github.com/apache/incubator-ariatosca-sub004/model"
)

// TaskGraph is the user-level DAG a workflow function populates. Nodes are
// tasks, edges are "depends-on": a dependent may only start after all of its
// dependencies have terminated successfully. Edges are kept as id -> id and
// resolved through the task table.
//
// TaskGraph is not safe for concurrent use; a workflow function builds it on
// one goroutine, after which it is logically frozen.
type TaskGraph struct {
	id   string
	name string

	tasks map[string]Task
	order []string // insertion order, for deterministic traversal

	dependencies map[string]map[string]struct{} // dependent -> dependencies
	dependents   map[string]map[string]struct{} // dependency -> dependents
}

// NewTaskGraph creates an empty graph.
func NewTaskGraph(name string) *TaskGraph {
	return &TaskGraph{
		id:           model.NewID(),
		name:         name,
		tasks:        make(map[string]Task),
		dependencies: make(map[string]map[string]struct{}),
		dependents:   make(map[string]map[string]struct{}),
	}
}

// ID returns the graph's unique id.
func (g *TaskGraph) ID() string { return g.id }

// Name returns the graph's workflow name.
func (g *TaskGraph) Name() string { return g.name }

// Len returns the number of member tasks.
func (g *TaskGraph) Len() int { return len(g.tasks) }

// AddTasks adds tasks to the graph. Arguments may be Tasks or arbitrarily
// nested slices of them; nil entries are filtered. Returns the tasks
// actually added (already-member tasks are skipped).
func (g *TaskGraph) AddTasks(items ...any) ([]Task, error) {
	tasks, err := flatten(items)
	if err != nil {
		return nil, err
	}
	added := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := g.tasks[t.ID()]; ok {
			continue
		}
		g.tasks[t.ID()] = t
		g.order = append(g.order, t.ID())
		g.dependencies[t.ID()] = make(map[string]struct{})
		g.dependents[t.ID()] = make(map[string]struct{})
		added = append(added, t)
	}
	return added, nil
}

// RemoveTasks removes tasks and their incident edges. Arguments flatten like
// AddTasks. Returns the tasks actually removed.
func (g *TaskGraph) RemoveTasks(items ...any) ([]Task, error) {
	tasks, err := flatten(items)
	if err != nil {
		return nil, err
	}
	removed := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		id := t.ID()
		if _, ok := g.tasks[id]; !ok {
			continue
		}
		for dep := range g.dependencies[id] {
			delete(g.dependents[dep], id)
		}
		for dependent := range g.dependents[id] {
			delete(g.dependencies[dependent], id)
		}
		delete(g.dependencies, id)
		delete(g.dependents, id)
		delete(g.tasks, id)
		for i, oid := range g.order {
			if oid == id {
				g.order = append(g.order[:i], g.order[i+1:]...)
				break
			}
		}
		removed = append(removed, t)
	}
	return removed, nil
}

// HasTasks reports whether every given task is a member.
func (g *TaskGraph) HasTasks(tasks ...Task) bool {
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if _, ok := g.tasks[t.ID()]; !ok {
			return false
		}
	}
	return true
}

// GetTask returns the member task with the given id.
func (g *TaskGraph) GetTask(id string) (Task, error) {
	t, ok := g.tasks[id]
	if !ok {
		return nil, &TaskNotInGraphError{TaskID: id}
	}
	return t, nil
}

// Tasks returns all member tasks in insertion order.
func (g *TaskGraph) Tasks() []Task {
	out := make([]Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// AddDependency records that dependent may only start after dependency
// terminates. Returns false without error when the pair is already linked.
// Self-edges and edges that would create a cycle are rejected.
func (g *TaskGraph) AddDependency(dependent, dependency Task) (bool, error) {
	if err := g.checkMembers(dependent, dependency); err != nil {
		return false, err
	}
	if dependent.ID() == dependency.ID() {
		return false, ErrSelfDependency
	}
	if _, ok := g.dependencies[dependent.ID()][dependency.ID()]; ok {
		return false, nil
	}
	if g.reachable(dependency.ID(), dependent.ID()) {
		return false, fmt.Errorf("%w: %s -> %s", ErrCycle, dependent.ID(), dependency.ID())
	}
	g.dependencies[dependent.ID()][dependency.ID()] = struct{}{}
	g.dependents[dependency.ID()][dependent.ID()] = struct{}{}
	return true, nil
}

// HasDependency reports whether the direct edge exists.
func (g *TaskGraph) HasDependency(dependent, dependency Task) (bool, error) {
	if err := g.checkMembers(dependent, dependency); err != nil {
		return false, err
	}
	_, ok := g.dependencies[dependent.ID()][dependency.ID()]
	return ok, nil
}

// RemoveDependency removes the direct edge. Returns false without error when
// the edge does not exist.
func (g *TaskGraph) RemoveDependency(dependent, dependency Task) (bool, error) {
	if err := g.checkMembers(dependent, dependency); err != nil {
		return false, err
	}
	if _, ok := g.dependencies[dependent.ID()][dependency.ID()]; !ok {
		return false, nil
	}
	delete(g.dependencies[dependent.ID()], dependency.ID())
	delete(g.dependents[dependency.ID()], dependent.ID())
	return true, nil
}

// GetDependencies returns the tasks t directly depends on.
func (g *TaskGraph) GetDependencies(t Task) ([]Task, error) {
	if err := g.checkMembers(t); err != nil {
		return nil, err
	}
	return g.collect(g.dependencies[t.ID()]), nil
}

// GetDependents returns the tasks directly depending on t.
func (g *TaskGraph) GetDependents(t Task) ([]Task, error) {
	if err := g.checkMembers(t); err != nil {
		return nil, err
	}
	return g.collect(g.dependents[t.ID()]), nil
}

// Sequence adds the given tasks (flattened like AddTasks) and links each to
// the previous one, so they execute in order.
func (g *TaskGraph) Sequence(items ...any) ([]Task, error) {
	tasks, err := flatten(items)
	if err != nil {
		return nil, err
	}
	if _, err := g.AddTasks(items...); err != nil {
		return nil, err
	}
	for i := 1; i < len(tasks); i++ {
		if _, err := g.AddDependency(tasks[i], tasks[i-1]); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// TopologicalOrder returns every task so that dependencies come before their
// dependents; reverse=true yields dependents first. Ties break by insertion
// order, keeping traversal deterministic.
func (g *TaskGraph) TopologicalOrder(reverse bool) []Task {
	degree := make(map[string]int, len(g.tasks))
	for id, deps := range g.dependencies {
		degree[id] = len(deps)
	}

	var order []Task
	var queue []string
	for _, id := range g.order {
		if degree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, g.tasks[id])
		// Visit dependents in insertion order for determinism.
		for _, oid := range g.order {
			if _, ok := g.dependents[id][oid]; !ok {
				continue
			}
			degree[oid]--
			if degree[oid] == 0 {
				queue = append(queue, oid)
			}
		}
	}

	if reverse {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return order
}

func (g *TaskGraph) checkMembers(tasks ...Task) error {
	for _, t := range tasks {
		if t == nil {
			return &TaskNotInGraphError{TaskID: "<nil>"}
		}
		if _, ok := g.tasks[t.ID()]; !ok {
			return &TaskNotInGraphError{TaskID: t.ID()}
		}
	}
	return nil
}

// reachable reports whether `to` is reachable from `from` following
// dependency edges.
func (g *TaskGraph) reachable(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dep := range g.dependencies[id] {
			if dep == to {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

func (g *TaskGraph) collect(ids map[string]struct{}) []Task {
	out := make([]Task, 0, len(ids))
	for _, oid := range g.order {
		if _, ok := ids[oid]; ok {
			out = append(out, g.tasks[oid])
		}
	}
	return out
}

// flatten recursively expands nested slices and filters nil entries.
func flatten(items []any) ([]Task, error) {
	var out []Task
	for _, item := range items {
		switch v := item.(type) {
		case nil:
		case Task:
			out = append(out, v)
		case []any:
			nested, err := flatten(v)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case []Task:
			for _, t := range v {
				if t != nil {
					out = append(out, t)
				}
			}
		default:
			return nil, fmt.Errorf("cannot add %T to task graph", item)
		}
	}
	return out, nil
}
