package execution

import (
	"fmt"

	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

// Graph is the execution graph: a DAG over execution tasks produced by
// Translate. Edges point dependent -> dependency, like the API graph.
type Graph struct {
	tasks map[string]*Task
	order []string

	dependencies map[string]map[string]struct{}
	dependents   map[string]map[string]struct{}

	start string
	end   string
}

func newGraph() *Graph {
	return &Graph{
		tasks:        make(map[string]*Task),
		dependencies: make(map[string]map[string]struct{}),
		dependents:   make(map[string]map[string]struct{}),
	}
}

// Translate produces the execution graph for an API graph: the root is
// wrapped in StartWorkflow/EndWorkflow sentinels, sub-workflows are inlined
// recursively between StartSubWorkflow/EndSubWorkflow sentinels, and every
// API dependency is preserved between the corresponding execution tasks.
func Translate(apiGraph *workflow.TaskGraph) (*Graph, error) {
	h := newGraph()
	start, end, err := h.translateScope(apiGraph, nil, true)
	if err != nil {
		return nil, err
	}
	h.start = start
	h.end = end
	return h, nil
}

// translateScope inlines one API graph between a pair of sentinels whose
// upstream dependencies are the already-translated tasks the scope follows.
func (h *Graph) translateScope(apiGraph *workflow.TaskGraph, upstream []string, root bool) (startID, endID string, err error) {
	startKind, endKind := KindStartSubWorkflow, KindEndSubWorkflow
	if root {
		startKind, endKind = KindStartWorkflow, KindEndWorkflow
	}

	startID = h.addTask(&Task{ID: model.NewID(), Kind: startKind, ScopeID: apiGraph.ID()})
	for _, dep := range upstream {
		h.addEdge(startID, dep)
	}

	// terminals maps an API task to the execution task(s) its dependents
	// must wait for.
	terminals := make(map[string][]string)
	hasDependents := make(map[string]bool)

	for _, apiTask := range apiGraph.TopologicalOrder(false) {
		apiDeps, err := apiGraph.GetDependencies(apiTask)
		if err != nil {
			return "", "", err
		}
		var deps []string
		for _, d := range apiDeps {
			deps = append(deps, terminals[d.ID()]...)
			hasDependents[d.ID()] = true
		}
		if len(deps) == 0 {
			deps = []string{startID}
		}

		switch t := apiTask.(type) {
		case *workflow.OperationTask:
			id := h.addTask(&Task{ID: t.ID(), Kind: KindOperation, ScopeID: apiGraph.ID(), Operation: t})
			for _, dep := range deps {
				h.addEdge(id, dep)
			}
			terminals[t.ID()] = []string{id}
		case *workflow.StubTask:
			id := h.addTask(&Task{ID: t.ID(), Kind: KindStub, ScopeID: apiGraph.ID()})
			for _, dep := range deps {
				h.addEdge(id, dep)
			}
			terminals[t.ID()] = []string{id}
		case *workflow.WorkflowTask:
			_, subEnd, err := h.translateScope(t.Graph(), deps, false)
			if err != nil {
				return "", "", err
			}
			terminals[t.ID()] = []string{subEnd}
		default:
			return "", "", fmt.Errorf("unknown task variant %T", apiTask)
		}
	}

	// The end sentinel depends on the scope's leaves, or on the start
	// sentinel when the scope is empty.
	var leaves []string
	for _, apiTask := range apiGraph.Tasks() {
		if !hasDependents[apiTask.ID()] {
			leaves = append(leaves, terminals[apiTask.ID()]...)
		}
	}
	if len(leaves) == 0 {
		leaves = []string{startID}
	}
	endID = h.addTask(&Task{ID: model.NewID(), Kind: endKind, ScopeID: apiGraph.ID()})
	for _, leaf := range leaves {
		h.addEdge(endID, leaf)
	}
	return startID, endID, nil
}

func (h *Graph) addTask(t *Task) string {
	h.tasks[t.ID] = t
	h.order = append(h.order, t.ID)
	h.dependencies[t.ID] = make(map[string]struct{})
	h.dependents[t.ID] = make(map[string]struct{})
	return t.ID
}

// addEdge records that dependent waits for dependency.
func (h *Graph) addEdge(dependent, dependency string) {
	h.dependencies[dependent][dependency] = struct{}{}
	h.dependents[dependency][dependent] = struct{}{}
}

// Len returns the task count.
func (h *Graph) Len() int { return len(h.tasks) }

// Start returns the root start sentinel id.
func (h *Graph) Start() string { return h.start }

// End returns the root end sentinel id.
func (h *Graph) End() string { return h.end }

// Task returns a task by id.
func (h *Graph) Task(id string) (*Task, bool) {
	t, ok := h.tasks[id]
	return t, ok
}

// Tasks returns every task in creation order.
func (h *Graph) Tasks() []*Task {
	out := make([]*Task, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.tasks[id])
	}
	return out
}

// Dependencies returns the ids a task waits for.
func (h *Graph) Dependencies(id string) []string {
	return h.sorted(h.dependencies[id])
}

// Dependents returns the ids waiting for a task.
func (h *Graph) Dependents(id string) []string {
	return h.sorted(h.dependents[id])
}

// TopologicalOrder returns all tasks, dependencies before dependents, ties
// broken by creation order.
func (h *Graph) TopologicalOrder() []*Task {
	degree := make(map[string]int, len(h.tasks))
	for id, deps := range h.dependencies {
		degree[id] = len(deps)
	}
	var order []*Task
	var queue []string
	for _, id := range h.order {
		if degree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, h.tasks[id])
		for _, oid := range h.order {
			if _, ok := h.dependents[id][oid]; !ok {
				continue
			}
			degree[oid]--
			if degree[oid] == 0 {
				queue = append(queue, oid)
			}
		}
	}
	return order
}

// Precedes reports whether a must terminate before b may start.
func (h *Graph) Precedes(a, b string) bool {
	if a == b {
		return false
	}
	seen := map[string]bool{a: true}
	stack := []string{a}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dependent := range h.dependents[id] {
			if dependent == b {
				return true
			}
			if !seen[dependent] {
				seen[dependent] = true
				stack = append(stack, dependent)
			}
		}
	}
	return false
}

func (h *Graph) sorted(ids map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, oid := range h.order {
		if _, ok := ids[oid]; ok {
			out = append(out, oid)
		}
	}
	return out
}
