package execution

import (
	"sync"
)

// tracker follows dispatch progress over an execution graph: which tasks are
// still blocked, which are ready, and how many remain. All methods are safe
// for concurrent use.
type tracker struct {
	mu        sync.Mutex
	graph     *Graph
	inDegree  map[string]int // number of unmet dependencies
	completed map[string]bool
}

func newTracker(graph *Graph) *tracker {
	t := &tracker{
		graph:     graph,
		inDegree:  make(map[string]int, graph.Len()),
		completed: make(map[string]bool, graph.Len()),
	}
	for _, task := range graph.Tasks() {
		t.inDegree[task.ID] = len(graph.Dependencies(task.ID))
	}
	return t
}

// Ready returns all tasks whose dependencies have completed, in graph
// creation order.
func (t *tracker) Ready() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ready []*Task
	for _, task := range t.graph.Tasks() {
		if !t.completed[task.ID] && t.inDegree[task.ID] == 0 {
			ready = append(ready, task)
		}
	}
	return ready
}

// MarkCompleted marks a task done and returns the newly unblocked tasks.
func (t *tracker) MarkCompleted(id string) []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed[id] {
		return nil
	}
	t.completed[id] = true

	var newlyReady []*Task
	for _, dependent := range t.graph.Dependents(id) {
		t.inDegree[dependent]--
		if t.inDegree[dependent] == 0 {
			if task, ok := t.graph.Task(dependent); ok {
				newlyReady = append(newlyReady, task)
			}
		}
	}
	return newlyReady
}

// IsEmpty reports whether every task has completed.
func (t *tracker) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.completed) == t.graph.Len()
}

// RemainingCount returns the number of tasks not yet completed.
func (t *tracker) RemainingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.graph.Len() - len(t.completed)
}
