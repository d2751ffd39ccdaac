package workflow

import (
	"errors"
	"fmt"
)

// Common workflow errors.
var (
	// ErrContextMissing is returned when a construct that relies on the
	// scoped current context is invoked outside any scope.
	ErrContextMissing = errors.New("no workflow context in scope")

	// ErrSelfDependency is returned when a task is made to depend on
	// itself.
	ErrSelfDependency = errors.New("task cannot depend on itself")

	// ErrCycle is returned when adding a dependency would create a cycle.
	ErrCycle = errors.New("dependency would create a cycle")

	// ErrReservedName is returned when a workflow registration shadows a
	// built-in name or uses a reserved argument name.
	ErrReservedName = errors.New("name is reserved")
)

// TaskNotInGraphError reports a graph operation referencing a task that is
// not a member of the graph.
type TaskNotInGraphError struct {
	TaskID string
}

func (e *TaskNotInGraphError) Error() string {
	return fmt.Sprintf("task %s is not in the graph", e.TaskID)
}

// IsTaskNotInGraph reports whether err is a TaskNotInGraphError.
func IsTaskNotInGraph(err error) bool {
	var target *TaskNotInGraphError
	return errors.As(err, &target)
}
