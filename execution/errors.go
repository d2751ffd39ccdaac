package execution

import "fmt"

// ExecutorError is the terminal wrapper for an operation failure. It carries
// the underlying error and the traceback text reported by the executor, and
// is the error surfaced at workflow level when retries are exhausted.
type ExecutorError struct {
	TaskID    string
	Function  string
	Err       error
	Traceback string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("task %s (%s) failed: %v", e.TaskID, e.Function, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }
