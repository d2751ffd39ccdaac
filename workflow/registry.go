package workflow

import (
	"fmt"
	"sync"
)

// Built-in workflow names. Policy-defined workflows may not shadow these.
var builtinNames = map[string]bool{
	"install":           true,
	"uninstall":         true,
	"start":             true,
	"stop":              true,
	"heal":              true,
	"execute_operation": true,
}

// Argument names bound by the engine; workflow inputs may not use them.
var reservedArguments = map[string]bool{
	"ctx":   true,
	"graph": true,
}

// Registry maps workflow names to workflow functions. The built-in
// workflows are registered on construction.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]WorkflowFunc
}

// NewRegistry creates a registry pre-populated with the built-in workflows.
func NewRegistry() *Registry {
	r := &Registry{fns: make(map[string]WorkflowFunc)}
	r.fns["install"] = Install
	r.fns["uninstall"] = Uninstall
	r.fns["start"] = StartNodes
	r.fns["stop"] = StopNodes
	r.fns["heal"] = Heal
	r.fns["execute_operation"] = ExecuteOperation
	return r
}

// Register adds a policy-defined workflow. Built-in names are reserved.
func (r *Registry) Register(name string, fn WorkflowFunc) error {
	if builtinNames[name] {
		return fmt.Errorf("%w: %q is a built-in workflow", ErrReservedName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[name]; ok {
		return fmt.Errorf("workflow %q already registered", name)
	}
	r.fns[name] = fn
	return nil
}

// Lookup returns the workflow function registered under name.
func (r *Registry) Lookup(name string) (WorkflowFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
	return fn, nil
}

// Names returns every registered workflow name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	return names
}

// ValidateInputs rejects workflow inputs that use reserved argument names.
func ValidateInputs(inputs map[string]any) error {
	for name := range inputs {
		if reservedArguments[name] {
			return fmt.Errorf("%w: input %q collides with a reserved argument", ErrReservedName, name)
		}
	}
	return nil
}
