// Package plugin manages operation implementations. A plugin is a named
// bundle of operation functions addressed by implementation path; plugins
// providing external executables (for the subprocess executor) register
// command paths instead of functions.
package plugin

import (
	"fmt"
	"sync"

	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

// Plugin is one installed plugin.
type Plugin struct {
	Name    string
	Version string

	operations  map[string]workflow.OperationFunc
	executables map[string]string
}

// New creates an empty plugin.
func New(name, version string) *Plugin {
	return &Plugin{
		Name:        name,
		Version:     version,
		operations:  make(map[string]workflow.OperationFunc),
		executables: make(map[string]string),
	}
}

// RegisterOperation binds an in-process operation function to an
// implementation path (e.g. "scripts.configure").
func (p *Plugin) RegisterOperation(implementation string, fn workflow.OperationFunc) *Plugin {
	p.operations[implementation] = fn
	return p
}

// RegisterExecutable binds an external command to an implementation path.
// These run through the subprocess executor.
func (p *Plugin) RegisterExecutable(implementation, command string) *Plugin {
	p.executables[implementation] = command
	return p
}

// Registry holds the installed plugins. All methods are safe for concurrent
// use; the watcher swaps plugin sets while workflows construct tasks.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// Compile-time check that Registry satisfies the resolver contract task
// construction validates against.
var _ workflow.PluginResolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*Plugin)}
}

// Register installs a plugin. Re-registering a name replaces it.
func (r *Registry) Register(p *Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Name] = p
}

// Remove uninstalls a plugin by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, name)
}

// HasPlugin implements workflow.PluginResolver.
func (r *Registry) HasPlugin(spec model.PluginSpec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[spec.Name]
	if !ok {
		return false
	}
	return spec.Version == "" || spec.Version == p.Version
}

// Resolve implements workflow.PluginResolver.
func (r *Registry) Resolve(spec model.PluginSpec, implementation string) (workflow.OperationFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrPluginNotFound, spec.Name)
	}
	fn, ok := p.operations[implementation]
	if !ok {
		return nil, fmt.Errorf("%w: implementation %q in plugin %s", model.ErrOperationNotFound, implementation, spec.Name)
	}
	return fn, nil
}

// ResolveExecutable returns the external command bound to an implementation
// path, for the subprocess executor.
func (r *Registry) ResolveExecutable(spec model.PluginSpec, implementation string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[spec.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrPluginNotFound, spec.Name)
	}
	command, ok := p.executables[implementation]
	if !ok {
		return "", fmt.Errorf("%w: executable %q in plugin %s", model.ErrOperationNotFound, implementation, spec.Name)
	}
	return command, nil
}

// Names returns the installed plugin names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}
