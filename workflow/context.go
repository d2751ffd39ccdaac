package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/resource"
	"github.com/apache/incubator-ariatosca-sub004/storage"
)

// PluginResolver validates and resolves operation implementations. The
// plugin registry satisfies this; workflow code only needs the interface.
type PluginResolver interface {
	// HasPlugin reports whether the named plugin is installed.
	HasPlugin(spec model.PluginSpec) bool

	// Resolve returns the operation function registered for the
	// implementation path inside the plugin.
	Resolve(spec model.PluginSpec, implementation string) (OperationFunc, error)
}

// OperationFunc is the signature of an operation implementation. Inputs are
// the operation's declared inputs merged with per-task overrides.
type OperationFunc func(ctx *OperationContext, inputs map[string]any) error

// WorkflowFunc builds an API task graph. It receives a fresh graph and the
// execution's context and populates the graph by side effect.
type WorkflowFunc func(ctx *Context, graph *TaskGraph, inputs map[string]any) error

// Context is the per-execution state carrier passed to workflow functions
// and, embedded in OperationContext, to operation functions.
type Context struct {
	// ID is the execution id.
	ID                string
	WorkflowName      string
	ServiceInstanceID string
	Parameters        map[string]any

	Model    storage.Store
	Resource resource.Store
	Plugins  PluginResolver
	Logger   *slog.Logger

	// WorkDir is the root under which per-plugin working directories are
	// created on demand.
	WorkDir string

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// ContextOptions configures NewContext.
type ContextOptions struct {
	ServiceInstanceID string
	Parameters        map[string]any
	Resource          resource.Store
	Plugins           PluginResolver
	Logger            *slog.Logger
	WorkDir           string
}

// NewContext creates a context for one execution of the named workflow. The
// context id is the execution id.
func NewContext(workflowName string, store storage.Store, opts ContextOptions) *Context {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		ID:                model.NewID(),
		WorkflowName:      workflowName,
		ServiceInstanceID: opts.ServiceInstanceID,
		Parameters:        opts.Parameters,
		Model:             store,
		Resource:          opts.Resource,
		Plugins:           opts.Plugins,
		Logger:            logger,
		WorkDir:           opts.WorkDir,
		cancelCh:          make(chan struct{}),
	}
}

// RequestCancel sets the cooperative cancellation flag. Safe to call more
// than once.
func (c *Context) RequestCancel() {
	c.cancelOnce.Do(func() { close(c.cancelCh) })
}

// Cancelled returns a channel closed when cancellation has been requested.
func (c *Context) Cancelled() <-chan struct{} { return c.cancelCh }

// CancelRequested reports whether cancellation has been requested.
func (c *Context) CancelRequested() bool {
	select {
	case <-c.cancelCh:
		return true
	default:
		return false
	}
}

// ServiceInstance fetches the resolved service instance handle.
func (c *Context) ServiceInstance(ctx context.Context) (*model.ServiceInstance, error) {
	return c.Model.ServiceInstances().Get(ctx, c.ServiceInstanceID)
}

// OperationContext is the context handed to one operation attempt. It is
// constructed per attempt; the task record must be re-fetched by id rather
// than shared across goroutines.
type OperationContext struct {
	*Context

	TaskRecordID string
	ActorID      string
	ActorKind    model.ActorKind

	// NodeID is the node the operation runs on: the actor itself for node
	// operations, the runs-on binding (source or target) for relationship
	// operations.
	NodeID string

	// Source and target node ids, set for relationship operations.
	SourceNodeID string
	TargetNodeID string

	PluginName string
}

// TaskRecord re-fetches this attempt's task record.
func (o *OperationContext) TaskRecord(ctx context.Context) (*model.TaskRecord, error) {
	return o.Model.TaskRecords().Get(ctx, o.TaskRecordID)
}

// Node fetches the node this operation runs on.
func (o *OperationContext) Node(ctx context.Context) (*model.Node, error) {
	return o.Model.Nodes().Get(ctx, o.NodeID)
}

// Attributes returns an instrumented view of the acting node's attributes;
// writes route through the model store transactionally.
func (o *OperationContext) Attributes() *storage.InstrumentedMap {
	return storage.NodeAttributes(o.Model, o.NodeID)
}

// PluginWorkDir returns the per-plugin working directory, creating it on
// first use.
func (o *OperationContext) PluginWorkDir() (string, error) {
	root := o.WorkDir
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "plugins", o.PluginName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create plugin workdir: %w", err)
	}
	return dir, nil
}

// currentStack is the scoped current-context stack. Task constructors use it
// to discover the active workflow context without explicit plumbing.
var currentStack struct {
	mu    sync.Mutex
	stack []*Context
}

// PushContext makes ctx the current context and returns a release function
// that restores the previous top. Callers must release on all exit paths:
//
//	release := workflow.PushContext(ctx)
//	defer release()
func PushContext(ctx *Context) (release func()) {
	currentStack.mu.Lock()
	currentStack.stack = append(currentStack.stack, ctx)
	currentStack.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			currentStack.mu.Lock()
			defer currentStack.mu.Unlock()
			// Pop the topmost occurrence of ctx; scopes release in
			// reverse order of entry.
			for i := len(currentStack.stack) - 1; i >= 0; i-- {
				if currentStack.stack[i] == ctx {
					currentStack.stack = append(currentStack.stack[:i], currentStack.stack[i+1:]...)
					return
				}
			}
		})
	}
}

// CurrentContext returns the context at the top of the scope stack.
func CurrentContext() (*Context, error) {
	currentStack.mu.Lock()
	defer currentStack.mu.Unlock()
	if len(currentStack.stack) == 0 {
		return nil, ErrContextMissing
	}
	return currentStack.stack[len(currentStack.stack)-1], nil
}
