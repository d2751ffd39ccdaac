package execution_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/apache/incubator-ariatosca-sub004/events"
	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/plugin"
	"github.com/apache/incubator-ariatosca-sub004/storage"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

const (
	testInterface = "test"
	testPlugin    = "test"
)

// harness assembles a store, a plugin registry, a workflow context, and an
// empty API graph for engine and translation tests. Operations are declared
// on one shared node and registered as in-process functions.
type harness struct {
	t *testing.T

	Store    *storage.MemoryStore
	Registry *plugin.Registry
	Ctx      *workflow.Context
	Graph    *workflow.TaskGraph
	Node     *model.Node
	Bus      *events.Bus

	plug *plugin.Plugin
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := storage.NewMemoryStore()
	registry := plugin.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	plug := plugin.New(testPlugin, "1.0.0")
	registry.Register(plug)

	node := &model.Node{
		ID:   model.NewID(),
		Name: "node",
		Interfaces: map[string]*model.Interface{
			testInterface: {Name: testInterface, Operations: map[string]*model.Operation{}},
		},
	}
	if err := store.Nodes().Put(context.Background(), node); err != nil {
		t.Fatalf("fixture setup: %v", err)
	}

	wctx := workflow.NewContext("test-workflow", store, workflow.ContextOptions{
		Plugins: registry,
		Logger:  logger,
	})
	release := workflow.PushContext(wctx)
	t.Cleanup(release)

	return &harness{
		t:        t,
		Store:    store,
		Registry: registry,
		Ctx:      wctx,
		Graph:    workflow.NewTaskGraph("test-workflow"),
		Node:     node,
		Bus:      events.NewBus(logger),
		plug:     plug,
	}
}

// op declares an operation on the harness node, registers its function, and
// constructs the API task.
func (h *harness) op(name string, fn workflow.OperationFunc, opts ...workflow.OperationOption) *workflow.OperationTask {
	h.t.Helper()

	implementation := testPlugin + "." + name
	h.Node.Interfaces[testInterface].Operations[name] = &model.Operation{
		Name:           name,
		Implementation: implementation,
		Plugin:         &model.PluginSpec{Name: testPlugin},
	}
	h.plug.RegisterOperation(implementation, fn)

	task, err := workflow.NewOperationTask(h.Node, testInterface, name, opts...)
	if err != nil {
		h.t.Fatalf("build operation %s: %v", name, err)
	}
	return task
}

// recorder collects bus events for post-run assertions.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) attach(bus *events.Bus) {
	bus.SubscribeAll(func(e events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
}

func (r *recorder) signals() []events.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Signal, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Signal)
	}
	return out
}

func (r *recorder) count(signal events.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Signal == signal {
			n++
		}
	}
	return n
}
