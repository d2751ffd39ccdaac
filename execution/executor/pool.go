// Package executor provides the executor variants the engine can submit
// operation tasks to: an in-process worker pool and a subprocess executor
// for plugin executables.
package executor

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/apache/incubator-ariatosca-sub004/execution"
	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

const defaultPoolSize = 8

// Pool runs operation functions on a fixed set of worker goroutines.
// Implementations are resolved through the plugin resolver at run time, so
// plugin reloads between attempts take effect.
type Pool struct {
	resolver execution.Resolver
	logger   *slog.Logger

	queue chan *execution.TaskHandle
	wg    sync.WaitGroup

	// mu serializes queue sends against the close in Close. A send on a
	// closed channel panics, so the two must never overlap.
	mu     sync.RWMutex
	closed bool
}

// PoolConfig configures NewPool.
type PoolConfig struct {
	// Size is the worker count. Zero means defaultPoolSize.
	Size int

	// QueueDepth bounds pending submissions. Zero means 2*Size.
	QueueDepth int

	Logger *slog.Logger
}

// NewPool starts a worker pool executor.
func NewPool(resolver execution.Resolver, cfg PoolConfig) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = defaultPoolSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 2 * cfg.Size
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		resolver: resolver,
		logger:   logger,
		queue:    make(chan *execution.TaskHandle, cfg.QueueDepth),
	}
	p.wg.Add(cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		go p.worker()
	}
	return p
}

var _ execution.Executor = (*Pool)(nil)

// Submit queues one task attempt. It blocks when the queue is full and
// fails once the pool is closed.
func (p *Pool) Submit(handle *execution.TaskHandle) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("executor closed")
	}
	// Workers keep draining until Close wins the write lock, so a send
	// blocked on a full queue still completes.
	p.queue <- handle
	return nil
}

// Close stops accepting work and waits for in-flight attempts to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for handle := range p.queue {
		p.runOne(handle)
	}
}

// runOne executes one attempt and reports exactly one terminal
// notification. Panics in operation code are converted to failures.
func (p *Pool) runOne(handle *execution.TaskHandle) {
	op := handle.Task.Operation

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("operation panicked",
				"task_id", handle.Task.ID,
				"function", op.Implementation,
				"panic", r)
			handle.Failed(fmt.Errorf("operation panic: %v", r), string(debug.Stack()))
		}
	}()

	handle.Started()

	fn, err := p.resolveFunc(op)
	if err != nil {
		handle.Failed(err, "")
		return
	}
	if err := fn(handle.OpCtx, handle.Inputs); err != nil {
		handle.Failed(err, "")
		return
	}
	handle.Succeeded()
}

func (p *Pool) resolveFunc(op *workflow.OperationTask) (workflow.OperationFunc, error) {
	var spec model.PluginSpec
	if op.Plugin != nil {
		spec = *op.Plugin
	}
	fn, err := p.resolver.Resolve(spec, op.Implementation)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", op.Implementation, err)
	}
	return fn, nil
}
