// Package events provides the synchronous signal bus the engine publishes
// workflow and task lifecycle events on. Delivery is in-process and ordered;
// a panicking subscriber is logged and isolated, never propagated.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Signal names a lifecycle event.
type Signal string

// Workflow and task lifecycle signals.
const (
	StartWorkflow       Signal = "start_workflow"
	OnSuccessWorkflow   Signal = "on_success_workflow"
	OnFailureWorkflow   Signal = "on_failure_workflow"
	OnCancelledWorkflow Signal = "on_cancelled_workflow"
	SentTask            Signal = "sent_task"
	OnSuccessTask       Signal = "on_success_task"
	OnFailureTask       Signal = "on_failure_task"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Signal      Signal    `json:"signal"`
	ExecutionID string    `json:"execution_id"`
	Workflow    string    `json:"workflow,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Err carries the terminal error for on_failure_* signals. It is not
	// serialized; Error holds the text form.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Handler receives events. Handlers run synchronously on the publisher's
// goroutine and must not block.
type Handler func(Event)

// Bus is a publish/subscribe registry keyed by signal name.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Signal][]*subscription
	logger   *slog.Logger
}

type subscription struct {
	handler Handler
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Signal][]*subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for one signal and returns an unsubscribe
// function.
func (b *Bus) Subscribe(signal Signal, handler Handler) func() {
	sub := &subscription{handler: handler}
	b.mu.Lock()
	b.handlers[signal] = append(b.handlers[signal], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[signal]
		for i, s := range subs {
			if s == sub {
				b.handlers[signal] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every lifecycle signal.
func (b *Bus) SubscribeAll(handler Handler) func() {
	signals := []Signal{
		StartWorkflow, OnSuccessWorkflow, OnFailureWorkflow, OnCancelledWorkflow,
		SentTask, OnSuccessTask, OnFailureTask,
	}
	unsubs := make([]func(), 0, len(signals))
	for _, s := range signals {
		unsubs = append(unsubs, b.Subscribe(s, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish delivers the event to all subscribers of its signal, in
// subscription order. Subscriber panics are recovered and logged.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Err != nil && event.Error == "" {
		event.Error = event.Err.Error()
	}

	b.mu.RLock()
	subs := append([]*subscription(nil), b.handlers[event.Signal]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("signal subscriber panicked",
				"signal", event.Signal,
				"execution_id", event.ExecutionID,
				"panic", r)
		}
	}()
	sub.handler(event)
}
