// Package storage provides the transactional model store the engine records
// execution state in. Two backends exist: an in-memory store for tests and
// single-process runs, and a NATS JetStream KV store for durable deployments.
package storage

import (
	"context"

	"github.com/apache/incubator-ariatosca-sub004/model"
)

// Entity is anything addressable by id and name.
type Entity interface {
	EntityID() string
	EntityName() string
}

// Filter selects entities during iteration.
type Filter[T Entity] func(T) bool

// Collection exposes per-entity storage operations.
type Collection[T Entity] interface {
	Get(ctx context.Context, id string) (T, error)
	GetByName(ctx context.Context, name string) (T, error)
	List(ctx context.Context) ([]T, error)
	Iter(ctx context.Context, filters ...Filter[T]) ([]T, error)
	Put(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
}

// Store is the model store: per-entity collections plus a transaction
// primitive. Engine mutations of Execution and TaskRecord state run inside a
// single transaction per transition.
type Store interface {
	Nodes() Collection[*model.Node]
	Relationships() Collection[*model.Relationship]
	ServiceInstances() Collection[*model.ServiceInstance]
	Executions() Collection[*model.Execution]
	TaskRecords() Collection[*model.TaskRecord]

	// InTransaction runs fn with exclusive access to the store. Mutations
	// made through the passed store become visible atomically; an error
	// from fn discards nothing already written by the backend but is
	// surfaced to the caller.
	InTransaction(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
