package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/apache/incubator-ariatosca-sub004/model"
)

// MemoryStore is an in-process Store. Entities are deep-copied on the way in
// and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu sync.RWMutex

	nodes            *memCollection[*model.Node]
	relationships    *memCollection[*model.Relationship]
	serviceInstances *memCollection[*model.ServiceInstance]
	executions       *memCollection[*model.Execution]
	taskRecords      *memCollection[*model.TaskRecord]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.nodes = newMemCollection[*model.Node](s)
	s.relationships = newMemCollection[*model.Relationship](s)
	s.serviceInstances = newMemCollection[*model.ServiceInstance](s)
	s.executions = newMemCollection[*model.Execution](s)
	s.taskRecords = newMemCollection[*model.TaskRecord](s)
	return s
}

// Nodes implements Store.
func (s *MemoryStore) Nodes() Collection[*model.Node] { return s.nodes }

// Relationships implements Store.
func (s *MemoryStore) Relationships() Collection[*model.Relationship] { return s.relationships }

// ServiceInstances implements Store.
func (s *MemoryStore) ServiceInstances() Collection[*model.ServiceInstance] {
	return s.serviceInstances
}

// Executions implements Store.
func (s *MemoryStore) Executions() Collection[*model.Execution] { return s.executions }

// TaskRecords implements Store.
func (s *MemoryStore) TaskRecords() Collection[*model.TaskRecord] { return s.taskRecords }

// InTransaction implements Store. The in-memory backend serializes
// transactions behind the store mutex; fn receives a view whose collections
// skip locking.
func (s *MemoryStore) InTransaction(_ context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&unlockedView{store: s})
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// unlockedView is the store handed to transaction bodies. The transaction
// already holds the write lock, so collection calls must not re-lock.
type unlockedView struct {
	store *MemoryStore
}

func (v *unlockedView) Nodes() Collection[*model.Node] {
	return &unlockedCollection[*model.Node]{v.store.nodes}
}

func (v *unlockedView) Relationships() Collection[*model.Relationship] {
	return &unlockedCollection[*model.Relationship]{v.store.relationships}
}

func (v *unlockedView) ServiceInstances() Collection[*model.ServiceInstance] {
	return &unlockedCollection[*model.ServiceInstance]{v.store.serviceInstances}
}

func (v *unlockedView) Executions() Collection[*model.Execution] {
	return &unlockedCollection[*model.Execution]{v.store.executions}
}

func (v *unlockedView) TaskRecords() Collection[*model.TaskRecord] {
	return &unlockedCollection[*model.TaskRecord]{v.store.taskRecords}
}

func (v *unlockedView) InTransaction(_ context.Context, fn func(tx Store) error) error {
	// Nested transactions run in the enclosing one.
	return fn(v)
}

func (v *unlockedView) Close() error { return nil }

// memCollection stores JSON-encoded entities keyed by id.
type memCollection[T Entity] struct {
	store *MemoryStore
	data  map[string][]byte
	names map[string]string // name -> id, last writer wins
}

func newMemCollection[T Entity](store *MemoryStore) *memCollection[T] {
	return &memCollection[T]{
		store: store,
		data:  make(map[string][]byte),
		names: make(map[string]string),
	}
}

func (c *memCollection[T]) Get(_ context.Context, id string) (T, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.get(id)
}

func (c *memCollection[T]) GetByName(_ context.Context, name string) (T, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.getByName(name)
}

func (c *memCollection[T]) List(_ context.Context) ([]T, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.list(nil)
}

func (c *memCollection[T]) Iter(_ context.Context, filters ...Filter[T]) ([]T, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.list(filters)
}

func (c *memCollection[T]) Put(_ context.Context, entity T) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.put(entity, false)
}

func (c *memCollection[T]) Update(_ context.Context, entity T) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.put(entity, true)
}

func (c *memCollection[T]) get(id string) (T, error) {
	var zero T
	raw, ok := c.data[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decode[T](raw)
}

func (c *memCollection[T]) getByName(name string) (T, error) {
	var zero T
	id, ok := c.names[name]
	if !ok {
		return zero, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	return c.get(id)
}

func (c *memCollection[T]) list(filters []Filter[T]) ([]T, error) {
	out := make([]T, 0, len(c.data))
entries:
	for _, raw := range c.data {
		entity, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		for _, f := range filters {
			if !f(entity) {
				continue entries
			}
		}
		out = append(out, entity)
	}
	return out, nil
}

func (c *memCollection[T]) put(entity T, mustExist bool) error {
	id := entity.EntityID()
	if id == "" {
		return fmt.Errorf("entity has no id")
	}
	_, exists := c.data[id]
	if mustExist && !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !mustExist && exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", id, err)
	}
	c.data[id] = raw
	if name := entity.EntityName(); name != "" {
		c.names[name] = id
	}
	return nil
}

func decode[T Entity](raw []byte) (T, error) {
	var entity T
	if err := json.Unmarshal(raw, &entity); err != nil {
		return entity, fmt.Errorf("unmarshal entity: %w", err)
	}
	return entity, nil
}

// unlockedCollection delegates to a memCollection without locking. Used only
// inside InTransaction, where the caller holds the store mutex.
type unlockedCollection[T Entity] struct {
	inner *memCollection[T]
}

func (c *unlockedCollection[T]) Get(_ context.Context, id string) (T, error) {
	return c.inner.get(id)
}

func (c *unlockedCollection[T]) GetByName(_ context.Context, name string) (T, error) {
	return c.inner.getByName(name)
}

func (c *unlockedCollection[T]) List(_ context.Context) ([]T, error) {
	return c.inner.list(nil)
}

func (c *unlockedCollection[T]) Iter(_ context.Context, filters ...Filter[T]) ([]T, error) {
	return c.inner.list(filters)
}

func (c *unlockedCollection[T]) Put(_ context.Context, entity T) error {
	return c.inner.put(entity, false)
}

func (c *unlockedCollection[T]) Update(_ context.Context, entity T) error {
	return c.inner.put(entity, true)
}
