package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/apache/incubator-ariatosca-sub004/model"
)

// Bucket names for each entity type.
const (
	BucketNodes            = "ARIA_NODES"
	BucketRelationships    = "ARIA_RELATIONSHIPS"
	BucketServiceInstances = "ARIA_SERVICE_INSTANCES"
	BucketExecutions       = "ARIA_EXECUTIONS"
	BucketTaskRecords      = "ARIA_TASK_RECORDS"
)

// KVStore is a Store backed by NATS JetStream KV buckets, one per entity
// type. Transactions are serialized behind a process-local mutex; the engine
// is the only writer of execution state, so this matches the single-writer
// contract the engine relies on.
type KVStore struct {
	txMu sync.Mutex

	nodes            *kvCollection[*model.Node]
	relationships    *kvCollection[*model.Relationship]
	serviceInstances *kvCollection[*model.ServiceInstance]
	executions       *kvCollection[*model.Execution]
	taskRecords      *kvCollection[*model.TaskRecord]
}

// NewKVStore creates a KVStore, creating the KV buckets if they don't exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	s := &KVStore{}
	for _, b := range []struct {
		name string
		init func(jetstream.KeyValue)
	}{
		{BucketNodes, func(kv jetstream.KeyValue) { s.nodes = &kvCollection[*model.Node]{kv: kv} }},
		{BucketRelationships, func(kv jetstream.KeyValue) {
			s.relationships = &kvCollection[*model.Relationship]{kv: kv}
		}},
		{BucketServiceInstances, func(kv jetstream.KeyValue) {
			s.serviceInstances = &kvCollection[*model.ServiceInstance]{kv: kv}
		}},
		{BucketExecutions, func(kv jetstream.KeyValue) {
			s.executions = &kvCollection[*model.Execution]{kv: kv}
		}},
		{BucketTaskRecords, func(kv jetstream.KeyValue) {
			s.taskRecords = &kvCollection[*model.TaskRecord]{kv: kv}
		}},
	} {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			return nil, fmt.Errorf("create %s bucket: %w", strings.ToLower(b.name), err)
		}
		b.init(kv)
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Aria %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// Nodes implements Store.
func (s *KVStore) Nodes() Collection[*model.Node] { return s.nodes }

// Relationships implements Store.
func (s *KVStore) Relationships() Collection[*model.Relationship] { return s.relationships }

// ServiceInstances implements Store.
func (s *KVStore) ServiceInstances() Collection[*model.ServiceInstance] {
	return s.serviceInstances
}

// Executions implements Store.
func (s *KVStore) Executions() Collection[*model.Execution] { return s.executions }

// TaskRecords implements Store.
func (s *KVStore) TaskRecords() Collection[*model.TaskRecord] { return s.taskRecords }

// InTransaction implements Store.
func (s *KVStore) InTransaction(_ context.Context, fn func(tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

// Close implements Store.
func (s *KVStore) Close() error { return nil }

// kvCollection stores JSON-encoded entities in one KV bucket keyed by id.
type kvCollection[T Entity] struct {
	kv jetstream.KeyValue
}

func (c *kvCollection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	entry, err := c.kv.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return zero, fmt.Errorf("get entity %s: %w", id, err)
	}
	return decode[T](entry.Value())
}

func (c *kvCollection[T]) GetByName(ctx context.Context, name string) (T, error) {
	var zero T
	entities, err := c.Iter(ctx, func(e T) bool { return e.EntityName() == name })
	if err != nil {
		return zero, err
	}
	if len(entities) == 0 {
		return zero, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	return entities[0], nil
}

func (c *kvCollection[T]) List(ctx context.Context) ([]T, error) {
	return c.Iter(ctx)
}

func (c *kvCollection[T]) Iter(ctx context.Context, filters ...Filter[T]) ([]T, error) {
	keys, err := c.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := make([]T, 0, len(keys))
entries:
	for _, key := range keys {
		entry, err := c.kv.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var entity T
		if err := json.Unmarshal(entry.Value(), &entity); err != nil {
			continue
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

func (c *kvCollection[T]) Put(ctx context.Context, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	if _, err := c.kv.Create(ctx, entity.EntityID(), data); err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, entity.EntityID())
		}
		return fmt.Errorf("store entity: %w", err)
	}
	return nil
}

func (c *kvCollection[T]) Update(ctx context.Context, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	if _, err := c.kv.Put(ctx, entity.EntityID(), data); err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}

// isAlreadyExists checks if a Create failed because the key exists.
func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key exists")
}
