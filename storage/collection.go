package storage

import (
	"context"
	"fmt"

	"github.com/apache/incubator-ariatosca-sub004/model"
)

// InstrumentedMap is a view over a node's attribute map that routes every
// write through the store inside a transaction. Reads re-fetch the node, so
// the view is safe to hand to operation functions running on any goroutine.
// Nested maps and lists come back wrapped so writes deep in the structure
// propagate too.
type InstrumentedMap struct {
	store  Store
	nodeID string
	path   []string
}

// NodeAttributes returns an instrumented view of a node's attributes.
func NodeAttributes(store Store, nodeID string) *InstrumentedMap {
	return &InstrumentedMap{store: store, nodeID: nodeID}
}

// Get returns the value at key. Map and slice values are returned wrapped.
func (m *InstrumentedMap) Get(ctx context.Context, key string) (any, error) {
	container, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	value, ok := container[key]
	if !ok {
		return nil, fmt.Errorf("%w: attribute %q", ErrNotFound, key)
	}
	return m.wrap(key, value), nil
}

// Keys lists the keys present at this level.
func (m *InstrumentedMap) Keys(ctx context.Context) ([]string, error) {
	container, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(container))
	for k := range container {
		keys = append(keys, k)
	}
	return keys, nil
}

// Set writes key to value transactionally.
func (m *InstrumentedMap) Set(ctx context.Context, key string, value any) error {
	return m.mutate(ctx, func(container map[string]any) error {
		container[key] = value
		return nil
	})
}

// Delete removes key transactionally. Deleting an absent key is a no-op.
func (m *InstrumentedMap) Delete(ctx context.Context, key string) error {
	return m.mutate(ctx, func(container map[string]any) error {
		delete(container, key)
		return nil
	})
}

// Child returns a view one level deeper. The child need not exist yet; the
// first Set creates intermediate maps.
func (m *InstrumentedMap) Child(key string) *InstrumentedMap {
	path := append(append([]string(nil), m.path...), key)
	return &InstrumentedMap{store: m.store, nodeID: m.nodeID, path: path}
}

// List returns an instrumented list view of the slice stored at key.
func (m *InstrumentedMap) List(key string) *InstrumentedList {
	return &InstrumentedList{parent: m, key: key}
}

func (m *InstrumentedMap) wrap(key string, value any) any {
	switch value.(type) {
	case map[string]any:
		return m.Child(key)
	case []any:
		return m.List(key)
	}
	return value
}

func (m *InstrumentedMap) load(ctx context.Context) (map[string]any, error) {
	node, err := m.store.Nodes().Get(ctx, m.nodeID)
	if err != nil {
		return nil, err
	}
	return walkPath(node, m.path, false)
}

func (m *InstrumentedMap) mutate(ctx context.Context, fn func(map[string]any) error) error {
	return m.store.InTransaction(ctx, func(tx Store) error {
		node, err := tx.Nodes().Get(ctx, m.nodeID)
		if err != nil {
			return err
		}
		container, err := walkPath(node, m.path, true)
		if err != nil {
			return err
		}
		if err := fn(container); err != nil {
			return err
		}
		return tx.Nodes().Update(ctx, node)
	})
}

func walkPath(node *model.Node, path []string, create bool) (map[string]any, error) {
	if node.Attributes == nil {
		if !create {
			return map[string]any{}, nil
		}
		node.Attributes = make(map[string]any)
	}
	container := node.Attributes
	for _, segment := range path {
		child, ok := container[segment]
		if !ok {
			if !create {
				return nil, fmt.Errorf("%w: attribute path %q", ErrNotFound, segment)
			}
			next := make(map[string]any)
			container[segment] = next
			container = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("attribute %q is not a map", segment)
		}
		container = childMap
	}
	return container, nil
}

// InstrumentedList is the slice counterpart of InstrumentedMap: element
// writes go through the store transactionally.
type InstrumentedList struct {
	parent *InstrumentedMap
	key    string
}

// Len returns the current element count.
func (l *InstrumentedList) Len(ctx context.Context) (int, error) {
	items, err := l.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Get returns the element at index i.
func (l *InstrumentedList) Get(ctx context.Context, i int) (any, error) {
	items, err := l.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(items) {
		return nil, fmt.Errorf("index %d out of range (len %d)", i, len(items))
	}
	return items[i], nil
}

// Append adds a value to the end of the list transactionally. A missing list
// is created.
func (l *InstrumentedList) Append(ctx context.Context, value any) error {
	return l.parent.mutate(ctx, func(container map[string]any) error {
		items, err := listValue(container, l.key, true)
		if err != nil {
			return err
		}
		container[l.key] = append(items, value)
		return nil
	})
}

// Set replaces the element at index i transactionally.
func (l *InstrumentedList) Set(ctx context.Context, i int, value any) error {
	return l.parent.mutate(ctx, func(container map[string]any) error {
		items, err := listValue(container, l.key, false)
		if err != nil {
			return err
		}
		if i < 0 || i >= len(items) {
			return fmt.Errorf("index %d out of range (len %d)", i, len(items))
		}
		items[i] = value
		container[l.key] = items
		return nil
	})
}

func (l *InstrumentedList) snapshot(ctx context.Context) ([]any, error) {
	container, err := l.parent.load(ctx)
	if err != nil {
		return nil, err
	}
	return listValue(container, l.key, false)
}

func listValue(container map[string]any, key string, create bool) ([]any, error) {
	raw, ok := container[key]
	if !ok {
		if create {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: attribute %q", ErrNotFound, key)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("attribute %q is not a list", key)
	}
	return items, nil
}
