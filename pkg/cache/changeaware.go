package cache

import (
	"golang.org/x/exp/maps"

	"l7mp.io/delta-collections/pkg/changeset"
)

// ChangeAwareCache is the mutation-recording primitive: a keyed store that
// buffers a change record for every structural mutation of the current
// in-flight edit, flushed with CaptureChanges. It is not locked; the Cache
// wraps it with the edit lock, and operators own one privately as their
// shadow state inside their synchronous delivery call stack.
//
// Insertion order is tracked so that Clear and enumeration report entries
// in the order they first appeared.
type ChangeAwareCache[T any, K comparable] struct {
	store   map[K]T
	order   []K
	changes changeset.ChangeSet[T, K]
}

// NewChangeAware returns an empty change-aware cache.
func NewChangeAware[T any, K comparable]() *ChangeAwareCache[T, K] {
	return &ChangeAwareCache[T, K]{store: make(map[K]T)}
}

// AddOrUpdate stores item under key, recording an Add if the key is absent
// or an Update carrying the prior value otherwise.
func (c *ChangeAwareCache[T, K]) AddOrUpdate(key K, item T) {
	if prev, ok := c.store[key]; ok {
		c.store[key] = item
		c.changes = append(c.changes, changeset.NewUpdateChange(key, item, prev))
		return
	}
	c.store[key] = item
	c.order = append(c.order, key)
	c.changes = append(c.changes, changeset.NewChange(changeset.Add, key, item))
}

// Remove deletes the key, recording a Remove carrying the removed value.
// Removing an absent key is a silent no-op and returns false.
func (c *ChangeAwareCache[T, K]) Remove(key K) bool {
	item, ok := c.store[key]
	if !ok {
		return false
	}
	delete(c.store, key)
	c.dropFromOrder(key)
	c.changes = append(c.changes, changeset.NewChange(changeset.Remove, key, item))
	return true
}

// Clear removes every entry, recording one Remove per entry in insertion
// order.
func (c *ChangeAwareCache[T, K]) Clear() {
	for _, key := range c.order {
		item, ok := c.store[key]
		if !ok {
			continue
		}
		c.changes = append(c.changes, changeset.NewChange(changeset.Remove, key, item))
	}
	c.store = make(map[K]T)
	c.order = nil
}

// Refresh re-announces the key's current value unchanged. Refreshing an
// absent key is a silent no-op and returns false.
func (c *ChangeAwareCache[T, K]) Refresh(key K) bool {
	item, ok := c.store[key]
	if !ok {
		return false
	}
	c.changes = append(c.changes, changeset.NewChange(changeset.Refresh, key, item))
	return true
}

// RefreshAll re-announces every entry in insertion order.
func (c *ChangeAwareCache[T, K]) RefreshAll() {
	for _, key := range c.Keys() {
		c.Refresh(key)
	}
}

// Lookup returns the current value for key.
func (c *ChangeAwareCache[T, K]) Lookup(key K) (T, bool) {
	item, ok := c.store[key]
	return item, ok
}

// Count returns the number of entries.
func (c *ChangeAwareCache[T, K]) Count() int { return len(c.store) }

// Keys returns the keys in insertion order.
func (c *ChangeAwareCache[T, K]) Keys() []K {
	keys := make([]K, len(c.order))
	copy(keys, c.order)
	return keys
}

// Items returns the values in insertion order.
func (c *ChangeAwareCache[T, K]) Items() []T {
	items := make([]T, 0, len(c.order))
	for _, key := range c.order {
		if item, ok := c.store[key]; ok {
			items = append(items, item)
		}
	}
	return items
}

// Snapshot returns a copy of the key-value mapping.
func (c *ChangeAwareCache[T, K]) Snapshot() map[K]T {
	return maps.Clone(c.store)
}

// HasChanges reports whether the current edit buffered any records.
func (c *ChangeAwareCache[T, K]) HasChanges() bool { return len(c.changes) > 0 }

// CaptureChanges flushes the buffered records of the current edit as one
// change set and resets the buffer.
func (c *ChangeAwareCache[T, K]) CaptureChanges() changeset.ChangeSet[T, K] {
	cs := c.changes
	c.changes = nil
	return cs
}

// Clone applies an upstream change set to this cache without recording: the
// replay primitive used by aggregators and operator shadows that only need
// resulting state. Moved and Refresh records leave state untouched.
func (c *ChangeAwareCache[T, K]) Clone(cs changeset.ChangeSet[T, K]) {
	for _, change := range cs {
		switch change.Reason {
		case changeset.Add, changeset.Update:
			if _, ok := c.store[change.Key]; !ok {
				c.order = append(c.order, change.Key)
			}
			c.store[change.Key] = change.Current
		case changeset.Remove:
			if _, ok := c.store[change.Key]; ok {
				delete(c.store, change.Key)
				c.dropFromOrder(change.Key)
			}
		}
	}
}

func (c *ChangeAwareCache[T, K]) dropFromOrder(key K) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
