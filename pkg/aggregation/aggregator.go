// Package aggregation provides collaborators that accumulate emitted change
// sets, replaying them into a shadow state so consumers (and the test
// suites) can assert both on the diffs a stage emitted and on the resulting
// projection.
package aggregation

import (
	"sync"

	"l7mp.io/delta-collections/pkg/cache"
	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// Aggregator subscribes to a keyed change set stream and records every
// received set, the replayed data state, the terminal error and the
// completion flag.
type Aggregator[T any, K comparable] struct {
	mu        sync.Mutex
	sets      []changeset.ChangeSet[T, K]
	data      *cache.ChangeAwareCache[T, K]
	err       error
	completed bool
	sub       stream.Subscription
}

// NewAggregator attaches a fresh aggregator to src.
func NewAggregator[T any, K comparable](src *stream.Stream[changeset.ChangeSet[T, K]]) *Aggregator[T, K] {
	a := &Aggregator[T, K]{data: cache.NewChangeAware[T, K]()}
	a.sub = src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
		OnNext: func(cs changeset.ChangeSet[T, K]) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.sets = append(a.sets, cs)
			a.data.Clone(cs)
		},
		OnError: func(err error) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.err = err
		},
		OnComplete: func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.completed = true
		},
	})
	return a
}

// ChangeSets returns the received sets in arrival order.
func (a *Aggregator[T, K]) ChangeSets() []changeset.ChangeSet[T, K] {
	a.mu.Lock()
	defer a.mu.Unlock()
	sets := make([]changeset.ChangeSet[T, K], len(a.sets))
	copy(sets, a.sets)
	return sets
}

// MessageCount returns the number of received sets.
func (a *Aggregator[T, K]) MessageCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sets)
}

// Data returns the replayed key-value state.
func (a *Aggregator[T, K]) Data() map[K]T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.Snapshot()
}

// Count returns the replayed entry count.
func (a *Aggregator[T, K]) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.Count()
}

// Lookup returns the replayed value for key.
func (a *Aggregator[T, K]) Lookup(key K) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.Lookup(key)
}

// Error returns the terminal error, if any.
func (a *Aggregator[T, K]) Error() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Completed reports whether the stream completed.
func (a *Aggregator[T, K]) Completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Dispose detaches the aggregator from its stream.
func (a *Aggregator[T, K]) Dispose() { a.sub.Dispose() }

// Collector records every value of an arbitrary stream, for stages whose
// emissions are not keyed change sets (sorted, paged, virtualized).
type Collector[U any] struct {
	mu        sync.Mutex
	values    []U
	err       error
	completed bool
	sub       stream.Subscription
}

// NewCollector attaches a fresh collector to src.
func NewCollector[U any](src *stream.Stream[U]) *Collector[U] {
	c := &Collector[U]{}
	c.sub = src.Subscribe(&stream.Observer[U]{
		OnNext: func(v U) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.values = append(c.values, v)
		},
		OnError: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.err = err
		},
		OnComplete: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.completed = true
		},
	})
	return c
}

// Values returns the received values in arrival order.
func (c *Collector[U]) Values() []U {
	c.mu.Lock()
	defer c.mu.Unlock()
	values := make([]U, len(c.values))
	copy(values, c.values)
	return values
}

// Last returns the most recent value.
func (c *Collector[U]) Last() (U, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.values) == 0 {
		var zero U
		return zero, false
	}
	return c.values[len(c.values)-1], true
}

// Error returns the terminal error, if any.
func (c *Collector[U]) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Completed reports whether the stream completed.
func (c *Collector[U]) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Dispose detaches the collector from its stream.
func (c *Collector[U]) Dispose() { c.sub.Dispose() }
