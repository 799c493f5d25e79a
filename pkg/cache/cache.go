// Package cache implements the keyed collection primitive: a change-tracked
// store mutated through batch edits, each edit flushing exactly one change
// set to subscribers. Late subscribers first receive the current state as a
// single batch of adds, then live updates.
package cache

import (
	"errors"
	"sync"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

var (
	// ErrDisposed is returned by edits on a disposed cache.
	ErrDisposed = errors.New("cache has been disposed")
	// ErrNoKeySelector is returned when an item-keyed edit is attempted on
	// a cache constructed without a key selector.
	ErrNoKeySelector = errors.New("cache has no key selector")
)

// Options configures a Cache.
type Options struct {
	// Logger used for edit and subscription tracing. Defaults to
	// logr.Discard.
	Logger logr.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the cache logger.
func WithLogger(logger logr.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Cache is a keyed, change-tracked collection. All mutations run through
// Edit under a single lock covering the mutation and the synchronous
// downstream delivery chain, so one edit's full effect completes before the
// next edit is admitted and partial in-batch states are never observed.
//
// Reentrant edits from inside a subscriber callback are unsupported.
type Cache[T any, K comparable] struct {
	mu       sync.Mutex
	keyFn    func(T) K
	state    *ChangeAwareCache[T, K]
	subject  *stream.Subject[changeset.ChangeSet[T, K]]
	preview  *stream.Subject[changeset.ChangeSet[T, K]]
	disposed bool
	log      logr.Logger
}

// New returns an empty cache whose items are keyed by keyFn. A nil keyFn
// restricts the edit surface to the explicit-key operations.
func New[T any, K comparable](keyFn func(T) K, opts ...Option) *Cache[T, K] {
	options := Options{}
	for _, o := range opts {
		o(&options)
	}
	logger := options.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	log := logger.WithName("cache")

	return &Cache[T, K]{
		keyFn:   keyFn,
		state:   NewChangeAware[T, K](),
		subject: stream.NewSubject[changeset.ChangeSet[T, K]](log),
		preview: stream.NewSubject[changeset.ChangeSet[T, K]](log.WithName("preview")),
		log:     log,
	}
}

// NewKeyed returns an empty cache without a key selector: items are stored
// under explicit keys only (AddOrUpdateWithKey and the key-based edits).
func NewKeyed[T any, K comparable](opts ...Option) *Cache[T, K] {
	return New[T, K](nil, opts...)
}

// Edit runs fn against a change-recording updater as one atomic batch. The
// records accumulated by the batch are flushed as a single change set and
// delivered synchronously, preview subscribers first, before the edit lock
// is released. An updater misuse error suppresses publication, but
// partially-applied changes are retained in the cache: there is no
// rollback. A panicking callback propagates after its buffered records are
// discarded, so a later edit's change set never carries them.
func (c *Cache[T, K]) Edit(fn func(u *Updater[T, K])) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}

	u := &Updater[T, K]{cache: c}
	defer func() {
		if r := recover(); r != nil {
			c.state.CaptureChanges()
			panic(r)
		}
	}()
	fn(u)

	cs := c.state.CaptureChanges()
	if u.err != nil {
		c.log.V(4).Info("edit failed, suppressing publication", "error", u.err.Error(),
			"pending-changes", len(cs))
		return u.err
	}
	if len(cs) == 0 {
		return nil
	}

	c.log.V(4).Info("edit ready", "changes", len(cs), "count", c.state.Count())
	c.preview.Next(cs)
	c.subject.Next(cs)
	return nil
}

// AddOrUpdate stores the items in one batch using the key selector.
func (c *Cache[T, K]) AddOrUpdate(items ...T) error {
	return c.Edit(func(u *Updater[T, K]) { u.AddOrUpdate(items...) })
}

// AddOrUpdateWithKey stores one item under an explicit key.
func (c *Cache[T, K]) AddOrUpdateWithKey(key K, item T) error {
	return c.Edit(func(u *Updater[T, K]) { u.AddOrUpdateWithKey(key, item) })
}

// Remove deletes the keys in one batch; absent keys are silently ignored.
func (c *Cache[T, K]) Remove(keys ...K) error {
	return c.Edit(func(u *Updater[T, K]) { u.Remove(keys...) })
}

// Clear removes every entry in one batch.
func (c *Cache[T, K]) Clear() error {
	return c.Edit(func(u *Updater[T, K]) { u.Clear() })
}

// Refresh re-announces the keys' current values in one batch.
func (c *Cache[T, K]) Refresh(keys ...K) error {
	return c.Edit(func(u *Updater[T, K]) { u.Refresh(keys...) })
}

// RefreshAll re-announces every entry.
func (c *Cache[T, K]) RefreshAll() error {
	return c.Edit(func(u *Updater[T, K]) { u.RefreshAll() })
}

// Lookup returns the current value for key.
func (c *Cache[T, K]) Lookup(key K) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Lookup(key)
}

// Count returns the number of entries.
func (c *Cache[T, K]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Count()
}

// Keys returns the keys in insertion order.
func (c *Cache[T, K]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Keys()
}

// Items returns the values in insertion order.
func (c *Cache[T, K]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Items()
}

// Snapshot returns a copy of the key-value mapping.
func (c *Cache[T, K]) Snapshot() map[K]T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Dispose drops all entries and completes every subscriber stream. Further
// edits return ErrDisposed.
func (c *Cache[T, K]) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	c.disposed = true
	c.state = NewChangeAware[T, K]()

	c.log.V(1).Info("disposing cache")
	c.preview.Complete()
	c.subject.Complete()
}

// Updater is the mutation handle handed to Edit callbacks. It is only valid
// for the duration of the callback.
type Updater[T any, K comparable] struct {
	cache *Cache[T, K]
	err   error
}

// AddOrUpdate stores the items using the cache's key selector.
func (u *Updater[T, K]) AddOrUpdate(items ...T) {
	if u.cache.keyFn == nil {
		u.fail(ErrNoKeySelector)
		return
	}
	for _, item := range items {
		u.cache.state.AddOrUpdate(u.cache.keyFn(item), item)
	}
}

// AddOrUpdateWithKey stores one item under an explicit key.
func (u *Updater[T, K]) AddOrUpdateWithKey(key K, item T) {
	u.cache.state.AddOrUpdate(key, item)
}

// Remove deletes the keys; absent keys are silently ignored.
func (u *Updater[T, K]) Remove(keys ...K) {
	for _, key := range keys {
		u.cache.state.Remove(key)
	}
}

// RemoveItems deletes the entries keyed by the given items.
func (u *Updater[T, K]) RemoveItems(items ...T) {
	if u.cache.keyFn == nil {
		u.fail(ErrNoKeySelector)
		return
	}
	for _, item := range items {
		u.cache.state.Remove(u.cache.keyFn(item))
	}
}

// Clear removes every entry in insertion order.
func (u *Updater[T, K]) Clear() { u.cache.state.Clear() }

// Refresh re-announces the keys' current values; absent keys are ignored.
func (u *Updater[T, K]) Refresh(keys ...K) {
	for _, key := range keys {
		u.cache.state.Refresh(key)
	}
}

// RefreshAll re-announces every entry.
func (u *Updater[T, K]) RefreshAll() { u.cache.state.RefreshAll() }

// Lookup returns the in-batch current value for key.
func (u *Updater[T, K]) Lookup(key K) (T, bool) { return u.cache.state.Lookup(key) }

// Count returns the in-batch entry count.
func (u *Updater[T, K]) Count() int { return u.cache.state.Count() }

// Keys returns the in-batch keys in insertion order.
func (u *Updater[T, K]) Keys() []K { return u.cache.state.Keys() }

// Items returns the in-batch values in insertion order.
func (u *Updater[T, K]) Items() []T { return u.cache.state.Items() }

func (u *Updater[T, K]) fail(err error) {
	if u.err == nil {
		u.err = err
	}
}
