package cache

import (
	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// Connect returns the cache's change set stream. On subscribe the current
// state is replayed first as one synthetic batch of adds, then every live
// edit follows. With a predicate, only matching items are reported: an item
// newly failing the predicate is translated to a Remove, one newly passing
// to an Add, so downstream always holds exactly the matching subset.
//
// The subscription is registered under the edit lock, so the snapshot and
// the live feed never overlap or miss an edit.
func (c *Cache[T, K]) Connect(predicate ...func(T) bool) *stream.Stream[changeset.ChangeSet[T, K]] {
	var pred func(T) bool
	if len(predicate) > 0 {
		pred = predicate[0]
	}

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[T, K]]) stream.Subscription {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.disposed {
			sink.Complete()
			return stream.NewSubscription(nil)
		}

		if pred == nil {
			if snapshot := c.snapshotAddsLocked(nil); len(snapshot) > 0 {
				sink.Next(snapshot)
			}
			return c.subject.Subscribe(sink)
		}

		fs := &filteredSink[T, K]{
			pred:     pred,
			matching: make(map[K]struct{}),
			sink:     sink,
		}
		snapshot := c.snapshotAddsLocked(pred)
		for _, change := range snapshot {
			fs.matching[change.Key] = struct{}{}
		}
		if len(snapshot) > 0 {
			sink.Next(snapshot)
		}
		return c.subject.Subscribe(fs)
	})
}

// Preview returns pre-commit notifications: the same change sets as Connect
// delivered strictly before the regular subscribers within the same edit,
// and without the snapshot-on-connect replay.
func (c *Cache[T, K]) Preview(predicate ...func(T) bool) *stream.Stream[changeset.ChangeSet[T, K]] {
	var pred func(T) bool
	if len(predicate) > 0 {
		pred = predicate[0]
	}

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[T, K]]) stream.Subscription {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.disposed {
			sink.Complete()
			return stream.NewSubscription(nil)
		}

		if pred == nil {
			return c.preview.Subscribe(sink)
		}
		fs := &filteredSink[T, K]{pred: pred, matching: make(map[K]struct{}), sink: sink}
		for key, item := range c.state.store {
			if pred(item) {
				fs.matching[key] = struct{}{}
			}
		}
		return c.preview.Subscribe(fs)
	})
}

// Watch returns a stream of the change records scoped to one key. If the
// key is present on subscribe its current value is replayed as an Add.
func (c *Cache[T, K]) Watch(key K) *stream.Stream[changeset.Change[T, K]] {
	return stream.New(func(sink stream.Sink[changeset.Change[T, K]]) stream.Subscription {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.disposed {
			sink.Complete()
			return stream.NewSubscription(nil)
		}

		if item, ok := c.state.Lookup(key); ok {
			sink.Next(changeset.NewChange(changeset.Add, key, item))
		}

		return c.subject.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				for _, change := range cs {
					if change.Key == key {
						sink.Next(change)
					}
				}
			},
			OnError:    sink.Error,
			OnComplete: sink.Complete,
		})
	})
}

// snapshotAddsLocked builds the snapshot-as-batch replay: one Add per
// current entry in insertion order, optionally filtered.
func (c *Cache[T, K]) snapshotAddsLocked(pred func(T) bool) changeset.ChangeSet[T, K] {
	var cs changeset.ChangeSet[T, K]
	for _, key := range c.state.order {
		item, ok := c.state.store[key]
		if !ok || (pred != nil && !pred(item)) {
			continue
		}
		cs = append(cs, changeset.NewChange(changeset.Add, key, item))
	}
	return cs
}

// filteredSink rewrites an upstream change set against a predicate,
// maintaining the set of currently matching keys. Transition records are
// exactly one Add (false to true) or one Remove (true to false) per
// upstream record, never both.
type filteredSink[T any, K comparable] struct {
	pred     func(T) bool
	matching map[K]struct{}
	sink     stream.Sink[changeset.ChangeSet[T, K]]
}

func (f *filteredSink[T, K]) Next(cs changeset.ChangeSet[T, K]) {
	var out changeset.ChangeSet[T, K]
	for _, change := range cs {
		_, was := f.matching[change.Key]

		switch change.Reason {
		case changeset.Remove:
			if was {
				delete(f.matching, change.Key)
				out = append(out, changeset.NewChange(changeset.Remove, change.Key, change.Current))
			}
		default:
			is := f.pred(change.Current)
			switch {
			case !was && is:
				f.matching[change.Key] = struct{}{}
				out = append(out, changeset.NewChange(changeset.Add, change.Key, change.Current))
			case was && !is:
				delete(f.matching, change.Key)
				out = append(out, changeset.NewChange(changeset.Remove, change.Key, change.Current))
			case was && is:
				switch change.Reason {
				case changeset.Update:
					out = append(out, changeset.NewUpdateChange(change.Key, change.Current, *change.Previous))
				case changeset.Refresh:
					out = append(out, changeset.NewChange(changeset.Refresh, change.Key, change.Current))
				}
			}
		}
	}
	if len(out) > 0 {
		f.sink.Next(out)
	}
}

func (f *filteredSink[T, K]) Error(err error) { f.sink.Error(err) }
func (f *filteredSink[T, K]) Complete()       { f.sink.Complete() }
