// Package list implements the positional analog of the keyed cache: an
// ordered sequence with change-tracked batch edits, range operations and
// index-aware moves, publishing one list change set per edit.
package list

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

var (
	// ErrDisposed is returned by edits on a disposed list.
	ErrDisposed = errors.New("list has been disposed")
	// ErrNoEquality is returned by item-identity operations (Remove,
	// Replace) on a list constructed without an equality function.
	ErrNoEquality = errors.New("list has no equality function")
)

// Options configures a List.
type Options[T any] struct {
	// Logger used for edit tracing. Defaults to logr.Discard.
	Logger logr.Logger
	// Equal is the item identity used by Remove and Replace.
	Equal func(a, b T) bool
}

// Option mutates Options.
type Option[T any] func(*Options[T])

// WithLogger sets the list logger.
func WithLogger[T any](logger logr.Logger) Option[T] {
	return func(o *Options[T]) { o.Logger = logger }
}

// WithEquality sets the item identity function.
func WithEquality[T any](equal func(a, b T) bool) Option[T] {
	return func(o *Options[T]) { o.Equal = equal }
}

// List is an ordered, change-tracked sequence. The same single-edit
// discipline as the cache applies: one edit's mutation and synchronous
// delivery complete before the next edit is admitted.
type List[T any] struct {
	mu       sync.Mutex
	items    []T
	equal    func(a, b T) bool
	changes  changeset.ListChangeSet[T]
	subject  *stream.Subject[changeset.ListChangeSet[T]]
	disposed bool
	log      logr.Logger
}

// New returns an empty list.
func New[T any](opts ...Option[T]) *List[T] {
	options := Options[T]{}
	for _, o := range opts {
		o(&options)
	}
	logger := options.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	log := logger.WithName("list")

	return &List[T]{
		equal:   options.Equal,
		subject: stream.NewSubject[changeset.ListChangeSet[T]](log),
		log:     log,
	}
}

// Edit runs fn against a change-recording updater as one atomic batch and
// publishes the accumulated records as a single list change set. An invalid
// index surfaces as the batch error and suppresses publication; changes
// applied before the failure are retained (no rollback). A panicking
// callback propagates after its buffered records are discarded.
func (l *List[T]) Edit(fn func(u *Updater[T])) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed {
		return ErrDisposed
	}

	u := &Updater[T]{list: l}
	defer func() {
		if r := recover(); r != nil {
			l.changes = nil
			panic(r)
		}
	}()
	fn(u)

	cs := l.changes
	l.changes = nil
	if u.err != nil {
		l.log.V(4).Info("edit failed, suppressing publication", "error", u.err.Error())
		return u.err
	}
	if len(cs) == 0 {
		return nil
	}

	l.log.V(4).Info("edit ready", "changes", len(cs), "count", len(l.items))
	l.subject.Next(cs)
	return nil
}

// Add appends the items in one batch.
func (l *List[T]) Add(items ...T) error {
	return l.Edit(func(u *Updater[T]) { u.Add(items...) })
}

// InsertAt inserts one item at index in its own batch.
func (l *List[T]) InsertAt(index int, item T) error {
	return l.Edit(func(u *Updater[T]) { u.InsertAt(index, item) })
}

// RemoveAt removes the item at index in its own batch.
func (l *List[T]) RemoveAt(index int) error {
	return l.Edit(func(u *Updater[T]) { u.RemoveAt(index) })
}

// Move relocates the item at from so that it ends up at to.
func (l *List[T]) Move(from, to int) error {
	return l.Edit(func(u *Updater[T]) { u.Move(from, to) })
}

// Clear empties the list in one batch.
func (l *List[T]) Clear() error {
	return l.Edit(func(u *Updater[T]) { u.Clear() })
}

// Items returns a copy of the current contents.
func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]T, len(l.items))
	copy(items, l.items)
	return items
}

// Count returns the number of items.
func (l *List[T]) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Connect returns the list's change set stream. On subscribe the current
// contents are replayed as one range add, then every live edit follows.
func (l *List[T]) Connect() *stream.Stream[changeset.ListChangeSet[T]] {
	return stream.New(func(sink stream.Sink[changeset.ListChangeSet[T]]) stream.Subscription {
		l.mu.Lock()
		defer l.mu.Unlock()

		if l.disposed {
			sink.Complete()
			return stream.NewSubscription(nil)
		}

		if len(l.items) > 0 {
			snapshot := make([]T, len(l.items))
			copy(snapshot, l.items)
			sink.Next(changeset.ListChangeSet[T]{
				changeset.NewRangeChange(changeset.RangeAdd, snapshot, 0),
			})
		}
		return l.subject.Subscribe(sink)
	})
}

// Dispose drops the contents and completes every subscriber stream.
func (l *List[T]) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed {
		return
	}
	l.disposed = true
	l.items = nil

	l.log.V(1).Info("disposing list")
	l.subject.Complete()
}

// Updater is the mutation handle handed to Edit callbacks.
type Updater[T any] struct {
	list *List[T]
	err  error
}

// Add appends the items, recorded as one range add (or a single add).
func (u *Updater[T]) Add(items ...T) {
	if len(items) == 0 {
		return
	}
	index := len(u.list.items)
	u.list.items = append(u.list.items, items...)
	if len(items) == 1 {
		u.record(changeset.NewItemChange(changeset.ItemAdd, items[0], index))
		return
	}
	u.record(changeset.NewRangeChange(changeset.RangeAdd, items, index))
}

// InsertAt inserts one item at index.
func (u *Updater[T]) InsertAt(index int, item T) {
	if !u.checkIndex(index, len(u.list.items)+1) {
		return
	}
	u.list.items = append(u.list.items[:index], append([]T{item}, u.list.items[index:]...)...)
	u.record(changeset.NewItemChange(changeset.ItemAdd, item, index))
}

// InsertRangeAt inserts the items contiguously starting at index.
func (u *Updater[T]) InsertRangeAt(index int, items []T) {
	if len(items) == 0 {
		return
	}
	if !u.checkIndex(index, len(u.list.items)+1) {
		return
	}
	u.list.items = append(u.list.items[:index], append(append([]T{}, items...), u.list.items[index:]...)...)
	u.record(changeset.NewRangeChange(changeset.RangeAdd, items, index))
}

// RemoveAt removes the item at index.
func (u *Updater[T]) RemoveAt(index int) {
	if !u.checkIndex(index, len(u.list.items)) {
		return
	}
	item := u.list.items[index]
	u.list.items = append(u.list.items[:index], u.list.items[index+1:]...)
	u.record(changeset.NewItemChange(changeset.ItemRemove, item, index))
}

// RemoveRange removes count items starting at index.
func (u *Updater[T]) RemoveRange(index, count int) {
	if count <= 0 {
		return
	}
	if !u.checkIndex(index, len(u.list.items)) {
		return
	}
	if index+count > len(u.list.items) {
		u.fail(fmt.Errorf("remove range [%d, %d) exceeds list length %d", index, index+count, len(u.list.items)))
		return
	}
	removed := make([]T, count)
	copy(removed, u.list.items[index:index+count])
	u.list.items = append(u.list.items[:index], u.list.items[index+count:]...)
	u.record(changeset.NewRangeChange(changeset.RangeRemove, removed, index))
}

// Remove deletes the first item equal to the argument, returning whether a
// match was found.
func (u *Updater[T]) Remove(item T) bool {
	i, ok := u.indexOf(item)
	if !ok {
		return false
	}
	u.RemoveAt(i)
	return true
}

// Move relocates the item at from so that it ends up at index to.
func (u *Updater[T]) Move(from, to int) {
	if !u.checkIndex(from, len(u.list.items)) || !u.checkIndex(to, len(u.list.items)) {
		return
	}
	if from == to {
		return
	}
	item := u.list.items[from]
	u.list.items = append(u.list.items[:from], u.list.items[from+1:]...)
	u.list.items = append(u.list.items[:to], append([]T{item}, u.list.items[to:]...)...)
	u.record(changeset.NewItemMove(item, from, to))
}

// ReplaceAt substitutes the item at index.
func (u *Updater[T]) ReplaceAt(index int, item T) {
	if !u.checkIndex(index, len(u.list.items)) {
		return
	}
	prev := u.list.items[index]
	u.list.items[index] = item
	u.record(changeset.NewItemReplace(item, prev, index))
}

// Replace substitutes the first item equal to old, returning whether a
// match was found.
func (u *Updater[T]) Replace(old, new T) bool {
	i, ok := u.indexOf(old)
	if !ok {
		return false
	}
	u.ReplaceAt(i, new)
	return true
}

// RefreshAt re-announces the item at index unchanged.
func (u *Updater[T]) RefreshAt(index int) {
	if !u.checkIndex(index, len(u.list.items)) {
		return
	}
	u.record(changeset.NewItemChange(changeset.ItemRefresh, u.list.items[index], index))
}

// Clear empties the list, recording the removed contents in prior order.
func (u *Updater[T]) Clear() {
	if len(u.list.items) == 0 {
		return
	}
	removed := u.list.items
	u.list.items = nil
	u.record(changeset.NewRangeChange(changeset.ListCleared, removed, 0))
}

// Items returns the in-batch contents.
func (u *Updater[T]) Items() []T { return u.list.items }

// Count returns the in-batch item count.
func (u *Updater[T]) Count() int { return len(u.list.items) }

func (u *Updater[T]) indexOf(item T) (int, bool) {
	if u.list.equal == nil {
		u.fail(ErrNoEquality)
		return 0, false
	}
	for i, existing := range u.list.items {
		if u.list.equal(existing, item) {
			return i, true
		}
	}
	return 0, false
}

func (u *Updater[T]) record(c changeset.ItemChange[T]) {
	u.list.changes = append(u.list.changes, c)
}

func (u *Updater[T]) checkIndex(index, limit int) bool {
	if index < 0 || index >= limit {
		u.fail(fmt.Errorf("index %d out of range [0, %d)", index, limit))
		return false
	}
	return true
}

func (u *Updater[T]) fail(err error) {
	if u.err == nil {
		u.err = err
	}
}
