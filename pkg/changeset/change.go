package changeset

import (
	"errors"
	"fmt"
	"reflect"
)

// NoIndex marks a change record that carries no positional information.
const NoIndex = -1

// ChangeReason describes the kind of mutation a change record reports.
type ChangeReason int

const (
	// Add reports a key appearing in the collection.
	Add ChangeReason = iota
	// Update reports a key's value being replaced; the record carries the
	// prior value in Previous.
	Update
	// Remove reports a key leaving the collection.
	Remove
	// Refresh re-announces a key's current value unchanged, forcing
	// downstream re-evaluation after an in-place mutation the cache could
	// not observe.
	Refresh
	// Moved reports a positional change in an ordered projection; the
	// record carries both PreviousIndex and CurrentIndex.
	Moved
)

func (r ChangeReason) String() string {
	switch r {
	case Add:
		return "add"
	case Update:
		return "update"
	case Remove:
		return "remove"
	case Refresh:
		return "refresh"
	case Moved:
		return "moved"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ErrMissingPrevious is returned when an Update or Moved record is
// constructed without a previous value.
var ErrMissingPrevious = errors.New("update change requires a previous value")

// Change is an immutable record of one mutation: the reason, the key, the
// current value, the previous value for updates and moves, and positional
// indices for ordered projections. Index fields are NoIndex when the record
// is index-unaware.
type Change[T any, K comparable] struct {
	Reason        ChangeReason
	Key           K
	Current       T
	Previous      *T
	CurrentIndex  int
	PreviousIndex int
}

// NewChange returns an index-unaware change record. Update records must be
// constructed with NewUpdateChange so that the previous value is present.
func NewChange[T any, K comparable](reason ChangeReason, key K, current T) Change[T, K] {
	return Change[T, K]{
		Reason:        reason,
		Key:           key,
		Current:       current,
		CurrentIndex:  NoIndex,
		PreviousIndex: NoIndex,
	}
}

// NewUpdateChange returns an Update record carrying the replaced value.
func NewUpdateChange[T any, K comparable](key K, current, previous T) Change[T, K] {
	return Change[T, K]{
		Reason:        Update,
		Key:           key,
		Current:       current,
		Previous:      &previous,
		CurrentIndex:  NoIndex,
		PreviousIndex: NoIndex,
	}
}

// NewIndexedChange returns a change record that carries its position in an
// ordered projection.
func NewIndexedChange[T any, K comparable](reason ChangeReason, key K, current T, index int) Change[T, K] {
	c := NewChange(reason, key, current)
	c.CurrentIndex = index
	return c
}

// NewIndexedUpdateChange returns an Update record positioned in an ordered
// projection.
func NewIndexedUpdateChange[T any, K comparable](key K, current, previous T, index int) Change[T, K] {
	c := NewUpdateChange(key, current, previous)
	c.CurrentIndex = index
	return c
}

// NewMovedChange returns a Moved record reporting a positional change from
// previousIndex to currentIndex. The value identity is preserved: previous
// holds the value as it was at the old position.
func NewMovedChange[T any, K comparable](key K, current, previous T, previousIndex, currentIndex int) Change[T, K] {
	return Change[T, K]{
		Reason:        Moved,
		Key:           key,
		Current:       current,
		Previous:      &previous,
		CurrentIndex:  currentIndex,
		PreviousIndex: previousIndex,
	}
}

// Validate checks the structural invariants of the record. Update and Moved
// records without a previous value fail fast, and Moved records must carry
// both indices.
func (c Change[T, K]) Validate() error {
	switch c.Reason {
	case Update:
		if c.Previous == nil {
			return ErrMissingPrevious
		}
	case Moved:
		if c.Previous == nil {
			return ErrMissingPrevious
		}
		if c.CurrentIndex < 0 || c.PreviousIndex < 0 {
			return fmt.Errorf("moved change for key %v must carry both indices", c.Key)
		}
	}
	return nil
}

// Equal reports structural equality over all fields. Previous values are
// compared by dereference.
func (c Change[T, K]) Equal(o Change[T, K]) bool {
	if c.Reason != o.Reason || c.Key != o.Key ||
		c.CurrentIndex != o.CurrentIndex || c.PreviousIndex != o.PreviousIndex {
		return false
	}
	if !reflect.DeepEqual(c.Current, o.Current) {
		return false
	}
	if (c.Previous == nil) != (o.Previous == nil) {
		return false
	}
	if c.Previous != nil && !reflect.DeepEqual(*c.Previous, *o.Previous) {
		return false
	}
	return true
}

func (c Change[T, K]) String() string {
	if c.Previous != nil {
		return fmt.Sprintf("%s{key: %v, current: %v, previous: %v, index: %d<-%d}",
			c.Reason, c.Key, c.Current, *c.Previous, c.CurrentIndex, c.PreviousIndex)
	}
	return fmt.Sprintf("%s{key: %v, current: %v, index: %d}", c.Reason, c.Key, c.Current, c.CurrentIndex)
}
