package binding

import (
	"slices"
	"sync"
)

// SliceEvent describes one applied mutation of an ObservableSlice.
type SliceEvent int

const (
	SliceInsert SliceEvent = iota
	SliceRemove
	SliceReplace
	SliceMove
	SliceReset
)

// ObservableSlice is a reference BoundList implementation: a slice-backed
// ordered collection with an optional change callback, usable as a bind
// target or as a stand-in for a UI collection in tests.
type ObservableSlice[T any] struct {
	mu        sync.Mutex
	items     []T
	OnChanged func(event SliceEvent, index int)
}

// NewObservableSlice returns an empty collection.
func NewObservableSlice[T any]() *ObservableSlice[T] {
	return &ObservableSlice[T]{}
}

// InsertAt implements BoundList.
func (s *ObservableSlice[T]) InsertAt(index int, item T) {
	s.mu.Lock()
	if index < 0 || index > len(s.items) {
		index = len(s.items)
	}
	s.items = slices.Insert(s.items, index, item)
	s.mu.Unlock()
	s.notify(SliceInsert, index)
}

// RemoveAt implements BoundList.
func (s *ObservableSlice[T]) RemoveAt(index int) {
	s.mu.Lock()
	if index < 0 || index >= len(s.items) {
		s.mu.Unlock()
		return
	}
	s.items = slices.Delete(s.items, index, index+1)
	s.mu.Unlock()
	s.notify(SliceRemove, index)
}

// ReplaceAt implements BoundList.
func (s *ObservableSlice[T]) ReplaceAt(index int, item T) {
	s.mu.Lock()
	if index < 0 || index >= len(s.items) {
		s.mu.Unlock()
		return
	}
	s.items[index] = item
	s.mu.Unlock()
	s.notify(SliceReplace, index)
}

// Move implements BoundList.
func (s *ObservableSlice[T]) Move(from, to int) {
	s.mu.Lock()
	if from < 0 || from >= len(s.items) || to < 0 || to >= len(s.items) || from == to {
		s.mu.Unlock()
		return
	}
	item := s.items[from]
	s.items = slices.Delete(s.items, from, from+1)
	s.items = slices.Insert(s.items, to, item)
	s.mu.Unlock()
	s.notify(SliceMove, to)
}

// Reset implements BoundList.
func (s *ObservableSlice[T]) Reset(items []T) {
	s.mu.Lock()
	s.items = make([]T, len(items))
	copy(s.items, items)
	s.mu.Unlock()
	s.notify(SliceReset, 0)
}

// Items returns a copy of the current contents.
func (s *ObservableSlice[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]T, len(s.items))
	copy(items, s.items)
	return items
}

// Len returns the number of items.
func (s *ObservableSlice[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *ObservableSlice[T]) notify(event SliceEvent, index int) {
	if s.OnChanged != nil {
		s.OnChanged(event, index)
	}
}
