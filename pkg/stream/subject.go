package stream

import (
	"sort"
	"sync"

	"github.com/go-logr/logr"
)

// Subject is a multicast registry of sinks keyed by monotonically increasing
// handler ids. Next delivers synchronously on the caller goroutine in
// subscription order; Error and Complete make the subject terminal and drop
// every subscriber. Subscribing to a terminal subject delivers the terminal
// signal immediately.
type Subject[T any] struct {
	mu       sync.RWMutex
	handlers map[int64]Sink[T]
	counter  int64
	done     bool
	doneErr  error
	log      logr.Logger
}

// NewSubject returns an empty subject. A logger without a sink is replaced
// with logr.Discard.
func NewSubject[T any](logger logr.Logger) *Subject[T] {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Subject[T]{
		handlers: make(map[int64]Sink[T]),
		log:      logger,
	}
}

// Subscribe registers the sink and returns its disposable handle.
func (s *Subject[T]) Subscribe(sink Sink[T]) Subscription {
	s.mu.Lock()
	if s.done {
		err := s.doneErr
		s.mu.Unlock()
		if err != nil {
			sink.Error(err)
		} else {
			sink.Complete()
		}
		return NewSubscription(nil)
	}

	s.counter++
	id := s.counter
	s.handlers[id] = sink
	s.mu.Unlock()

	s.log.V(8).Info("subscriber registered", "id", id)

	return NewSubscription(func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
		s.log.V(8).Info("subscriber removed", "id", id)
	})
}

// Next delivers v to every current subscriber in subscription order.
func (s *Subject[T]) Next(v T) {
	for _, sink := range s.snapshot() {
		sink.Next(v)
	}
}

// Error terminates the subject, delivering err to every subscriber.
func (s *Subject[T]) Error(err error) {
	for _, sink := range s.terminate(err) {
		sink.Error(err)
	}
}

// Complete terminates the subject, completing every subscriber.
func (s *Subject[T]) Complete() {
	for _, sink := range s.terminate(nil) {
		sink.Complete()
	}
}

// Len returns the number of active subscribers.
func (s *Subject[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// snapshot copies the handler list in id order so that delivery happens
// outside the registry lock: a sink may dispose its own subscription during
// delivery.
func (s *Subject[T]) snapshot() []Sink[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.done {
		return nil
	}
	return s.orderedLocked()
}

func (s *Subject[T]) terminate(err error) []Sink[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil
	}
	s.done = true
	s.doneErr = err

	sinks := s.orderedLocked()
	s.handlers = make(map[int64]Sink[T])
	return sinks
}

func (s *Subject[T]) orderedLocked() []Sink[T] {
	ids := make([]int64, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	sinks := make([]Sink[T], 0, len(ids))
	for _, id := range ids {
		sinks = append(sinks, s.handlers[id])
	}
	return sinks
}

// AsStream exposes the subject's live feed as a Stream. No replay is
// performed; replay-on-connect is the cache bridge's concern.
func (s *Subject[T]) AsStream() *Stream[T] {
	return New(func(sink Sink[T]) Subscription {
		return s.Subscribe(sink)
	})
}
