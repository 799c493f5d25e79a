// Package stream provides the push-stream primitive the collection engine
// is written against: a synchronous multicast subject with disposable
// subscriptions and a terminal error/completion contract. Delivery happens
// on the caller's goroutine and a subscriber is never invoked concurrently
// with itself; the serialization is provided by the caller (the cache edit
// lock).
package stream

import "sync"

// Subscription is the disposable handle returned by every subscribe call.
// Dispose stops further delivery and releases subscription-private
// resources; it is idempotent.
type Subscription interface {
	Dispose()
}

type onceSubscription struct {
	once sync.Once
	fn   func()
}

// NewSubscription wraps fn so that it runs at most once no matter how many
// times the handle is disposed. A nil fn yields a no-op handle.
func NewSubscription(fn func()) Subscription {
	return &onceSubscription{fn: fn}
}

func (s *onceSubscription) Dispose() {
	s.once.Do(func() {
		if s.fn != nil {
			s.fn()
		}
	})
}

// CompositeSubscription disposes a group of handles as one.
type CompositeSubscription []Subscription

// Dispose implements Subscription.
func (c CompositeSubscription) Dispose() {
	for _, s := range c {
		if s != nil {
			s.Dispose()
		}
	}
}

// Sink receives the notifications of a stream. After Error or Complete no
// further notification is delivered.
type Sink[T any] interface {
	Next(T)
	Error(error)
	Complete()
}

// Observer adapts plain callbacks to a Sink. Nil callbacks are skipped.
type Observer[T any] struct {
	OnNext     func(T)
	OnError    func(error)
	OnComplete func()
}

// Next implements Sink.
func (o *Observer[T]) Next(v T) {
	if o.OnNext != nil {
		o.OnNext(v)
	}
}

// Error implements Sink.
func (o *Observer[T]) Error(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

// Complete implements Sink.
func (o *Observer[T]) Complete() {
	if o.OnComplete != nil {
		o.OnComplete()
	}
}

// Stream is a cold subscribe function: every Subscribe call builds its own
// delivery path (and, for operators, its own private shadow state).
type Stream[T any] struct {
	subscribe func(Sink[T]) Subscription
}

// New wraps a subscribe function into a Stream.
func New[T any](subscribe func(Sink[T]) Subscription) *Stream[T] {
	return &Stream[T]{subscribe: subscribe}
}

// Subscribe attaches the sink and returns its disposable handle.
func (s *Stream[T]) Subscribe(sink Sink[T]) Subscription {
	return s.subscribe(sink)
}

// Listen subscribes with a next-only callback.
func (s *Stream[T]) Listen(next func(T)) Subscription {
	return s.Subscribe(&Observer[T]{OnNext: next})
}
