package operators

import (
	"io"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// Disposable is the disposal contract tracked by DisposeMany. Values
// implementing io.Closer are honored as well.
type Disposable interface {
	Dispose()
}

// DisposeOptions configures the lifecycle operator.
type DisposeOptions struct {
	Logger logr.Logger
}

// DisposeMany forwards the upstream change sets unchanged while managing
// the lifecycle of the values flowing through: a removed value, the prior
// value of an update, and every retained value at stream termination or
// unsubscription is disposed exactly once. Values that implement neither
// Disposable nor io.Closer pass through untouched.
func DisposeMany[T any, K comparable](src *stream.Stream[changeset.ChangeSet[T, K]], opts ...DisposeOptions) *stream.Stream[changeset.ChangeSet[T, K]] {
	log := logr.Discard()
	if len(opts) > 0 && opts[0].Logger.GetSink() != nil {
		log = opts[0].Logger.WithName("disposer")
	}

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[T, K]]) stream.Subscription {
		retained := make(map[K]T)
		done := false

		disposeAll := func() {
			if done {
				return
			}
			done = true
			for key, item := range retained {
				disposeValue(item, log)
				delete(retained, key)
			}
		}

		upstream := src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				sink.Next(cs)
				for _, change := range cs {
					switch change.Reason {
					case changeset.Add:
						retained[change.Key] = change.Current
					case changeset.Update:
						if prev, ok := retained[change.Key]; ok {
							disposeValue(prev, log)
						}
						retained[change.Key] = change.Current
					case changeset.Remove:
						if prev, ok := retained[change.Key]; ok {
							delete(retained, change.Key)
							disposeValue(prev, log)
						}
					}
				}
			},
			OnError: func(err error) {
				sink.Error(err)
				disposeAll()
			},
			OnComplete: func() {
				sink.Complete()
				disposeAll()
			},
		})

		return stream.NewSubscription(func() {
			upstream.Dispose()
			disposeAll()
		})
	})
}

func disposeValue[T any](item T, log logr.Logger) {
	switch v := any(item).(type) {
	case Disposable:
		v.Dispose()
	case io.Closer:
		if err := v.Close(); err != nil {
			log.V(4).Info("close failed during disposal", "error", err.Error())
		}
	}
}
