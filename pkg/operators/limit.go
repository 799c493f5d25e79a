package operators

import (
	"fmt"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/cache"
	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// LimitOptions configures the size limiter.
type LimitOptions struct {
	Logger logr.Logger
}

// LimitSize caps the downstream collection at limit items, evicting the
// oldest entries (insertion order) whenever an upstream batch pushes the
// count over the cap. The upstream change set is forwarded as-is first,
// then the evictions follow as a separate change set of removes, so
// consumers observe the overflow and its correction as two ordered
// batches.
//
// A non-positive limit is a caller error: the returned stream fails on
// subscribe.
func LimitSize[T any, K comparable](src *stream.Stream[changeset.ChangeSet[T, K]], limit int, opts ...LimitOptions) *stream.Stream[changeset.ChangeSet[T, K]] {
	log := logr.Discard()
	if len(opts) > 0 && opts[0].Logger.GetSink() != nil {
		log = opts[0].Logger.WithName("limit")
	}

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[T, K]]) stream.Subscription {
		if limit < 1 {
			sink.Error(fmt.Errorf("size limit must be positive, got %d", limit))
			return stream.NewSubscription(nil)
		}

		shadow := cache.NewChangeAware[T, K]()

		return src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				shadow.Clone(cs)
				sink.Next(cs)

				over := shadow.Count() - limit
				if over <= 0 {
					return
				}

				oldest := shadow.Keys()[:over]
				log.V(4).Info("evicting oldest entries", "count", over, "limit", limit)
				for _, key := range oldest {
					shadow.Remove(key)
				}
				if evictions := shadow.CaptureChanges(); len(evictions) > 0 {
					sink.Next(evictions)
				}
			},
			OnError:    sink.Error,
			OnComplete: sink.Complete,
		})
	})
}
