package operators

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/cache"
	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// FilterOptions configures the filter operators.
type FilterOptions struct {
	Logger logr.Logger
}

// Filter emits the subset of the upstream collection matching pred. For
// each incoming record the predicate is re-evaluated against the current
// value: a non-match to match transition emits an Add, match to non-match a
// Remove, a surviving match an Update or Refresh, and a stale non-match
// nothing. A predicate panic propagates to the edit caller.
func Filter[T any, K comparable](src *stream.Stream[changeset.ChangeSet[T, K]], pred func(T) bool, opts ...FilterOptions) *stream.Stream[changeset.ChangeSet[T, K]] {
	return DynamicFilter(src, staticFilterController(pred), opts...)
}

// FilterWithErrors is the error-accepting filter variant: predicate errors
// are routed to onError with the offending item (which is then excluded
// from the output) instead of failing the stream. A nil onError terminates
// the stream on the first predicate error.
func FilterWithErrors[T any, K comparable](src *stream.Stream[changeset.ChangeSet[T, K]], pred func(T) (bool, error), onError func(error, T), opts ...FilterOptions) *stream.Stream[changeset.ChangeSet[T, K]] {
	log := filterLogger(opts)

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[T, K]]) stream.Subscription {
		f := &filterState[T, K]{
			all:      cache.NewChangeAware[T, K](),
			matching: make(map[K]struct{}),
			sink:     sink,
			log:      log,
		}

		return src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				out, err := f.apply(cs, pred, onError)
				if err != nil {
					sink.Error(err)
					return
				}
				if len(out) > 0 {
					sink.Next(out)
				}
			},
			OnError:    sink.Error,
			OnComplete: sink.Complete,
		})
	})
}

// FilterController holds a mutable predicate shared by the subscriptions of
// a DynamicFilter. Set replaces the predicate and forces every subscription
// to re-evaluate all retained items, emitting the resulting adds and
// removes as one change set.
type FilterController[T any] struct {
	mu      sync.Mutex
	pred    func(T) bool
	subject *stream.Subject[func(T) bool]
}

// NewFilterController returns a controller seeded with pred.
func NewFilterController[T any](pred func(T) bool) *FilterController[T] {
	return &FilterController[T]{
		pred:    pred,
		subject: stream.NewSubject[func(T) bool](logr.Discard()),
	}
}

// Set replaces the predicate and triggers re-evaluation on every live
// subscription.
func (fc *FilterController[T]) Set(pred func(T) bool) {
	fc.mu.Lock()
	fc.pred = pred
	fc.mu.Unlock()
	fc.subject.Next(pred)
}

// Current returns the active predicate.
func (fc *FilterController[T]) Current() func(T) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.pred
}

func staticFilterController[T any](pred func(T) bool) *FilterController[T] {
	return NewFilterController(pred)
}

// DynamicFilter is Filter with a consumer-settable predicate. Predicate
// changes perform a full re-evaluation of the retained items; this is the
// rare, explicitly consumer-triggered path, so the full scan is acceptable.
func DynamicFilter[T any, K comparable](src *stream.Stream[changeset.ChangeSet[T, K]], ctrl *FilterController[T], opts ...FilterOptions) *stream.Stream[changeset.ChangeSet[T, K]] {
	log := filterLogger(opts)

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[T, K]]) stream.Subscription {
		f := &filterState[T, K]{
			all:      cache.NewChangeAware[T, K](),
			matching: make(map[K]struct{}),
			sink:     sink,
			log:      log,
		}
		// upstream delivery runs on producer goroutines, Set on the
		// consumer's: both paths share the predicate and the shadow
		var mu sync.Mutex
		pred := ctrl.Current()

		upstream := src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				mu.Lock()
				defer mu.Unlock()
				out, _ := f.apply(cs, func(item T) (bool, error) { return pred(item), nil }, nil)
				if len(out) > 0 {
					sink.Next(out)
				}
			},
			OnError:    sink.Error,
			OnComplete: sink.Complete,
		})

		refilter := ctrl.subject.Subscribe(&stream.Observer[func(T) bool]{
			OnNext: func(newPred func(T) bool) {
				mu.Lock()
				defer mu.Unlock()
				pred = newPred
				if out := f.refilter(newPred); len(out) > 0 {
					sink.Next(out)
				}
			},
		})

		return stream.CompositeSubscription{upstream, refilter}
	})
}

// filterState is the filter's shadow: every upstream item plus the set of
// keys currently emitted downstream.
type filterState[T any, K comparable] struct {
	all      *cache.ChangeAwareCache[T, K]
	matching map[K]struct{}
	sink     stream.Sink[changeset.ChangeSet[T, K]]
	log      logr.Logger
}

// apply folds one upstream change set through the predicate. A predicate
// error is reported to onError and the offending item excluded from the
// output; with a nil onError the error is terminal: apply returns it and
// nothing is emitted for the batch.
func (f *filterState[T, K]) apply(cs changeset.ChangeSet[T, K], pred func(T) (bool, error), onError func(error, T)) (changeset.ChangeSet[T, K], error) {
	var out changeset.ChangeSet[T, K]

	for _, change := range cs {
		_, was := f.matching[change.Key]

		if change.Reason == changeset.Remove {
			f.all.Remove(change.Key)
			f.all.CaptureChanges()
			if was {
				delete(f.matching, change.Key)
				out = append(out, changeset.NewChange(changeset.Remove, change.Key, change.Current))
			}
			continue
		}

		f.all.AddOrUpdate(change.Key, change.Current)
		f.all.CaptureChanges()

		is, err := pred(change.Current)
		if err != nil {
			err = fmt.Errorf("filter predicate failed for key %v: %w", change.Key, err)
			if onError == nil {
				return nil, err
			}
			f.log.V(4).Info("excluding item after predicate error", "key", change.Key,
				"error", err.Error())
			onError(err, change.Current)
			continue
		}

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
	return out, nil
}

// refilter re-evaluates every retained item against a new predicate.
func (f *filterState[T, K]) refilter(pred func(T) bool) changeset.ChangeSet[T, K] {
	var out changeset.ChangeSet[T, K]
	for _, key := range f.all.Keys() {
		item, ok := f.all.Lookup(key)
		if !ok {
			continue
		}
		_, was := f.matching[key]
		is := pred(item)
		switch {
		case !was && is:
			f.matching[key] = struct{}{}
			out = append(out, changeset.NewChange(changeset.Add, key, item))
		case was && !is:
			delete(f.matching, key)
			out = append(out, changeset.NewChange(changeset.Remove, key, item))
		}
	}
	return out
}

func filterLogger(opts []FilterOptions) logr.Logger {
	if len(opts) > 0 && opts[0].Logger.GetSink() != nil {
		return opts[0].Logger.WithName("filter")
	}
	return logr.Discard()
}
