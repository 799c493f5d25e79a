package operators

import (
	"fmt"
	"reflect"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// TransformOptions configures the transform operator.
type TransformOptions[T, R any] struct {
	Logger logr.Logger
	// ErrorHandler receives mapping errors together with the original
	// item; the item is then dropped from the output (not retried). When
	// nil, the first mapping error terminates the stream.
	ErrorHandler func(error, T)
	// Parallelism above 1 fans the per-item mapping of a batch out across
	// that many workers; results are folded back in input order so the
	// emitted change set is indistinguishable from the sequential path.
	Parallelism int
	// Equal suppresses refresh-triggered updates whose mapped value is
	// unchanged. Defaults to reflect.DeepEqual.
	Equal func(a, b R) bool
}

// Transform maps every upstream value through mapFn, keeping the downstream
// value keyed by the same key. Removes are forwarded carrying the cached
// downstream value; refreshes re-run the mapping and emit an update only
// when the mapped value changed. The whole incoming batch is mapped before
// anything is emitted, so a failing batch fails consistently rather than
// partially.
func Transform[T any, K comparable, R any](src *stream.Stream[changeset.ChangeSet[T, K]], mapFn func(T) (R, error), opts ...TransformOptions[T, R]) *stream.Stream[changeset.ChangeSet[R, K]] {
	var options TransformOptions[T, R]
	if len(opts) > 0 {
		options = opts[0]
	}
	log := options.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	} else {
		log = log.WithName("transform")
	}
	equal := options.Equal
	if equal == nil {
		equal = func(a, b R) bool { return reflect.DeepEqual(a, b) }
	}

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[R, K]]) stream.Subscription {
		shadow := make(map[K]R)

		return src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				mapped, failed, err := mapBatch(cs, mapFn, options.Parallelism)
				if err != nil {
					if options.ErrorHandler == nil {
						sink.Error(err)
						return
					}
					for i, itemErr := range failed {
						if itemErr != nil {
							options.ErrorHandler(itemErr, cs[i].Current)
							log.V(4).Info("dropping item after mapping error",
								"key", cs[i].Key, "error", itemErr.Error())
						}
					}
				}

				var out changeset.ChangeSet[R, K]
				for i, change := range cs {
					switch change.Reason {
					case changeset.Remove:
						prev, ok := shadow[change.Key]
						if !ok {
							continue
						}
						delete(shadow, change.Key)
						out = append(out, changeset.NewChange(changeset.Remove, change.Key, prev))

					case changeset.Add, changeset.Update:
						if failed[i] != nil {
							continue
						}
						result := mapped[i]
						if prev, ok := shadow[change.Key]; ok {
							shadow[change.Key] = result
							out = append(out, changeset.NewUpdateChange(change.Key, result, prev))
						} else {
							shadow[change.Key] = result
							out = append(out, changeset.NewChange(changeset.Add, change.Key, result))
						}

					case changeset.Refresh, changeset.Moved:
						if failed[i] != nil {
							continue
						}
						result := mapped[i]
						prev, ok := shadow[change.Key]
						if !ok {
							shadow[change.Key] = result
							out = append(out, changeset.NewChange(changeset.Add, change.Key, result))
							continue
						}
						if equal(result, prev) {
							continue
						}
						shadow[change.Key] = result
						out = append(out, changeset.NewUpdateChange(change.Key, result, prev))
					}
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

// mapBatch applies the mapping to every record of the batch that needs one,
// sequentially or fanned out over parallelism workers with input order
// preserved. The returned error is non-nil if any item failed; per-item
// errors are reported positionally in failed.
func mapBatch[T any, K comparable, R any](cs changeset.ChangeSet[T, K], mapFn func(T) (R, error), parallelism int) (mapped []R, failed []error, err error) {
	mapped = make([]R, len(cs))
	failed = make([]error, len(cs))

	needsMapping := func(reason changeset.ChangeReason) bool {
		return reason != changeset.Remove
	}

	if parallelism <= 1 {
		for i, change := range cs {
			if !needsMapping(change.Reason) {
				continue
			}
			result, mapErr := mapFn(change.Current)
			if mapErr != nil {
				failed[i] = fmt.Errorf("transform failed for key %v: %w", change.Key, mapErr)
				err = failed[i]
				continue
			}
			mapped[i] = result
		}
		return mapped, failed, err
	}

	g := errgroup.Group{}
	g.SetLimit(parallelism)
	for i, change := range cs {
		if !needsMapping(change.Reason) {
			continue
		}
		i, change := i, change
		g.Go(func() error {
			result, mapErr := mapFn(change.Current)
			if mapErr != nil {
				failed[i] = fmt.Errorf("transform failed for key %v: %w", change.Key, mapErr)
				return failed[i]
			}
			mapped[i] = result
			return nil
		})
	}
	err = g.Wait()
	return mapped, failed, err
}
