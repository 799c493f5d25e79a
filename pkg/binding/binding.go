// Package binding projects a change set stream onto an external ordered
// collection, translating adds, removes, moves, replaces and refreshes into
// the target's native change protocol. Batches above a configurable reset
// threshold are applied as a single reset from the sorted snapshot instead
// of itemized diffs.
package binding

import (
	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/operators"
	"l7mp.io/delta-collections/pkg/stream"
)

// DefaultResetThreshold is the batch size above which the adapter resets
// the target instead of applying itemized changes.
const DefaultResetThreshold = 25

// BoundList is the native change protocol of the target collection.
type BoundList[T any] interface {
	InsertAt(index int, item T)
	RemoveAt(index int)
	ReplaceAt(index int, item T)
	Move(from, to int)
	Reset(items []T)
}

// Options configures a binding.
type Options struct {
	Logger logr.Logger
	// ResetThreshold is the batch size above which the adapter issues a
	// Reset with the full snapshot. Zero selects DefaultResetThreshold;
	// negative disables resets.
	ResetThreshold int
	// NoMoves translates every move into a RemoveAt/InsertAt pair for
	// targets with no native move concept.
	NoMoves bool
}

// BindSorted applies a sorted change set stream to target. Records carry
// projection indices, so the target ends up an exact ordered copy of the
// sorted projection.
func BindSorted[T any, K comparable](src *stream.Stream[operators.SortedChangeSet[T, K]], target BoundList[T], opts ...Options) stream.Subscription {
	var options Options
	if len(opts) > 0 {
		options = opts[0]
	}
	threshold := options.ResetThreshold
	if threshold == 0 {
		threshold = DefaultResetThreshold
	}
	log := options.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	} else {
		log = log.WithName("binding")
	}

	return src.Subscribe(&stream.Observer[operators.SortedChangeSet[T, K]]{
		OnNext: func(scs operators.SortedChangeSet[T, K]) {
			if threshold > 0 && len(scs.Changes) > threshold {
				log.V(4).Info("batch exceeds reset threshold, resetting target",
					"batch", len(scs.Changes), "threshold", threshold)
				items := make([]T, len(scs.Items))
				for i, kv := range scs.Items {
					items[i] = kv.Value
				}
				target.Reset(items)
				return
			}
			applyChanges(scs.Changes, target, options.NoMoves)
		},
	})
}

// applyChanges replays one itemized change set onto the target.
func applyChanges[T any, K comparable](cs changeset.ChangeSet[T, K], target BoundList[T], noMoves bool) {
	for _, change := range cs {
		switch change.Reason {
		case changeset.Add:
			target.InsertAt(change.CurrentIndex, change.Current)
		case changeset.Remove:
			target.RemoveAt(change.CurrentIndex)
		case changeset.Update:
			target.ReplaceAt(change.CurrentIndex, change.Current)
		case changeset.Moved:
			if noMoves {
				target.RemoveAt(change.PreviousIndex)
				target.InsertAt(change.CurrentIndex, change.Current)
				continue
			}
			target.Move(change.PreviousIndex, change.CurrentIndex)
			// a refresh-triggered move may also carry a value change
			target.ReplaceAt(change.CurrentIndex, change.Current)
		case changeset.Refresh:
			target.ReplaceAt(change.CurrentIndex, change.Current)
		}
	}
}
