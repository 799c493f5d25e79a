package operators

import (
	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// DistinctOptions configures the distinct-values operator.
type DistinctOptions struct {
	Logger logr.Logger
}

// DistinctValues emits the set of distinct values projected from the
// upstream collection by sel, maintained incrementally through per-value
// reference counts: a value transitioning from zero occurrences to one is
// an Add, from one to zero a Remove. Emission order within a batch is
// deterministic: values appear in the order the batch first touched them,
// not in record arrival order per occurrence.
func DistinctValues[T any, K comparable, V comparable](src *stream.Stream[changeset.ChangeSet[T, K]], sel func(T) V, opts ...DistinctOptions) *stream.Stream[changeset.ChangeSet[V, V]] {
	log := logr.Discard()
	if len(opts) > 0 && opts[0].Logger.GetSink() != nil {
		log = opts[0].Logger.WithName("distinct")
	}

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[V, V]]) stream.Subscription {
		d := &distincter[T, K, V]{
			sel:        sel,
			counts:     make(map[V]int),
			itemValues: make(map[K]V),
			log:        log,
		}

		return src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				if out := d.apply(cs); len(out) > 0 {
					sink.Next(out)
				}
			},
			OnError:    sink.Error,
			OnComplete: sink.Complete,
		})
	})
}

// distincter tracks reference counts per projected value plus each item's
// current projection, so value changes decrement the old projection.
type distincter[T any, K comparable, V comparable] struct {
	sel        func(T) V
	counts     map[V]int
	itemValues map[K]V
	log        logr.Logger
}

func (d *distincter[T, K, V]) apply(cs changeset.ChangeSet[T, K]) changeset.ChangeSet[V, V] {
	// before-counts of the values this batch touches, in first-touched
	// order, so transitions are computed over the whole batch and emitted
	// deterministically
	touched := []V{}
	before := map[V]int{}
	touch := func(v V) {
		if _, ok := before[v]; !ok {
			before[v] = d.counts[v]
			touched = append(touched, v)
		}
	}

	for _, change := range cs {
		switch change.Reason {
		case changeset.Add:
			v := d.sel(change.Current)
			touch(v)
			d.itemValues[change.Key] = v
			d.counts[v]++

		case changeset.Update, changeset.Refresh:
			v := d.sel(change.Current)
			prev, had := d.itemValues[change.Key]
			if had && prev == v {
				continue
			}
			touch(v)
			if had {
				touch(prev)
				d.release(prev)
			}
			d.itemValues[change.Key] = v
			d.counts[v]++

		case changeset.Remove:
			prev, had := d.itemValues[change.Key]
			if !had {
				continue
			}
			touch(prev)
			delete(d.itemValues, change.Key)
			d.release(prev)
		}
	}

	var out changeset.ChangeSet[V, V]
	for _, v := range touched {
		was, now := before[v] > 0, d.counts[v] > 0
		switch {
		case !was && now:
			out = append(out, changeset.NewChange(changeset.Add, v, v))
		case was && !now:
			out = append(out, changeset.NewChange(changeset.Remove, v, v))
		}
	}
	return out
}

func (d *distincter[T, K, V]) release(v V) {
	if d.counts[v] <= 1 {
		delete(d.counts, v)
		return
	}
	d.counts[v]--
}
