package operators

import (
	"slices"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// DefaultSortResetThreshold is the batch size above which the sort operator
// emits a full reset instead of itemized moves.
const DefaultSortResetThreshold = 100

// KeyValue is one entry of an ordered projection.
type KeyValue[T any, K comparable] struct {
	Key   K
	Value T
}

// SortedChangeSet carries the index-aware changes of one batch together
// with the full sorted snapshot after applying them. The snapshot is what
// the paging and binding stages window and reset from.
type SortedChangeSet[T any, K comparable] struct {
	Changes changeset.ChangeSet[T, K]
	Items   []KeyValue[T, K]
}

// SortOptions configures the sort operator.
type SortOptions struct {
	Logger logr.Logger
	// ResetThreshold is the batch size above which the operator emits a
	// full remove-all/add-all reset instead of itemized diffs. Zero
	// selects DefaultSortResetThreshold; negative disables resets.
	ResetThreshold int
	// MovesAsRemoveAdd rewrites every Moved record into a Remove at the
	// old index followed by an Add at the new one, for consumers with no
	// native move concept.
	MovesAsRemoveAdd bool
}

// Sort maintains an ordered projection of the upstream collection under
// cmp. Adds binary-search their insertion point, removes splice at the
// known index, and updates or refreshes whose re-searched position changed
// emit a Moved carrying both indices, never a remove/add pair, preserving
// identity for bound collections. Ties under cmp keep their prior stable
// order (insertion order), and repeated passes over equal elements never
// shuffle them.
//
// Each emitted record's indices are valid at its position in the replay:
// applying the records in order to a copy of the previous snapshot
// reconstructs the new one.
func Sort[T any, K comparable](src *stream.Stream[changeset.ChangeSet[T, K]], cmp func(a, b T) int, opts ...SortOptions) *stream.Stream[SortedChangeSet[T, K]] {
	var options SortOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	threshold := options.ResetThreshold
	if threshold == 0 {
		threshold = DefaultSortResetThreshold
	}
	log := options.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	} else {
		log = log.WithName("sort")
	}

	return stream.New(func(sink stream.Sink[SortedChangeSet[T, K]]) stream.Subscription {
		s := &sorter[T, K]{
			cmp:   cmp,
			index: make(map[K]int),
			seqs:  make(map[K]int64),
			log:   log,
		}

		return src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				var out changeset.ChangeSet[T, K]
				if threshold > 0 && len(cs) > threshold {
					log.V(4).Info("batch exceeds reset threshold, emitting reset",
						"batch", len(cs), "threshold", threshold)
					out = s.reset(cs)
				} else {
					out = s.applyIncremental(cs)
				}
				if options.MovesAsRemoveAdd {
					out = movesToRemoveAdd(out)
				}
				if len(out) > 0 {
					sink.Next(SortedChangeSet[T, K]{Changes: out, Items: s.snapshot()})
				}
			},
			OnError:    sink.Error,
			OnComplete: sink.Complete,
		})
	})
}

type sortEntry[T any, K comparable] struct {
	key   K
	value T
	seq   int64
}

// sorter is the sort operator's shadow: the sorted entry slice, a key to
// position map, and per-key arrival sequence numbers used as the stable
// tie-break, so equal elements keep insertion order.
type sorter[T any, K comparable] struct {
	cmp     func(a, b T) int
	entries []sortEntry[T, K]
	index   map[K]int
	seqs    map[K]int64
	nextSeq int64
	log     logr.Logger
}

// compare orders entries by cmp, then by arrival sequence. Sequences are
// unique so two distinct entries never compare equal, which keeps binary
// search positions exact.
func (s *sorter[T, K]) compare(a, b sortEntry[T, K]) int {
	if c := s.cmp(a.value, b.value); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	default:
		return 0
	}
}

func (s *sorter[T, K]) applyIncremental(cs changeset.ChangeSet[T, K]) changeset.ChangeSet[T, K] {
	var out changeset.ChangeSet[T, K]

	for _, change := range cs {
		switch change.Reason {
		case changeset.Add:
			out = append(out, s.insert(change.Key, change.Current))

		case changeset.Update:
			if _, ok := s.index[change.Key]; !ok {
				out = append(out, s.insert(change.Key, change.Current))
				continue
			}
			out = append(out, s.relocate(change.Key, change.Current, change.Previous, true))

		case changeset.Remove:
			pos, ok := s.index[change.Key]
			if !ok {
				continue
			}
			s.spliceOut(pos)
			delete(s.index, change.Key)
			delete(s.seqs, change.Key)
			out = append(out, changeset.NewIndexedChange(changeset.Remove, change.Key, change.Current, pos))

		case changeset.Refresh, changeset.Moved:
			pos, ok := s.index[change.Key]
			if !ok {
				continue
			}
			current := s.entries[pos].value
			out = append(out, s.relocate(change.Key, current, nil, false))
		}
	}
	return out
}

// insert places a new key at its binary-searched position and returns the
// Add record.
func (s *sorter[T, K]) insert(key K, value T) changeset.Change[T, K] {
	s.nextSeq++
	seq := s.nextSeq
	s.seqs[key] = seq

	entry := sortEntry[T, K]{key: key, value: value, seq: seq}
	pos, _ := slices.BinarySearchFunc(s.entries, entry, s.compare)
	s.spliceIn(pos, entry)
	return changeset.NewIndexedChange(changeset.Add, key, value, pos)
}

// relocate re-searches the position of an updated or refreshed key. If the
// position is unchanged it emits an in-place Update (or Refresh); if it
// changed it emits a Moved carrying both indices. The original arrival
// sequence is retained so a value change that lands among equals keeps its
// stable slot.
func (s *sorter[T, K]) relocate(key K, value T, previous *T, isUpdate bool) changeset.Change[T, K] {
	oldPos := s.index[key]
	oldValue := s.entries[oldPos].value
	seq := s.seqs[key]

	s.spliceOut(oldPos)
	entry := sortEntry[T, K]{key: key, value: value, seq: seq}
	newPos, _ := slices.BinarySearchFunc(s.entries, entry, s.compare)
	s.spliceIn(newPos, entry)

	if newPos == oldPos {
		if isUpdate {
			return changeset.NewIndexedUpdateChange(key, value, *previous, newPos)
		}
		return changeset.NewIndexedChange(changeset.Refresh, key, value, newPos)
	}

	prev := oldValue
	if previous != nil {
		prev = *previous
	}
	return changeset.NewMovedChange(key, value, prev, oldPos, newPos)
}

// reset applies the whole batch to the entry set and emits removes of the
// entire old projection (in reverse order, so each index is valid at
// replay time) followed by adds of the re-sorted new one.
func (s *sorter[T, K]) reset(cs changeset.ChangeSet[T, K]) changeset.ChangeSet[T, K] {
	old := make([]sortEntry[T, K], len(s.entries))
	copy(old, s.entries)

	// fold the batch into a key->entry map
	byKey := make(map[K]sortEntry[T, K], len(s.entries))
	for _, e := range s.entries {
		byKey[e.key] = e
	}
	for _, change := range cs {
		switch change.Reason {
		case changeset.Add, changeset.Update:
			seq, ok := s.seqs[change.Key]
			if !ok {
				s.nextSeq++
				seq = s.nextSeq
				s.seqs[change.Key] = seq
			}
			byKey[change.Key] = sortEntry[T, K]{key: change.Key, value: change.Current, seq: seq}
		case changeset.Remove:
			delete(byKey, change.Key)
			delete(s.seqs, change.Key)
		case changeset.Refresh, changeset.Moved:
			// value is unchanged, position is recomputed by the sort below
		}
	}

	s.entries = s.entries[:0]
	for _, e := range byKey {
		s.entries = append(s.entries, e)
	}
	slices.SortStableFunc(s.entries, s.compare)
	s.rebuildIndex()

	out := make(changeset.ChangeSet[T, K], 0, len(old)+len(s.entries))
	for i := len(old) - 1; i >= 0; i-- {
		out = append(out, changeset.NewIndexedChange(changeset.Remove, old[i].key, old[i].value, i))
	}
	for i, e := range s.entries {
		out = append(out, changeset.NewIndexedChange(changeset.Add, e.key, e.value, i))
	}
	return out
}

func (s *sorter[T, K]) spliceIn(pos int, entry sortEntry[T, K]) {
	s.entries = slices.Insert(s.entries, pos, entry)
	for i := pos; i < len(s.entries); i++ {
		s.index[s.entries[i].key] = i
	}
}

func (s *sorter[T, K]) spliceOut(pos int) {
	s.entries = slices.Delete(s.entries, pos, pos+1)
	for i := pos; i < len(s.entries); i++ {
		s.index[s.entries[i].key] = i
	}
}

func (s *sorter[T, K]) rebuildIndex() {
	clear(s.index)
	for i, e := range s.entries {
		s.index[e.key] = i
	}
}

func (s *sorter[T, K]) snapshot() []KeyValue[T, K] {
	items := make([]KeyValue[T, K], len(s.entries))
	for i, e := range s.entries {
		items[i] = KeyValue[T, K]{Key: e.key, Value: e.value}
	}
	return items
}

// movesToRemoveAdd rewrites Moved records into a Remove at the old index
// followed by an Add at the new one.
func movesToRemoveAdd[T any, K comparable](cs changeset.ChangeSet[T, K]) changeset.ChangeSet[T, K] {
	needsRewrite := false
	for _, c := range cs {
		if c.Reason == changeset.Moved {
			needsRewrite = true
			break
		}
	}
	if !needsRewrite {
		return cs
	}

	out := make(changeset.ChangeSet[T, K], 0, len(cs)+1)
	for _, c := range cs {
		if c.Reason != changeset.Moved {
			out = append(out, c)
			continue
		}
		out = append(out,
			changeset.NewIndexedChange(changeset.Remove, c.Key, *c.Previous, c.PreviousIndex),
			changeset.NewIndexedChange(changeset.Add, c.Key, c.Current, c.CurrentIndex))
	}
	return out
}
