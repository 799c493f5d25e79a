package changeset

import "fmt"

// ListChangeReason describes the kind of mutation an item change reports on
// a positional list. Range reasons compress bulk edits into one record.
type ListChangeReason int

const (
	// ItemAdd reports one item inserted at Index.
	ItemAdd ListChangeReason = iota
	// ItemRemove reports one item removed from Index.
	ItemRemove
	// ItemMove reports one item relocated from OldIndex to Index.
	ItemMove
	// ItemReplace reports the item at Index being substituted; the record
	// carries the replaced item in Previous.
	ItemReplace
	// ItemRefresh re-announces the item at Index unchanged.
	ItemRefresh
	// RangeAdd reports Items inserted contiguously starting at Index.
	RangeAdd
	// RangeRemove reports Items removed contiguously starting at Index.
	RangeRemove
	// ListCleared reports the whole list being emptied; Items holds the
	// removed contents in their prior order.
	ListCleared
)

func (r ListChangeReason) String() string {
	switch r {
	case ItemAdd:
		return "add"
	case ItemRemove:
		return "remove"
	case ItemMove:
		return "move"
	case ItemReplace:
		return "replace"
	case ItemRefresh:
		return "refresh"
	case RangeAdd:
		return "add-range"
	case RangeRemove:
		return "remove-range"
	case ListCleared:
		return "clear"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ItemChange is the list-shaped analog of Change: item plus index instead of
// key plus value. Range records carry the affected items in Items and leave
// Item at its zero value.
type ItemChange[T any] struct {
	Reason   ListChangeReason
	Item     T
	Previous *T
	Items    []T
	Index    int
	OldIndex int
}

// NewItemChange returns a single-item list change record.
func NewItemChange[T any](reason ListChangeReason, item T, index int) ItemChange[T] {
	return ItemChange[T]{Reason: reason, Item: item, Index: index, OldIndex: NoIndex}
}

// NewItemMove returns a move record carrying both positions.
func NewItemMove[T any](item T, oldIndex, newIndex int) ItemChange[T] {
	return ItemChange[T]{Reason: ItemMove, Item: item, Index: newIndex, OldIndex: oldIndex}
}

// NewItemReplace returns a replace record carrying the substituted item.
func NewItemReplace[T any](current, previous T, index int) ItemChange[T] {
	return ItemChange[T]{Reason: ItemReplace, Item: current, Previous: &previous, Index: index, OldIndex: NoIndex}
}

// NewRangeChange returns a range record for a contiguous insert or removal.
func NewRangeChange[T any](reason ListChangeReason, items []T, index int) ItemChange[T] {
	return ItemChange[T]{Reason: reason, Items: items, Index: index, OldIndex: NoIndex}
}

// ListChangeSet is the ordered batch of item changes produced by one list
// edit.
type ListChangeSet[T any] []ItemChange[T]

// ListSummary holds the per-reason item counts of a list change set. Range
// records contribute the number of items they carry.
type ListSummary struct {
	Adds      int
	Removes   int
	Moves     int
	Replaces  int
	Refreshes int
}

// Total returns the number of items counted.
func (s ListSummary) Total() int {
	return s.Adds + s.Removes + s.Moves + s.Replaces + s.Refreshes
}

// Summary scans the set and tallies affected items by reason.
func (cs ListChangeSet[T]) Summary() ListSummary {
	var s ListSummary
	for _, c := range cs {
		switch c.Reason {
		case ItemAdd:
			s.Adds++
		case ItemRemove:
			s.Removes++
		case ItemMove:
			s.Moves++
		case ItemReplace:
			s.Replaces++
		case ItemRefresh:
			s.Refreshes++
		case RangeAdd:
			s.Adds += len(c.Items)
		case RangeRemove, ListCleared:
			s.Removes += len(c.Items)
		}
	}
	return s
}

// Count returns the number of records (not items) in the set.
func (cs ListChangeSet[T]) Count() int { return len(cs) }
