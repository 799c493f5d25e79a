package changeset

import (
	"fmt"
	"strings"
)

// ChangeSet is the ordered batch of change records produced by one atomic
// edit. Replaying the records in order against a projection that starts in
// the same prior state as the source reconstructs the source's new state.
// A set is immutable once published.
type ChangeSet[T any, K comparable] []Change[T, K]

// Summary holds the per-reason counts of a change set.
type Summary struct {
	Adds      int
	Updates   int
	Removes   int
	Refreshes int
	Moves     int
}

// Total returns the number of records counted.
func (s Summary) Total() int {
	return s.Adds + s.Updates + s.Removes + s.Refreshes + s.Moves
}

// Summary scans the set and tallies records by reason.
func (cs ChangeSet[T, K]) Summary() Summary {
	var s Summary
	for _, c := range cs {
		switch c.Reason {
		case Add:
			s.Adds++
		case Update:
			s.Updates++
		case Remove:
			s.Removes++
		case Refresh:
			s.Refreshes++
		case Moved:
			s.Moves++
		}
	}
	return s
}

// Count returns the number of records in the set.
func (cs ChangeSet[T, K]) Count() int { return len(cs) }

// Validate checks every record in the set.
func (cs ChangeSet[T, K]) Validate() error {
	for i, c := range cs {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid change at position %d: %w", i, err)
		}
	}
	return nil
}

func (cs ChangeSet[T, K]) String() string {
	items := make([]string, len(cs))
	for i, c := range cs {
		items[i] = c.String()
	}
	return "[" + strings.Join(items, ", ") + "]"
}
