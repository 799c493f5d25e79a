package operators

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// PageRequest selects one page of a sorted projection. Pages are numbered
// from 1.
type PageRequest struct {
	Page int
	Size int
}

// NewPageRequest validates and returns a page request: a non-positive page
// or size is a caller error, rejected at construction time.
func NewPageRequest(page, size int) (PageRequest, error) {
	if page < 1 {
		return PageRequest{}, fmt.Errorf("page must be positive, got %d", page)
	}
	if size < 1 {
		return PageRequest{}, fmt.Errorf("page size must be positive, got %d", size)
	}
	return PageRequest{Page: page, Size: size}, nil
}

// PageResponse describes the window actually delivered, after clamping.
type PageResponse struct {
	Page       int
	Size       int
	TotalPages int
	TotalItems int
}

// PagedChangeSet carries the window-relative changes of one batch together
// with the visible slice and the effective page geometry.
type PagedChangeSet[T any, K comparable] struct {
	Changes  changeset.ChangeSet[T, K]
	Items    []KeyValue[T, K]
	Response PageResponse
}

// PageController holds the requested page shared by the subscriptions of a
// Page operator.
type PageController struct {
	mu      sync.Mutex
	req     PageRequest
	subject *stream.Subject[PageRequest]
}

// NewPageController returns a controller seeded with req.
func NewPageController(req PageRequest) *PageController {
	return &PageController{req: req, subject: stream.NewSubject[PageRequest](logr.Discard())}
}

// Set validates and applies a new page request, re-windowing every live
// subscription.
func (pc *PageController) Set(page, size int) error {
	req, err := NewPageRequest(page, size)
	if err != nil {
		return err
	}
	pc.mu.Lock()
	pc.req = req
	pc.mu.Unlock()
	pc.subject.Next(req)
	return nil
}

// Current returns the active request.
func (pc *PageController) Current() PageRequest {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.req
}

// PageOptions configures the paging operator.
type PageOptions struct {
	Logger logr.Logger
}

// Page windows a sorted stream to the requested page. Records whose
// absolute index intersects the window are translated to window-relative
// indices: an item entering the window is an Add, one leaving it a Remove,
// one moving within it a Moved. Requesting a page beyond the available
// range clamps to the last valid page. Changing the request emits the
// entire new window as one change set.
func Page[T any, K comparable](src *stream.Stream[SortedChangeSet[T, K]], ctrl *PageController, opts ...PageOptions) *stream.Stream[PagedChangeSet[T, K]] {
	log := logr.Discard()
	if len(opts) > 0 && opts[0].Logger.GetSink() != nil {
		log = opts[0].Logger.WithName("page")
	}

	return stream.New(func(sink stream.Sink[PagedChangeSet[T, K]]) stream.Subscription {
		w := &windower[T, K]{log: log}

		// upstream delivery runs on producer goroutines, Set on the
		// consumer's: both paths share the windower state
		var mu sync.Mutex
		emit := func(sorted []KeyValue[T, K], upstream changeset.ChangeSet[T, K], force bool) {
			req := ctrl.Current()
			resp := clampPage(req, len(sorted))
			offset := (resp.Page - 1) * resp.Size
			out, window := w.rewindow(sorted, offset, resp.Size, upstream)
			if len(out) == 0 && !force {
				return
			}
			sink.Next(PagedChangeSet[T, K]{Changes: out, Items: window, Response: resp})
		}

		upstream := src.Subscribe(&stream.Observer[SortedChangeSet[T, K]]{
			OnNext: func(scs SortedChangeSet[T, K]) {
				mu.Lock()
				defer mu.Unlock()
				emit(scs.Items, scs.Changes, false)
			},
			OnError:    sink.Error,
			OnComplete: sink.Complete,
		})

		requests := ctrl.subject.Subscribe(&stream.Observer[PageRequest]{
			OnNext: func(PageRequest) {
				mu.Lock()
				defer mu.Unlock()
				emit(w.lastSorted, nil, true)
			},
		})

		return stream.CompositeSubscription{upstream, requests}
	})
}

// clampPage computes the effective page geometry: out-of-range pages clamp
// to the last valid page, and an empty projection yields page 1 of 0.
func clampPage(req PageRequest, total int) PageResponse {
	pages := 0
	if total > 0 {
		pages = (total + req.Size - 1) / req.Size
	}
	page := req.Page
	if pages == 0 {
		page = 1
	} else if page > pages {
		page = pages
	}
	return PageResponse{Page: page, Size: req.Size, TotalPages: pages, TotalItems: total}
}

// windower diffs consecutive windows of a sorted projection, translating
// absolute positions into window-relative change records.
type windower[T any, K comparable] struct {
	lastSorted []KeyValue[T, K]
	window     []KeyValue[T, K]
	log        logr.Logger
}

// rewindow computes the new visible slice and its diff against the previous
// one. Each record's indices are valid at its position in the replay:
// removes of departed items come first in descending live index, then the
// surviving items are walked front to back, emitting an Add for each
// entrant and a Moved for each survivor relocating within the window, both
// against the intermediate state. Survivors shifted only by earlier
// removes or inserts settle into place without a record of their own, so
// applying the records in order to a copy of the previous window
// reconstructs the new one.
func (w *windower[T, K]) rewindow(sorted []KeyValue[T, K], offset, size int, upstream changeset.ChangeSet[T, K]) (changeset.ChangeSet[T, K], []KeyValue[T, K]) {
	w.lastSorted = sorted

	start := offset
	if start > len(sorted) {
		start = len(sorted)
	}
	end := start + size
	if end > len(sorted) {
		end = len(sorted)
	}
	next := make([]KeyValue[T, K], end-start)
	copy(next, sorted[start:end])

	prev := w.window
	w.window = next

	nextPos := make(map[K]int, len(next))
	for i, kv := range next {
		nextPos[kv.Key] = i
	}

	// upstream change info for keys surviving in the window
	byKey := make(map[K]changeset.Change[T, K], len(upstream))
	for _, c := range upstream {
		byKey[c.Key] = c
	}

	var out changeset.ChangeSet[T, K]
	cur := make([]KeyValue[T, K], 0, len(prev))
	for i := len(prev) - 1; i >= 0; i-- {
		if _, stays := nextPos[prev[i].Key]; !stays {
			out = append(out, changeset.NewIndexedChange(changeset.Remove, prev[i].Key, prev[i].Value, i))
		}
	}
	for _, kv := range prev {
		if _, stays := nextPos[kv.Key]; stays {
			cur = append(cur, kv)
		}
	}

	// positions below j already match next, so a relocating survivor can
	// only be found at or past j
	pos := func(key K, from int) int {
		for i := from; i < len(cur); i++ {
			if cur[i].Key == key {
				return i
			}
		}
		return -1
	}

	for j, kv := range next {
		if j < len(cur) && cur[j].Key == kv.Key {
			old := cur[j].Value
			cur[j] = kv
			if c, ok := byKey[kv.Key]; ok {
				switch c.Reason {
				case changeset.Update:
					out = append(out, changeset.NewIndexedUpdateChange(kv.Key, kv.Value, *c.Previous, j))
				case changeset.Refresh:
					out = append(out, changeset.NewIndexedChange(changeset.Refresh, kv.Key, kv.Value, j))
				case changeset.Moved:
					// absolute move that kept the same window slot: value only
					if !reflect.DeepEqual(old, kv.Value) {
						out = append(out, changeset.NewIndexedUpdateChange(kv.Key, kv.Value, old, j))
					}
				}
			} else if !reflect.DeepEqual(old, kv.Value) {
				out = append(out, changeset.NewIndexedUpdateChange(kv.Key, kv.Value, old, j))
			}
			continue
		}
		if i := pos(kv.Key, j); i >= 0 {
			out = append(out, changeset.NewMovedChange(kv.Key, kv.Value, cur[i].Value, i, j))
			cur = slices.Delete(cur, i, i+1)
			cur = slices.Insert(cur, j, kv)
			continue
		}
		out = append(out, changeset.NewIndexedChange(changeset.Add, kv.Key, kv.Value, j))
		cur = slices.Insert(cur, j, kv)
	}
	return out, next
}
