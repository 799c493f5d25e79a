package operators

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// VirtualRequest selects a contiguous window [Offset, Offset+Size) of a
// sorted projection.
type VirtualRequest struct {
	Offset int
	Size   int
}

// NewVirtualRequest validates and returns a window request: a negative
// offset or non-positive size is a caller error, rejected at construction
// time.
func NewVirtualRequest(offset, size int) (VirtualRequest, error) {
	if offset < 0 {
		return VirtualRequest{}, fmt.Errorf("offset must be non-negative, got %d", offset)
	}
	if size < 1 {
		return VirtualRequest{}, fmt.Errorf("window size must be positive, got %d", size)
	}
	return VirtualRequest{Offset: offset, Size: size}, nil
}

// VirtualResponse describes the window actually delivered, after clamping
// the offset so the window never starts past the end of the projection.
type VirtualResponse struct {
	Offset     int
	Size       int
	TotalItems int
}

// VirtualChangeSet carries the window-relative changes of one batch
// together with the visible slice and the effective window geometry.
type VirtualChangeSet[T any, K comparable] struct {
	Changes  changeset.ChangeSet[T, K]
	Items    []KeyValue[T, K]
	Response VirtualResponse
}

// VirtualizeController holds the requested window shared by the
// subscriptions of a Virtualize operator.
type VirtualizeController struct {
	mu      sync.Mutex
	req     VirtualRequest
	subject *stream.Subject[VirtualRequest]
}

// NewVirtualizeController returns a controller seeded with req.
func NewVirtualizeController(req VirtualRequest) *VirtualizeController {
	return &VirtualizeController{req: req, subject: stream.NewSubject[VirtualRequest](logr.Discard())}
}

// Set validates and applies a new window, re-windowing every live
// subscription.
func (vc *VirtualizeController) Set(offset, size int) error {
	req, err := NewVirtualRequest(offset, size)
	if err != nil {
		return err
	}
	vc.mu.Lock()
	vc.req = req
	vc.mu.Unlock()
	vc.subject.Next(req)
	return nil
}

// Current returns the active window.
func (vc *VirtualizeController) Current() VirtualRequest {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.req
}

// VirtualizeOptions configures the virtualizing operator.
type VirtualizeOptions struct {
	Logger logr.Logger
}

// Virtualize windows a sorted stream to an offset/size slice, the
// scroll-position analog of Page. Window diffing and index translation
// follow the same rules as Page; an offset pointing past the end clamps
// back so that the last Size items stay visible.
func Virtualize[T any, K comparable](src *stream.Stream[SortedChangeSet[T, K]], ctrl *VirtualizeController, opts ...VirtualizeOptions) *stream.Stream[VirtualChangeSet[T, K]] {
	log := logr.Discard()
	if len(opts) > 0 && opts[0].Logger.GetSink() != nil {
		log = opts[0].Logger.WithName("virtualize")
	}

	return stream.New(func(sink stream.Sink[VirtualChangeSet[T, K]]) stream.Subscription {
		w := &windower[T, K]{log: log}

		// upstream delivery runs on producer goroutines, Set on the
		// consumer's: both paths share the windower state
		var mu sync.Mutex
		emit := func(sorted []KeyValue[T, K], upstream changeset.ChangeSet[T, K], force bool) {
			req := ctrl.Current()
			resp := clampWindow(req, len(sorted))
			out, window := w.rewindow(sorted, resp.Offset, resp.Size, upstream)
			if len(out) == 0 && !force {
				return
			}
			sink.Next(VirtualChangeSet[T, K]{Changes: out, Items: window, Response: resp})
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

		requests := ctrl.subject.Subscribe(&stream.Observer[VirtualRequest]{
			OnNext: func(VirtualRequest) {
				mu.Lock()
				defer mu.Unlock()
				emit(w.lastSorted, nil, true)
			},
		})

		return stream.CompositeSubscription{upstream, requests}
	})
}

// clampWindow computes the effective window geometry.
func clampWindow(req VirtualRequest, total int) VirtualResponse {
	offset := req.Offset
	if offset >= total {
		offset = total - req.Size
		if offset < 0 {
			offset = 0
		}
	}
	return VirtualResponse{Offset: offset, Size: req.Size, TotalItems: total}
}
