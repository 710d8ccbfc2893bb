package stripeio

import "sync"

// AsyncHandler aggregates every in-flight Future for one stripe so a
// caller can join all pending operations at once and observe the first
// error encountered.
type AsyncHandler struct {
	mu      sync.Mutex
	pending []*Future
}

func NewAsyncHandler() *AsyncHandler {
	return &AsyncHandler{}
}

// Track registers a future to be joined by a later WaitOK.
func (h *AsyncHandler) Track(f *Future) {
	h.mu.Lock()
	h.pending = append(h.pending, f)
	h.mu.Unlock()
}

// WaitOK drains every tracked future, waiting for all of them, and
// returns the first error encountered (in tracking order), or nil if
// every future completed OK. The pending list is cleared as part of
// the drain so a second WaitOK call sees only futures tracked since.
func (h *AsyncHandler) WaitOK() error {
	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	var first error
	for _, f := range pending {
		if err := f.Err(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Reset discards any tracked futures without waiting on them.
// RainCore.ReadV calls it on each touched stripe before issuing that
// stripe's scatter read.
func (h *AsyncHandler) Reset() {
	h.mu.Lock()
	h.pending = nil
	h.mu.Unlock()
}
