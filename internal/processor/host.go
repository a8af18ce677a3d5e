package processor

import (
	"context"
	"sync"

	"github.com/dgnsrekt/tabgain/internal/bus"
)

// Host lazily starts the processor and hands out its inbox. Ensure is
// idempotent and safe to call concurrently: a single in-flight startup is
// shared by all callers, so the processor is created at most once.
type Host struct {
	start func() (*bus.Inbox, error)

	mu       sync.Mutex
	inflight chan struct{}
	inbox    *bus.Inbox
	err      error
}

// NewHost wraps a startup function that builds the processor, launches its
// Run loop, and returns the inbox to send session commands to.
func NewHost(start func() (*bus.Inbox, error)) *Host {
	return &Host{start: start}
}

// Started returns the inbox without triggering startup. The second return
// is false while the processor has not been started.
func (h *Host) Started() (*bus.Inbox, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inbox, h.inbox != nil
}

// Ensure returns the processor inbox, starting the processor on first call.
// Callers arriving while a startup is in flight wait for it rather than
// triggering a second one. A failed startup is not cached; the next Ensure
// retries.
func (h *Host) Ensure(ctx context.Context) (*bus.Inbox, error) {
	for {
		h.mu.Lock()
		if h.inbox != nil {
			inbox := h.inbox
			h.mu.Unlock()
			return inbox, nil
		}
		if h.inflight == nil {
			h.inflight = make(chan struct{})
			wait := h.inflight
			h.mu.Unlock()

			inbox, err := h.start()

			h.mu.Lock()
			h.inbox = inbox
			h.err = err
			h.inflight = nil
			close(wait)
			h.mu.Unlock()
			return inbox, err
		}
		wait := h.inflight
		h.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		h.mu.Lock()
		inbox, err := h.inbox, h.err
		h.mu.Unlock()
		if inbox != nil || err != nil {
			return inbox, err
		}
		// Startup failed between our wait and re-check; loop and retry.
	}
}
