// Package bus provides the asynchronous message channels connecting the
// coordinator, processor, and HTTP control surface. Delivery is at-most-once
// and fire-and-forget: a send to a full or closed inbox is dropped with a
// warning, and there is no ordering guarantee across different inboxes.
// Replies, where a command carries a reply channel, are best-effort.
package bus

import (
	"log/slog"
	"sync"
)

// Inbox is a single component's receive queue. Exactly one goroutine should
// consume from C; any number may Send.
type Inbox struct {
	name string
	c    chan Message

	mu     sync.Mutex
	closed bool
}

// NewInbox creates an inbox with the given buffer size.
func NewInbox(name string, size int) *Inbox {
	if size <= 0 {
		size = 64
	}
	return &Inbox{name: name, c: make(chan Message, size)}
}

// Send enqueues msg without blocking. Returns false when the message was
// dropped because the inbox is full or closed.
func (in *Inbox) Send(msg Message) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		slog.Warn("bus send to closed inbox dropped", "inbox", in.name)
		return false
	}
	select {
	case in.c <- msg:
		return true
	default:
		slog.Warn("bus inbox full, message dropped", "inbox", in.name)
		return false
	}
}

// C returns the receive channel. The channel is closed by Close.
func (in *Inbox) C() <-chan Message {
	return in.c
}

// Close marks the inbox closed and closes the receive channel. Safe to call
// once; sends after Close are dropped.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	close(in.c)
}

// Name returns the inbox name used in log lines.
func (in *Inbox) Name() string { return in.name }
