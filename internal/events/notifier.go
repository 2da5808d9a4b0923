package events

import "sync"

// Notifier delivers posted notifications one at a time in FIFO order.
//
// Post may be called while holding a component lock; Drain must be
// called after releasing it. If another goroutine is already draining,
// Drain returns immediately and that goroutine delivers the new
// notifications too. A notification posted from inside a handler is
// delivered after the current one completes.
type Notifier struct {
	mu       sync.Mutex
	pending  []func()
	draining bool
}

// Post queues fn for delivery.
func (n *Notifier) Post(fn func()) {
	n.mu.Lock()
	n.pending = append(n.pending, fn)
	n.mu.Unlock()
}

// Drain delivers queued notifications until none remain.
func (n *Notifier) Drain() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true

	for len(n.pending) > 0 {
		fn := n.pending[0]
		n.pending[0] = nil
		n.pending = n.pending[1:]
		n.mu.Unlock()
		n.deliver(fn)
		n.mu.Lock()
	}

	n.pending = nil
	n.draining = false
	n.mu.Unlock()
}

// Discard drops every notification that has not been delivered yet.
func (n *Notifier) Discard() {
	n.mu.Lock()
	n.pending = nil
	n.mu.Unlock()
}

func (n *Notifier) deliver(fn func()) {
	defer func() {
		// Registry.Dispatch already isolates handlers; this keeps the
		// draining flag consistent if a raw notification panics.
		_ = recover()
	}()
	fn()
}
