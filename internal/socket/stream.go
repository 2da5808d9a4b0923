package socket

import (
	"context"
	"sync"
)

// Stream is a growable FIFO of event payloads for consumers that prefer
// pulling over callbacks. It doubles its capacity when it reaches 70%
// full, so producers never block or drop.
type Stream[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool
	ready    chan struct{}

	detach func()

	// Stats
	totalReceived int64
	totalSent     int64
	resizeCount   int
}

// StreamStats contains stream statistics.
type StreamStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
}

// NewStream creates a detached stream with the given initial capacity.
func NewStream[T any](initialCapacity int) *Stream[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Stream[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		ready:    make(chan struct{}, 1),
	}
}

// Subscribe returns a stream fed by every ev received by m. Closing the
// stream removes the handler.
func Subscribe[T any](m *Manager, ev Event[T], initialCapacity int) *Stream[T] {
	s := NewStream[T](initialCapacity)
	sub := On(m, ev, func(v T) { s.Push(v) })
	s.detach = func() { m.Off(sub) }
	return s
}

// Push appends an item. It returns false if the stream is closed.
func (s *Stream[T]) Push(item T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	threshold := (s.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if s.count+1 >= threshold {
		s.grow()
	}

	s.buf[s.tail] = item
	s.tail = (s.tail + 1) % s.capacity
	s.count++
	s.totalReceived++

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available, the stream is closed and empty, or ctx is done.
func (s *Stream[T]) Receive(ctx context.Context) (T, bool) {
	for {
		if item, ok, closed := s.pop(); ok || closed {
			return item, ok
		}
		select {
		case <-s.ready:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// TryReceive returns the oldest item without blocking.
func (s *Stream[T]) TryReceive() (T, bool) {
	item, ok, _ := s.pop()
	return item, ok
}

// Close stops accepting items and detaches from the socket. Receivers
// get the remaining items first.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	detach := s.detach
	s.mu.Unlock()

	// Wake a blocked receiver.
	select {
	case s.ready <- struct{}{}:
	default:
	}
	if detach != nil {
		detach()
	}
}

// Len returns the current number of items.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Stats returns stream statistics.
func (s *Stream[T]) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamStats{
		Count:         s.count,
		Capacity:      s.capacity,
		TotalReceived: s.totalReceived,
		TotalSent:     s.totalSent,
		ResizeCount:   s.resizeCount,
	}
}

func (s *Stream[T]) pop() (item T, ok, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		if s.closed {
			// Keep the wakeup for other receivers.
			select {
			case s.ready <- struct{}{}:
			default:
			}
		}
		return item, false, s.closed
	}

	item = s.buf[s.head]
	var zero T
	s.buf[s.head] = zero // Clear reference for GC
	s.head = (s.head + 1) % s.capacity
	s.count--
	s.totalSent++
	if s.count > 0 {
		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
	return item, true, false
}

// grow doubles the capacity. Must be called with lock held.
func (s *Stream[T]) grow() {
	newCapacity := s.capacity * 2
	newBuf := make([]T, newCapacity)

	if s.count > 0 {
		if s.head < s.tail {
			// Contiguous: [head...tail)
			copy(newBuf, s.buf[s.head:s.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, s.buf[s.head:])
			copy(newBuf[n:], s.buf[:s.tail])
		}
	}

	s.buf = newBuf
	s.head = 0
	s.tail = s.count
	s.capacity = newCapacity
	s.resizeCount++
}
