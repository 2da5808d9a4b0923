package socket

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestStream_BasicPushReceive(t *testing.T) {
	s := NewStream[int](10)

	for i := 0; i < 5; i++ {
		if !s.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if s.Len() != 5 {
		t.Errorf("Len = %d, want 5", s.Len())
	}

	for i := 0; i < 5; i++ {
		v, ok := s.Receive(context.Background())
		if !ok {
			t.Fatalf("Receive returned false at %d", i)
		}
		if v != i {
			t.Errorf("Receive = %d, want %d", v, i)
		}
	}
}

func TestStream_GrowAt70Percent(t *testing.T) {
	s := NewStream[int](10)

	// Threshold is 7: the 7th push grows to 20.
	for i := 0; i < 6; i++ {
		s.Push(i)
	}
	if got := s.Stats().Capacity; got != 10 {
		t.Errorf("Capacity after 6 = %d, want 10", got)
	}

	s.Push(6)
	stats := s.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity after 7 = %d, want 20", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}
}

func TestStream_WrapAround(t *testing.T) {
	s := NewStream[int](10)

	// Move head forward, then push enough to wrap and grow.
	for i := 0; i < 5; i++ {
		s.Push(i)
	}
	for i := 0; i < 5; i++ {
		s.TryReceive()
	}
	for i := 0; i < 12; i++ {
		s.Push(100 + i)
	}

	for i := 0; i < 12; i++ {
		v, ok := s.TryReceive()
		if !ok || v != 100+i {
			t.Fatalf("TryReceive = %d, %v; want %d", v, ok, 100+i)
		}
	}
	if _, ok := s.TryReceive(); ok {
		t.Error("TryReceive on empty stream returned true")
	}
}

func TestStream_BlockingReceive(t *testing.T) {
	s := NewStream[string](4)

	got := make(chan string, 1)
	go func() {
		v, _ := s.Receive(context.Background())
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	s.Push("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("Receive = %q, want hello", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock")
	}
}

func TestStream_CloseDrainsThenStops(t *testing.T) {
	s := NewStream[int](4)
	s.Push(1)
	s.Close()

	if s.Push(2) {
		t.Error("Push after Close returned true")
	}

	v, ok := s.Receive(context.Background())
	if !ok || v != 1 {
		t.Errorf("Receive = %d, %v; want 1, true", v, ok)
	}
	if _, ok := s.Receive(context.Background()); ok {
		t.Error("Receive on closed empty stream returned true")
	}
}

func TestStream_CloseUnblocksReceivers(t *testing.T) {
	s := NewStream[int](4)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Receive(context.Background())
		}()
	}

	time.Sleep(10 * time.Millisecond)
	s.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receivers not unblocked by Close")
	}
}

func TestStream_ReceiveContextCancel(t *testing.T) {
	s := NewStream[int](4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, ok := s.Receive(ctx); ok {
		t.Error("Receive returned true after context timeout")
	}
}

func TestSubscribe(t *testing.T) {
	conn := newFakeConn(true)
	m := New(conn)

	s := Subscribe(m, EventTyping, 8)
	conn.deliver(`{"event":"typing","data":{"userId":"u1","isTyping":true}}`)
	conn.deliver(`{"event":"typing","data":{"userId":"u2","isTyping":false}}`)

	first, _ := s.TryReceive()
	second, _ := s.TryReceive()
	if first.UserID != "u1" || second.UserID != "u2" {
		t.Errorf("got %q, %q; want u1, u2", first.UserID, second.UserID)
	}

	s.Close()
	conn.deliver(`{"event":"typing","data":{"userId":"u3"}}`)
	if s.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", s.Len())
	}
	if got := m.Stats().UnknownEvents; got != 1 {
		t.Errorf("UnknownEvents = %d, want 1", got)
	}
}
