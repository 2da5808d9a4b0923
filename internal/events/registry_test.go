package events

import (
	"sync"
	"testing"
)

func TestRegistry_DispatchOrder(t *testing.T) {
	r := NewRegistry[int]()

	var got []string
	r.On("tick", func(v int) { got = append(got, "a") })
	r.On("tick", func(v int) { got = append(got, "b") })
	r.On("other", func(v int) { got = append(got, "x") })
	r.On("tick", func(v int) { got = append(got, "c") })

	r.Dispatch("tick", 1)

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("handler %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_PanicIsolation(t *testing.T) {
	r := NewRegistry[string]()

	var recovered []any
	r.OnPanic(func(event string, rec any) { recovered = append(recovered, rec) })

	var calls int
	r.On("msg", func(string) { calls++ })
	r.On("msg", func(string) { panic("boom") })
	r.On("msg", func(string) { calls++ })

	panics := r.Dispatch("msg", "hi")

	if panics != 1 {
		t.Errorf("panics = %d, want 1", panics)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(recovered) != 1 || recovered[0] != "boom" {
		t.Errorf("recovered = %v, want [boom]", recovered)
	}
}

func TestRegistry_OffIsIdempotent(t *testing.T) {
	r := NewRegistry[int]()

	calls := 0
	sub := r.On("e", func(int) { calls++ })
	keep := r.On("e", func(int) { calls += 10 })

	if !r.Off(sub) {
		t.Error("first Off() = false, want true")
	}
	if r.Off(sub) {
		t.Error("second Off() = true, want false")
	}

	r.Dispatch("e", 0)
	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}
	if r.Count("e") != 1 {
		t.Errorf("Count() = %d, want 1", r.Count("e"))
	}

	r.Off(keep)
	if r.Count("e") != 0 {
		t.Errorf("Count() = %d, want 0", r.Count("e"))
	}
}

func TestRegistry_OffDuringDispatch(t *testing.T) {
	r := NewRegistry[int]()

	var later Subscription
	var got []string
	r.On("e", func(int) {
		got = append(got, "first")
		r.Off(later)
	})
	later = r.On("e", func(int) { got = append(got, "second") })
	r.On("e", func(int) { got = append(got, "third") })

	// The in-flight dispatch still runs its snapshot.
	r.Dispatch("e", 0)
	if len(got) != 3 {
		t.Fatalf("first dispatch got %v, want 3 handlers", got)
	}

	got = nil
	r.Dispatch("e", 0)
	if len(got) != 2 || got[0] != "first" || got[1] != "third" {
		t.Errorf("second dispatch got %v, want [first third]", got)
	}
}

func TestNotifier_FIFOWithReentrantPost(t *testing.T) {
	var n Notifier

	var got []int
	n.Post(func() {
		got = append(got, 1)
		n.Post(func() { got = append(got, 3) })
		n.Drain() // re-entrant: must not deliver 3 before 2
		got = append(got, 10)
	})
	n.Post(func() { got = append(got, 2) })
	n.Drain()

	want := []int{1, 10, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestNotifier_ConcurrentPosters(t *testing.T) {
	var n Notifier
	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Post(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
			n.Drain()
		}()
	}
	wg.Wait()
	n.Drain()

	mu.Lock()
	defer mu.Unlock()
	if count != 50 {
		t.Errorf("delivered %d notifications, want 50", count)
	}
}
