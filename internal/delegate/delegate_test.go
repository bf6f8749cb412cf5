package delegate

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestBroadcastInvokesAllLiveCallbacks(t *testing.T) {
	m := New[int]()
	var got1, got2 int
	m.Add(func(v int) { got1 = v })
	m.Add(func(v int) { got2 = v })

	m.Broadcast(42)

	if got1 != 42 || got2 != 42 {
		t.Errorf("got1=%d got2=%d, want both 42", got1, got2)
	}
}

func TestDetachStopsFutureBroadcasts(t *testing.T) {
	m := New[int]()
	calls := 0
	h := m.Add(func(int) { calls++ })

	m.Broadcast(1)
	h.Detach()
	m.Broadcast(1)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after Detach", m.Len())
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	m := New[int]()
	h := m.Add(func(int) {})
	h.Detach()
	h.Detach() // must not panic
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestNilHandleDetachIsNoop(t *testing.T) {
	var h *Handle
	h.Detach() // must not panic
}

func TestDetachDuringBroadcastTakesEffectNextBroadcast(t *testing.T) {
	m := New[int]()
	var h2 *Handle
	callCount1, callCount2 := 0, 0

	m.Add(func(int) {
		callCount1++
		h2.Detach()
	})
	h2 = m.Add(func(int) { callCount2++ })

	m.Broadcast(1)
	// Per the spec, concurrent removal takes effect on the next
	// broadcast, not mid-iteration: both callbacks registered before
	// this call still ran once.
	if callCount1 != 1 || callCount2 != 1 {
		t.Fatalf("callCount1=%d callCount2=%d, want 1,1 for the in-flight broadcast", callCount1, callCount2)
	}

	m.Broadcast(1)
	if callCount2 != 1 {
		t.Errorf("callCount2 = %d, want 1 (detached before the second broadcast)", callCount2)
	}
}

func TestAddDuringBroadcastDoesNotRunUntilNextBroadcast(t *testing.T) {
	m := New[int]()
	var calls2 int
	m.Add(func(int) {
		m.Add(func(int) { calls2++ })
	})

	m.Broadcast(1)
	if calls2 != 0 {
		t.Fatalf("calls2 = %d, want 0 (added mid-broadcast)", calls2)
	}

	m.Broadcast(1)
	if calls2 != 1 {
		t.Errorf("calls2 = %d, want 1 after the next broadcast", calls2)
	}
}

func TestPanicInCallbackDoesNotStopOthers(t *testing.T) {
	m := New[int]()
	var ranAfterPanic bool
	m.Add(func(int) { panic("boom") })
	m.Add(func(int) { ranAfterPanic = true })

	m.Broadcast(1) // must not propagate the panic out of Broadcast

	if !ranAfterPanic {
		t.Error("callback registered after the panicking one should still run")
	}
}

func TestConcurrentAddAndBroadcast(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Add(func(int) {})
		}()
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Broadcast(1)
		}()
	}
	wg.Wait()
}

func TestAutoDetachOnHandleCollection(t *testing.T) {
	m := New[int]()

	func() {
		h := m.AddAutoDetach(func(int) {})
		_ = h
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if m.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Len() = %d, want 0 once the handle was collected", m.Len())
}

func TestClearDetachesEverything(t *testing.T) {
	m := New[int]()
	m.Add(func(int) {})
	m.Add(func(int) {})
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after Clear", m.Len())
	}
}
