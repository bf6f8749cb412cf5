// Package delegate implements the multicast callback fabric every public
// event hook (OnConnect, OnDisconnect, OnMessage, OnServerRedirect) is
// built from. A Multicast is safe for concurrent Add and
// Broadcast calls from any goroutine; Broadcast always runs against a
// snapshot taken under the lock, so adds and removes made from inside a
// callback never affect the broadcast already in progress.
package delegate

import (
	"runtime"
	"sync"
)

// Policy controls whether a Handle detaches its callback automatically
// when the Handle itself becomes unreachable, or only when Detach is
// called explicitly.
type Policy uint8

const (
	// Manual requires an explicit Handle.Detach call.
	Manual Policy = iota
	// AutoDetach removes the callback once the Handle is garbage
	// collected, via runtime.AddCleanup.
	AutoDetach
)

// Handle represents one registered callback. Detach is idempotent and
// safe to call from any goroutine, including from within the callback it
// guards.
type Handle struct {
	detach func()
	once   sync.Once
}

// Detach removes the callback this handle guards. A nil Handle or a
// Handle that was never attached to a live Multicast is a no-op.
func (h *Handle) Detach() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.detach != nil {
			h.detach()
		}
	})
}

// Multicast is a thread-safe collection of callbacks sharing one argument
// type. The zero value is not usable; construct with New.
type Multicast[T any] struct {
	mu     sync.Mutex
	nextID uint64
	slots  map[uint64]func(T)
}

// New builds an empty Multicast.
func New[T any]() *Multicast[T] {
	return &Multicast[T]{slots: make(map[uint64]func(T))}
}

// Add registers fn with Manual detach policy.
func (m *Multicast[T]) Add(fn func(T)) *Handle {
	return m.add(fn, Manual)
}

// AddAutoDetach registers fn and arranges for it to detach automatically
// once the returned Handle is collected, so a caller that drops the
// handle without calling Detach doesn't leak a slot forever.
func (m *Multicast[T]) AddAutoDetach(fn func(T)) *Handle {
	return m.add(fn, AutoDetach)
}

func (m *Multicast[T]) add(fn func(T), policy Policy) *Handle {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.slots[id] = fn
	m.mu.Unlock()

	h := &Handle{detach: func() {
		m.mu.Lock()
		delete(m.slots, id)
		m.mu.Unlock()
	}}

	if policy == AutoDetach {
		runtime.AddCleanup(h, func(detach func()) { detach() }, h.detach)
	}
	return h
}

// Broadcast invokes every live callback, in an unspecified order, with
// arg. Callbacks are untrusted: a panic in one is recovered so it cannot
// stall the reactor or prevent the remaining callbacks from running.
func (m *Multicast[T]) Broadcast(arg T) {
	m.mu.Lock()
	snapshot := make([]func(T), 0, len(m.slots))
	for _, fn := range m.slots {
		snapshot = append(snapshot, fn)
	}
	m.mu.Unlock()

	for _, fn := range snapshot {
		invoke(fn, arg)
	}
}

func invoke[T any](fn func(T), arg T) {
	defer func() {
		recover()
	}()
	fn(arg)
}

// Len reports the number of currently registered callbacks.
func (m *Multicast[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Clear detaches every registered callback.
func (m *Multicast[T]) Clear() {
	m.mu.Lock()
	m.slots = make(map[uint64]func(T))
	m.mu.Unlock()
}
