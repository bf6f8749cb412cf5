package engine

import (
	"context"
	"sync"

	"github.com/reactormq/mqttgo/internal/transport"
)

// fakeTransport is an in-memory stand-in for a real transport.Transport,
// letting tests drive EventConnected/EventData/EventDisconnected directly
// without a socket. One instance models one dial attempt, matching the
// real transport's single-use lifecycle.
type fakeTransport struct {
	mu sync.Mutex

	connectErr error // if set, Connect queues EventDisconnected instead of EventConnected

	connected    bool
	closed       bool
	connectCalls int
	closeReasons []error

	sent    [][]byte
	pending []transport.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		f.pending = append(f.pending, transport.Event{Kind: transport.EventDisconnected, Err: f.connectErr})
		return
	}
	f.connected = true
	f.pending = append(f.pending, transport.Event{Kind: transport.EventConnected})
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Close(reason error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.connected = false
	f.closeReasons = append(f.closeReasons, reason)
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Tick() []transport.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

// deliver queues a complete fixed-header-plus-body frame as an inbound
// EventData, the shape internal/transport hands the reactor for a
// decoded packet.
func (f *fakeTransport) deliver(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, transport.Event{Kind: transport.EventData, Packet: data})
}

func (f *fakeTransport) dropConnection(reason error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.pending = append(f.pending, transport.Event{Kind: transport.EventDisconnected, Err: reason})
}

func (f *fakeTransport) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// transportFactory hands out a fresh fakeTransport per (re)connect
// attempt, mirroring Config.NewTransport's contract, and remembers every
// one it built so a test can inspect the dial history across reconnects
// and protocol-version fallback.
type transportFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
}

func (tf *transportFactory) New() transport.Transport {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	ft := newFakeTransport()
	tf.created = append(tf.created, ft)
	return ft
}

func (tf *transportFactory) last() *fakeTransport {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if len(tf.created) == 0 {
		return nil
	}
	return tf.created[len(tf.created)-1]
}

func (tf *transportFactory) count() int {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return len(tf.created)
}
