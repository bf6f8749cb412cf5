package mq

import (
	"context"
	"sync"

	"github.com/reactormq/mqttgo/internal/transport"
)

// fakeTransport is an in-memory stand-in for a real transport.Transport,
// letting root-level tests drive a connect/publish/subscribe lifecycle
// without a socket. One instance models one dial attempt.
type fakeTransport struct {
	mu sync.Mutex

	connectErr error

	connected    bool
	closed       bool
	connectCalls int

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
	f.pending = append(f.pending, transport.Event{Kind: transport.EventDisconnected, Err: reason})
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

// deliver queues a complete encoded packet as an inbound EventData.
func (f *fakeTransport) deliver(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, transport.Event{Kind: transport.EventData, Packet: data})
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// transportFactory hands out a fresh fakeTransport per (re)connect
// attempt, matching what Client.buildEngineConfig wires into
// engine.Config.NewTransport for tests.
type transportFactory struct {
	mu      sync.Mutex
	created []*fakeTransport

	// nextConnectErr, if set, is installed on the next fakeTransport built
	// and then cleared, letting a test fail a single dial attempt.
	nextConnectErr error
}

func (tf *transportFactory) New() transport.Transport {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	ft := newFakeTransport()
	ft.connectErr = tf.nextConnectErr
	tf.nextConnectErr = nil
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
