package mq

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/reactormq/mqttgo/internal/packets"
)

func encodePacket(p packets.Packet) []byte {
	var buf bytes.Buffer
	_, _ = p.WriteTo(&buf)
	return buf.Bytes()
}

// dialFake dials a Client against a fakeTransport. Dial's background
// driver ticks the reactor; the test decides when the CONNACK arrives.
func dialFake(t *testing.T, opts ...Option) (*Client, *transportFactory) {
	t.Helper()
	tf := &transportFactory{}
	allOpts := append([]Option{withTestTransportFactory(tf.New)}, opts...)

	done := make(chan struct{})
	var c *Client
	var dialErr error
	go func() {
		c, dialErr = DialContext(context.Background(), "tcp://broker.example:1883", allOpts...)
		close(done)
	}()

	// Give dial's internal reactor a moment to enqueue the connect and
	// build the first transport, then answer with a successful CONNACK.
	var ft *fakeTransport
	for i := 0; i < 100; i++ {
		if ft = tf.last(); ft != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if ft == nil {
		t.Fatal("no transport was dialed within timeout")
	}
	// driveLoop ticks every 10ms; wait for Connect() to have run so the
	// pending EventConnected is queued, then let the next tick pick it up
	// and send CONNECT, then deliver the CONNACK.
	time.Sleep(15 * time.Millisecond)
	ft.deliver(encodePacket(&packets.ConnackPacket{ReturnCode: 0}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dial did not complete in time")
	}
	if dialErr != nil {
		t.Fatalf("DialContext: %v", dialErr)
	}
	return c, tf
}
