// Package transport implements the non-blocking byte-stream abstraction
// of §4.2 over the four wire variants §1 requires: plain TCP, TLS over
// TCP, WebSocket over TCP, and WebSocket over TLS.
//
// Go has no user-mode socket-readiness polling the way the spec's
// reactor envisions, so each backend runs one blocking reader goroutine
// and one blocking writer goroutine (supervised by an errgroup.Group).
// The reader goroutine also deframes inbound bytes into whole MQTT
// packets before handing them over the event channel, and the writer
// goroutine releases outbound-queue accounting as bytes are written.
// Acting on events, and the outbound-cap check in Send, stay on the
// goroutine that calls Tick and Send, matching the single-threaded
// cooperative model of §5.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Kind selects which of the four wire variants a Transport dials.
type Kind uint8

const (
	KindTCP Kind = iota
	KindTLS
	KindWS
	KindWSS
)

// EventKind tags an Event.
type EventKind uint8

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventData
)

// Event is one item emitted by a Transport's event channel.
type Event struct {
	Kind EventKind
	// Packet holds one complete, deframed MQTT packet for EventData.
	Packet []byte
	// Err carries the disconnect cause for EventDisconnected; nil for a
	// caller-requested Close.
	Err error
}

// Config carries the dial parameters and size caps a Transport needs.
// It intentionally mirrors only the subset of mq's config this package
// requires, keeping internal/transport free of a dependency on the root
// package.
type Config struct {
	Kind Kind

	Host string
	Port int
	Path string // WebSocket path, required for KindWS/KindWSS

	TLSConfig *tls.Config

	ConnectTimeout   time.Duration
	MaxPacketSize    int
	MaxInboundBuffer int
	MaxOutboundQueue int

	Logger *slog.Logger
}

func nonZero(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Transport is the uniform interface the reactor drives. A Transport is
// single-owner: only the reactor goroutine calls its methods.
type Transport interface {
	// Connect begins an asynchronous connect. Completion is observed as
	// an EventConnected or EventDisconnected returned by Tick. Each call
	// starts a new dial; a call while already connecting or connected is
	// not ignored.
	Connect(ctx context.Context)

	// Send attempts to enqueue bytes for writing. Returns an error
	// immediately, without enqueuing, if doing so would exceed the
	// configured outbound queue cap.
	Send(b []byte) error

	// Close initiates teardown of a started connection; always leads to
	// exactly one EventDisconnected, asynchronously, returned by Tick.
	Close(reason error)

	// IsConnected reports the last observed connection state.
	IsConnected() bool

	// Tick drains currently-available events without blocking.
	Tick() []Event
}

const eventBufferSize = 256

// baseTransport holds the plumbing shared by every backend: the event
// channel, outbound byte accounting, and goroutine supervision.
type baseTransport struct {
	cfg Config

	events chan Event

	connected   atomic.Bool
	outbound    atomic.Int64 // bytes queued but not yet written
	closeOnce   chan struct{}
	closed      atomic.Bool
	group       *errgroup.Group
	groupCancel context.CancelFunc

	outboundCh chan []byte
}

func newBaseTransport(cfg Config) *baseTransport {
	return &baseTransport{
		cfg:        cfg,
		events:     make(chan Event, eventBufferSize),
		closeOnce:  make(chan struct{}),
		outboundCh: make(chan []byte, 256),
	}
}

func (b *baseTransport) IsConnected() bool {
	return b.connected.Load()
}

func (b *baseTransport) Tick() []Event {
	var out []Event
	for {
		select {
		case ev := <-b.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (b *baseTransport) Send(data []byte) error {
	if b.closed.Load() {
		return errors.New("transport: send on closed transport")
	}
	if b.outbound.Load()+int64(len(data)) > int64(b.cfg.MaxOutboundQueue) {
		return ErrBackpressure
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.outbound.Add(int64(len(data)))
	select {
	case b.outboundCh <- cp:
		return nil
	default:
		b.outbound.Add(-int64(len(data)))
		return ErrBackpressure
	}
}

// ErrBackpressure is returned by Send when the outbound queue cap would
// be exceeded. The engine package maps it to ReactorError{Kind:
// BackpressureExceeded}.
var ErrBackpressure = errors.New("transport: outbound queue cap exceeded")

func (b *baseTransport) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		// Event channel full: drop the oldest to make room rather than
		// block the reader/writer goroutine. Tick() is expected to run
		// frequently enough that this never triggers in practice.
		select {
		case <-b.events:
		default:
		}
		select {
		case b.events <- ev:
		default:
		}
	}
}

func (b *baseTransport) runDuplex(ctx context.Context, conn io.ReadWriteCloser) {
	g, gctx := errgroup.WithContext(ctx)
	b.group = g

	// Closing conn unblocks a reader parked in Read once the group is
	// cancelled, whether by Close or by the other goroutine failing.
	go func() {
		<-gctx.Done()
		conn.Close()
	}()

	fb := newFrameBuffer(b.cfg.MaxPacketSize, b.cfg.MaxInboundBuffer)

	g.Go(func() error {
		return readLoop(gctx, conn, fb, b)
	})
	g.Go(func() error {
		return writeLoop(gctx, conn, b)
	})

	b.connected.Store(true)
	b.emit(Event{Kind: EventConnected})

	go func() {
		err := g.Wait()
		conn.Close()
		b.connected.Store(false)
		if !b.closed.Load() {
			b.emit(Event{Kind: EventDisconnected, Err: err})
		} else {
			b.emit(Event{Kind: EventDisconnected, Err: nil})
		}
	}()
}

func readLoop(ctx context.Context, conn io.Reader, fb *frameBuffer, b *baseTransport) error {
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := conn.Read(buf)
		if n > 0 {
			packets, ferr := fb.feed(buf[:n])
			for _, pkt := range packets {
				b.emit(Event{Kind: EventData, Packet: pkt})
			}
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
}

func writeLoop(ctx context.Context, conn io.Writer, b *baseTransport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-b.outboundCh:
			_, err := conn.Write(data)
			b.outbound.Add(-int64(len(data)))
			if err != nil {
				return err
			}
		}
	}
}

func (b *baseTransport) close(reason error) {
	if b.closed.Swap(true) {
		return
	}
	if b.groupCancel != nil {
		b.groupCancel()
	}
	_ = reason
}
