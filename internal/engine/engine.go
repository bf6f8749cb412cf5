// Package engine implements the session state machine (D) and reactor
// (E) the rest of the client is built around: it owns the command
// queue, the timer service, one transport.Transport, the in-flight
// tracker, and the subscription router, and drives all of them from a
// single Tick call. Nothing in this package runs its own goroutine —
// the driver (the root client, or a caller-supplied loop) decides when
// and how often Tick runs.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reactormq/mqttgo/internal/inflight"
	"github.com/reactormq/mqttgo/internal/packets"
	"github.com/reactormq/mqttgo/internal/router"
	"github.com/reactormq/mqttgo/internal/transport"
)

// Phase is the session's position in the state machine of §4.4.
type Phase uint8

const (
	Disconnected Phase = iota
	Connecting
	Handshaking
	Ready
	Disconnecting
	Reconnecting
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Ready:
		return "Ready"
	case Disconnecting:
		return "Disconnecting"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Sentinel errors returned directly by Enqueue* calls, before a command
// ever reaches the state machine.
var (
	ErrQueueFull        = errors.New("engine: command queue full")
	ErrNotReady         = errors.New("engine: session is not ready")
	ErrAlreadyConnected = errors.New("engine: already connected or connecting")
)

// Failure is the error type the reactor hands to completion callbacks
// and the OnDisconnect hook. Reason is a stable, lowercase tag; callers
// map it to a richer public error taxonomy (see mq.Kind) without this
// package needing to know about it.
type Failure struct {
	Reason    string
	Code      uint8
	HasCode   bool
	Retryable bool
	Err       error
}

func (f *Failure) Error() string {
	if f.HasCode {
		return fmt.Sprintf("engine: %s (code 0x%02X)", f.Reason, f.Code)
	}
	if f.Err != nil {
		return fmt.Sprintf("engine: %s: %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("engine: %s", f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

func failure(reason string, err error) *Failure {
	return &Failure{Reason: reason, Err: err}
}

func refusal(reason string, code uint8) *Failure {
	return &Failure{Reason: reason, Code: code, HasCode: true}
}

// Will mirrors mq's will-message configuration in the vocabulary this
// package already speaks (packets.Properties, raw bytes).
type Will struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Retain     bool
	Properties *packets.Properties
}

// MetricsSink matches mq.MetricsSink structurally so any value
// satisfying the public interface can be passed straight through
// without this package importing the root one.
type MetricsSink interface {
	IncPacketsSent(packetType uint8)
	IncPacketsReceived(packetType uint8)
	IncBytesSent(n int)
	IncBytesReceived(n int)
	IncPacketsDropped(reason string)
	IncRetransmissions()
	IncReconnects()
	SetInFlight(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncPacketsSent(uint8)     {}
func (noopMetrics) IncPacketsReceived(uint8) {}
func (noopMetrics) IncBytesSent(int)         {}
func (noopMetrics) IncBytesReceived(int)     {}
func (noopMetrics) IncPacketsDropped(string) {}
func (noopMetrics) IncRetransmissions()      {}
func (noopMetrics) IncReconnects()           {}
func (noopMetrics) SetInFlight(int)          {}

// Config carries everything the reactor needs that isn't per-command.
// It is built once by the caller (the root client) from the public
// configuration surface and handed to New.
type Config struct {
	ProtocolVersion uint8 // 4 or 5
	AllowFallback   bool
	ClientID        string
	CleanStart      bool

	KeepAlive        time.Duration
	HandshakeTimeout time.Duration
	Strict           bool

	MaxInboundPerTick  int
	MaxCommandsPerTick int
	MaxPendingCommands int

	Credentials func(ctx context.Context) (username, password string, hasCreds bool, err error)
	Will        *Will

	// ConnectProperties, if set, is attached to every outgoing CONNECT
	// when the session negotiates MQTT 5 (session expiry, receive
	// maximum, topic alias maximum, request response/problem
	// information, and enhanced-authentication method/data). Built once
	// by the caller; nil on MQTT 3.1.1 connections or when no v5
	// property was requested.
	ConnectProperties *packets.Properties

	Inflight inflight.Config

	AutoReconnect       bool
	ReconnectInitial    time.Duration
	ReconnectCap        time.Duration
	ReconnectMultiplier float64
	MaxConnectRetries   int

	Transport transport.Config

	// NewTransport overrides how a transport is built for each (re)connect
	// attempt. Nil means transport.New(cfg.Transport). Tests substitute a
	// fake here.
	NewTransport func() transport.Transport

	OnConnect    func(success bool, sessionPresent bool, err error)
	OnDisconnect func(err error)
	OnMessage    func(topic string, payload []byte, qos uint8, retained, dup bool, props *packets.Properties)

	// AuthMethod is echoed on every outgoing AUTH packet's properties
	// during an enhanced-authentication exchange; set together with
	// OnAuthChallenge.
	AuthMethod string

	// OnAuthChallenge answers a broker AUTH packet (ReasonContinue) with
	// the next client-side authentication data. Nil means the session
	// has no Authenticator installed, so a challenge aborts the
	// handshake (or the Ready session, for re-authentication).
	OnAuthChallenge func(serverData []byte, reasonCode uint8) ([]byte, error)

	Logger  *slog.Logger
	Metrics MetricsSink
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

func (c *Config) metrics() MetricsSink {
	if c.Metrics != nil {
		return c.Metrics
	}
	return noopMetrics{}
}

// Reactor is the session state machine plus its driving loop. It is not
// safe for concurrent use except where individual methods document
// otherwise (Enqueue*, IsConnected).
type Reactor struct {
	cfg    Config
	logger *slog.Logger
	metric MetricsSink

	transport transport.Transport
	tracker   *inflight.Tracker
	router    *router.Router
	timers    *timerService

	queue chan command

	phase   Phase
	version uint8

	fallbackTried     bool
	sessionPresent    bool
	connectAttempts   int
	reconnectAttempts int
	reconnectBackoff  time.Duration

	pendingConnect    *ConnectRequest
	pendingDisconnect *DisconnectRequest

	lastConnackProps   *packets.Properties
	effectiveKeepAlive time.Duration

	lastOutboundAt   time.Time
	lastPingSentAt   time.Time
	awaitingPingResp bool

	keepAliveTimerID  int
	handshakeTimerID  int
	reconnectTimerID  int
	retransmitTimerID int
	haveKeepAlive     bool
	haveHandshake     bool
	haveReconnect     bool
	haveRetransmit    bool
}

// New builds a Reactor in the Disconnected phase.
func New(cfg Config) *Reactor {
	if cfg.MaxInboundPerTick <= 0 {
		cfg.MaxInboundPerTick = 64
	}
	if cfg.MaxCommandsPerTick <= 0 {
		cfg.MaxCommandsPerTick = 64
	}
	if cfg.MaxPendingCommands <= 0 {
		cfg.MaxPendingCommands = 1000
	}
	if cfg.Inflight.MaxPendingCommands <= 0 {
		cfg.Inflight.MaxPendingCommands = cfg.MaxPendingCommands
	}
	if cfg.Inflight.RetryInitial <= 0 {
		cfg.Inflight.RetryInitial = time.Second
	}
	if cfg.Inflight.RetryMultiplier <= 0 {
		cfg.Inflight.RetryMultiplier = 2.0
	}
	if cfg.Inflight.MaxPacketRetries <= 0 {
		cfg.Inflight.MaxPacketRetries = 5
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMultiplier <= 0 {
		cfg.ReconnectMultiplier = 2.0
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	r := &Reactor{
		cfg:              cfg,
		logger:           cfg.logger(),
		metric:           cfg.metrics(),
		tracker:          inflight.NewTracker(cfg.Inflight),
		router:           router.New(),
		timers:           newTimerService(),
		queue:            make(chan command, cfg.MaxPendingCommands),
		phase:            Disconnected,
		version:          cfg.ProtocolVersion,
		reconnectBackoff: cfg.ReconnectInitial,
	}
	return r
}

// Phase reports the current state machine position. Safe to call from
// any thread; it's a plain field read racing with the reactor thread
// the same way IsConnected does in the transport layer, which is
// acceptable for a status readout that's stale the instant it returns.
func (r *Reactor) Phase() Phase {
	return r.phase
}

// IsConnected reports whether the session is in the Ready state.
func (r *Reactor) IsConnected() bool {
	return r.phase == Ready
}

// Router exposes the live subscription table for read access (e.g. a
// Stats() accessor on the public client).
func (r *Reactor) Router() *router.Router {
	return r.router
}

// ConnackProperties returns the MQTT 5 properties carried on the most
// recently accepted CONNACK, or nil on MQTT 3.1.1 connections or before
// any handshake has completed successfully.
func (r *Reactor) ConnackProperties() *packets.Properties {
	return r.lastConnackProps
}

// ClientID returns the client identifier currently in use, which may
// have been overwritten by a server-assigned identifier carried on a
// prior CONNACK (MQTT 5 only).
func (r *Reactor) ClientID() string {
	return r.cfg.ClientID
}

func (r *Reactor) newTransport() transport.Transport {
	if r.cfg.NewTransport != nil {
		return r.cfg.NewTransport()
	}
	return transport.New(r.cfg.Transport)
}

func decodePacket(raw []byte, version uint8) (packets.Packet, error) {
	rd := bytes.NewReader(raw)
	header, err := packets.DecodeFixedHeader(rd)
	if err != nil {
		return nil, fmt.Errorf("engine: decode fixed header: %w", err)
	}
	body := raw[len(raw)-rd.Len():]

	switch header.PacketType {
	case packets.CONNACK:
		return packets.DecodeConnack(body, version)
	case packets.PUBLISH:
		return packets.DecodePublish(body, header, version)
	case packets.PUBACK:
		return packets.DecodePuback(body, version)
	case packets.PUBREC:
		return packets.DecodePubrec(body, version)
	case packets.PUBREL:
		return packets.DecodePubrel(body, version)
	case packets.PUBCOMP:
		return packets.DecodePubcomp(body, version)
	case packets.SUBACK:
		return packets.DecodeSuback(body, version)
	case packets.UNSUBACK:
		return packets.DecodeUnsuback(body, version)
	case packets.PINGRESP:
		return packets.DecodePingresp(body)
	case packets.DISCONNECT:
		return packets.DecodeDisconnect(body, version)
	case packets.AUTH:
		return packets.DecodeAuth(body, version)
	default:
		return nil, fmt.Errorf("engine: unexpected inbound packet type %d", header.PacketType)
	}
}

func encodePacket(p packets.Packet) []byte {
	var buf bytes.Buffer
	_, _ = p.WriteTo(&buf)
	return buf.Bytes()
}

// send writes data to the transport, tracking it for keep-alive
// purposes and metrics. The caller decides what to do on error (most
// callers surface ErrBackpressure straight to a completion handle).
func (r *Reactor) send(now time.Time, packetType uint8, data []byte) error {
	if err := r.transport.Send(data); err != nil {
		return err
	}
	r.lastOutboundAt = now
	r.metric.IncBytesSent(len(data))
	r.metric.IncPacketsSent(packetType)
	return nil
}
