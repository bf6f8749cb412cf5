package mq

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/reactormq/mqttgo/internal/transport"
)

// ProtocolVersion selects which MQTT wire version a connection negotiates.
type ProtocolVersion uint8

const (
	// ProtocolV311 is MQTT 3.1.1 (protocol level 4).
	ProtocolV311 ProtocolVersion = 4
	// ProtocolV50 is MQTT 5.0 (protocol level 5).
	ProtocolV50 ProtocolVersion = 5
)

// Transport names the four wire transports §1 requires support for.
type Transport uint8

const (
	TransportTCP Transport = iota
	TransportTLS
	TransportWS
	TransportWSS
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportTLS:
		return "ssl"
	case TransportWS:
		return "ws"
	case TransportWSS:
		return "wss"
	default:
		return "unknown"
	}
}

// CredentialsProvider supplies CONNECT credentials and, optionally, MQTT
// 5.0 enhanced-authentication data. Implementations may refresh
// credentials dynamically (e.g. short-lived tokens); concurrent refresh
// calls are deduplicated by the client via singleflight.
type CredentialsProvider interface {
	// GetCredentials returns the username/password pair to present in
	// CONNECT. Either may be empty.
	GetCredentials() (username, password string, err error)
}

// Authenticator extends CredentialsProvider with MQTT 5.0 enhanced
// authentication (the AUTH packet challenge/response exchange, and
// unsolicited re-authentication).
type Authenticator interface {
	CredentialsProvider

	// AuthMethod names the SASL-style method advertised in CONNECT.
	AuthMethod() string

	// InitialAuthData is sent as authentication data in CONNECT, if any.
	InitialAuthData() []byte

	// OnAuthChallenge answers a server AUTH challenge with the next
	// client-side authentication data.
	OnAuthChallenge(serverData []byte, reasonCode ReasonCode) ([]byte, error)
}

// VerifyFunc overrides per-certificate TLS verification decisions.
// preverify reports whether Go's own chain verification already
// succeeded; ctx is the verified chain information.
type VerifyFunc func(preverify bool, ctx *tls.ConnectionState) bool

// Executor marshals a delegate invocation onto a caller-chosen thread
// (e.g. a UI event loop). If nil, delegates run inline on the reactor
// goroutine.
type Executor func(func())

// Default tuning values (§3).
const (
	DefaultMaxPacketSize      = 1 << 20          // 1 MiB
	DefaultMaxInboundBuffer   = 64 << 20          // 64 MiB
	DefaultMaxOutboundQueue   = 10 << 20          // 10 MiB
	DefaultRetryInitial       = 1 * time.Second
	DefaultRetryMultiplier    = 2.0
	DefaultRetryCap           = 30 * time.Second
	DefaultMaxPacketRetries   = 5
	DefaultMaxConnectRetries  = 0 // 0 = unlimited
	DefaultConnectTimeout     = 10 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultKeepAlive          = 60 * time.Second
	DefaultReconnectInitial   = 1 * time.Second
	DefaultReconnectCap       = 60 * time.Second
	DefaultReconnectMultiplier = 2.0
	DefaultMaxInboundPerTick  = 64
	DefaultMaxPendingCommands = 1000
)

// config holds every field of §3's ConnectionConfig plus the ambient
// (logging, metrics, executor) knobs. It is built once by Dial/DialContext
// via functional Options and never mutated afterward.
type config struct {
	host      string
	port      int
	transport Transport
	path      string // WebSocket URI path, required for WS/WSS

	clientID string

	// cleanStart is CONNECT's Clean Session (v3.1.1) / Clean Start (v5)
	// flag. This client never persists subscription or in-flight state
	// to disk (see Non-goals), so it defaults to true; WithCleanStart
	// exists mainly so a caller can request session resumption against
	// a broker that keeps its own session state across reconnects.
	cleanStart bool

	protocolVersion  ProtocolVersion
	allowFallback    bool // redial at the other protocol version if refused

	credentials CredentialsProvider
	authn       Authenticator

	tlsConfig  *tls.Config
	verifyFunc VerifyFunc

	// size caps
	maxPacketSize    int
	maxInboundBuffer int
	maxOutboundQueue int

	// retry
	retryInitial     time.Duration
	retryMultiplier  float64
	retryCap         time.Duration
	maxPacketRetries int
	maxConnRetries   int

	// timeouts
	connectTimeout   time.Duration
	handshakeTimeout time.Duration
	keepAlive        time.Duration

	// auto-reconnect
	autoReconnect       bool
	reconnectInitial    time.Duration
	reconnectCap        time.Duration
	reconnectMultiplier float64

	// behavior
	strict             bool
	enforceInboundSize bool
	maxInboundPerTick  int
	maxPendingCommands int
	maxTopicLength     int
	maxPayloadSize     int

	will *willMessage

	executor Executor
	logger   *slog.Logger
	metrics  MetricsSink

	// newTransport overrides how client.go builds a transport for each
	// (re)connect attempt. Nil in production, where it defaults to a
	// real transport.New(...); tests substitute an in-memory fake here.
	newTransport func() transport.Transport
}

type willMessage struct {
	topic      string
	payload    []byte
	qos        QoS
	retain     bool
	properties *Properties
}

// Option configures a client at Dial time.
type Option func(*config)

func defaultConfig() *config {
	return &config{
		transport:           TransportTCP,
		cleanStart:          true,
		protocolVersion:     ProtocolV50,
		allowFallback:       true,
		maxPacketSize:       DefaultMaxPacketSize,
		maxInboundBuffer:    DefaultMaxInboundBuffer,
		maxOutboundQueue:    DefaultMaxOutboundQueue,
		retryInitial:        DefaultRetryInitial,
		retryMultiplier:     DefaultRetryMultiplier,
		retryCap:            DefaultRetryCap,
		maxPacketRetries:    DefaultMaxPacketRetries,
		maxConnRetries:      DefaultMaxConnectRetries,
		connectTimeout:      DefaultConnectTimeout,
		handshakeTimeout:    DefaultHandshakeTimeout,
		keepAlive:           DefaultKeepAlive,
		autoReconnect:       false,
		reconnectInitial:    DefaultReconnectInitial,
		reconnectCap:        DefaultReconnectCap,
		reconnectMultiplier: DefaultReconnectMultiplier,
		strict:              false,
		enforceInboundSize:  true,
		maxInboundPerTick:   DefaultMaxInboundPerTick,
		maxPendingCommands:  DefaultMaxPendingCommands,
		logger:              slog.New(slog.NewTextHandler(discardWriter{}, nil)),
		metrics:             noopMetrics{},
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// parseURI fills host/port/transport/path from a broker URI of the form
// scheme://host:port/path, where scheme is one of tcp, ssl/tls,
// ws, wss. Matches the teacher's own URI convention.
func parseURI(uri string) (*config, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, wrapError(ConfigInvalid, "invalid broker URI", err)
	}

	c := defaultConfig()

	switch u.Scheme {
	case "tcp", "":
		c.transport = TransportTCP
	case "ssl", "tls":
		c.transport = TransportTLS
	case "ws":
		c.transport = TransportWS
	case "wss":
		c.transport = TransportWSS
	default:
		return nil, newError(ConfigInvalid, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	c.host = u.Hostname()
	if c.host == "" {
		return nil, newError(ConfigInvalid, "broker URI is missing a host")
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, wrapError(ConfigInvalid, "invalid port", err)
		}
		c.port = port
	} else {
		switch c.transport {
		case TransportTLS, TransportWSS:
			c.port = 8883
		default:
			c.port = 1883
		}
	}

	if c.transport == TransportWS || c.transport == TransportWSS {
		if u.Path == "" {
			c.path = "/mqtt"
		} else {
			c.path = u.Path
		}
	}

	return c, nil
}

// validate enforces §3's invariants.
func (c *config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return newError(ConfigInvalid, fmt.Sprintf("port %d out of range [1,65535]", c.port))
	}
	if (c.transport == TransportWS || c.transport == TransportWSS) && c.path == "" {
		return newError(ConfigInvalid, "WebSocket transport requires a non-empty path")
	}
	if c.retryInitial <= 0 || c.reconnectInitial <= 0 {
		return newError(ConfigInvalid, "retry/reconnect intervals must be strictly positive")
	}
	if c.retryMultiplier < 1.0 || c.reconnectMultiplier < 1.0 {
		return newError(ConfigInvalid, "retry/reconnect multipliers must be >= 1.0")
	}
	if c.maxOutboundQueue < c.maxPacketSize {
		return newError(ConfigInvalid, "max outbound queue must be >= max packet size")
	}
	if len(c.clientID) > MaxClientIDLength && c.protocolVersion == ProtocolV311 {
		c.logger.Warn("client id exceeds recommended length for MQTT 3.1.1", "len", len(c.clientID))
	}
	return nil
}

// WithClientID sets the MQTT client identifier. If left unset, Dial
// generates a random one; the Clean Start flag stays whatever
// WithCleanStart sets (true by default).
func WithClientID(id string) Option {
	return func(c *config) { c.clientID = id }
}

// WithCleanStart sets CONNECT's Clean Session (v3.1.1) / Clean Start
// (v5) flag. Defaults to true; this client has no local persistence
// layer, so requesting false only matters if the broker itself retains
// session state (subscriptions, undelivered QoS 1/2 messages) across a
// reconnect.
func WithCleanStart(clean bool) Option {
	return func(c *config) { c.cleanStart = clean }
}

// WithProtocolVersion selects the preferred MQTT wire version. Defaults
// to MQTT 5.0, with fallback to 3.1.1 on UnsupportedProtocolVersion
// unless WithProtocolFallback(false) is also given.
func WithProtocolVersion(v ProtocolVersion) Option {
	return func(c *config) { c.protocolVersion = v }
}

// WithProtocolFallback enables or disables the single one-shot redial at
// the other protocol version described in §4.4.
func WithProtocolFallback(enabled bool) Option {
	return func(c *config) { c.allowFallback = enabled }
}

// WithCredentials installs a static or dynamically-refreshed credentials
// provider consulted for every CONNECT (including reconnects).
func WithCredentials(p CredentialsProvider) Option {
	return func(c *config) { c.credentials = p }
}

// WithAuthenticator installs an Authenticator, enabling MQTT 5.0 enhanced
// authentication (AUTH packets) in addition to ordinary credentials.
func WithAuthenticator(a Authenticator) Option {
	return func(c *config) {
		c.authn = a
		c.credentials = a
	}
}

// WithTLS installs a *tls.Config used for the TLS and WSS transports.
// If nil, a config with platform trust anchors is used.
func WithTLS(cfg *tls.Config) Option {
	return func(c *config) { c.tlsConfig = cfg }
}

// WithTLSVerify installs a per-certificate verification override on top
// of (or instead of) the standard chain verification in WithTLS.
func WithTLSVerify(fn VerifyFunc) Option {
	return func(c *config) { c.verifyFunc = fn }
}

// WithMaxPacketSize caps the largest packet this client will send or
// accept. Default 1 MiB.
func WithMaxPacketSize(n int) Option {
	return func(c *config) { c.maxPacketSize = n }
}

// WithMaxInboundBuffer caps how large the transport's inbound deframing
// buffer may grow before the connection is dropped. Default 64 MiB.
func WithMaxInboundBuffer(n int) Option {
	return func(c *config) { c.maxInboundBuffer = n }
}

// WithMaxOutboundQueue caps buffered-but-unwritten outbound bytes.
// Exceeding it fails a send with BackpressureExceeded. Default 10 MiB.
func WithMaxOutboundQueue(n int) Option {
	return func(c *config) { c.maxOutboundQueue = n }
}

// WithRetry configures QoS 1/2 retransmission timing: the first retry
// delay, the exponential multiplier (>= 1.0), and the clamp cap.
func WithRetry(initial time.Duration, multiplier float64, cap time.Duration) Option {
	return func(c *config) {
		c.retryInitial = initial
		c.retryMultiplier = multiplier
		c.retryCap = cap
	}
}

// WithMaxPacketRetries caps retransmission attempts per in-flight entry
// before it completes with RetriesExhausted.
func WithMaxPacketRetries(n int) Option {
	return func(c *config) { c.maxPacketRetries = n }
}

// WithMaxConnectRetries caps how many times Dial itself retries the
// initial connection attempt before giving up (0 = unlimited, relies on
// caller-provided context deadline instead).
func WithMaxConnectRetries(n int) Option {
	return func(c *config) { c.maxConnRetries = n }
}

// WithConnectTimeout bounds the transport-level connect() call.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) { c.connectTimeout = d }
}

// WithHandshakeTimeout bounds how long the session state machine waits
// in Handshaking for a CONNACK.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) { c.handshakeTimeout = d }
}

// WithKeepAlive sets the client's preferred keep-alive interval. The
// negotiated value is the lesser of this and any server override.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// WithAutoReconnect enables automatic reconnection with exponential
// backoff after an unsolicited transport loss while Ready.
func WithAutoReconnect(initial, cap time.Duration, multiplier float64) Option {
	return func(c *config) {
		c.autoReconnect = true
		c.reconnectInitial = initial
		c.reconnectCap = cap
		c.reconnectMultiplier = multiplier
	}
}

// WithStrictMode toggles strict (abort on any protocol anomaly) vs
// lenient (log and continue) error handling. Default lenient.
func WithStrictMode(strict bool) Option {
	return func(c *config) { c.strict = strict }
}

// WithMaxInboundPacketsPerTick bounds how many parsed inbound packets one
// Tick() dispatches, keeping each tick's progress bounded per §4.5.
func WithMaxInboundPacketsPerTick(n int) Option {
	return func(c *config) { c.maxInboundPerTick = n }
}

// WithMaxPendingCommands caps simultaneously in-flight plus queued
// commands; beyond it, submissions fail with QueueFull.
func WithMaxPendingCommands(n int) Option {
	return func(c *config) { c.maxPendingCommands = n }
}

// WithMaxTopicLength overrides the default 65535-byte topic/filter length
// cap used by publish and subscribe validation.
func WithMaxTopicLength(n int) Option {
	return func(c *config) { c.maxTopicLength = n }
}

// WithMaxPayloadSize overrides the default 256 MiB payload size cap.
func WithMaxPayloadSize(n int) Option {
	return func(c *config) { c.maxPayloadSize = n }
}

// WithWill installs a Last Will and Testament sent to the broker on the
// next CONNECT.
func WithWill(topic string, payload []byte, qos QoS, retain bool, props *Properties) Option {
	return func(c *config) {
		c.will = &willMessage{topic: topic, payload: payload, qos: qos, retain: retain, properties: props}
	}
}

// WithExecutor marshals delegate delivery onto a caller-chosen thread
// instead of running callbacks inline on the reactor goroutine.
func WithExecutor(e Executor) Option {
	return func(c *config) { c.executor = e }
}

// WithLogger installs a *slog.Logger passed to the reactor and the transport.
// Defaults to a logger that discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l.With("lib", "mq")
		}
	}
}

// withTestTransportFactory overrides the transport built for each
// (re)connect attempt. Unexported: it exists only for this package's own
// tests to substitute an in-memory fake for a real socket/WS dial.
func withTestTransportFactory(f func() transport.Transport) Option {
	return func(c *config) { c.newTransport = f }
}

// WithMetrics installs an optional observability sink (see
// internal/metrics). Defaults to a nil-safe no-op implementation.
func WithMetrics(m MetricsSink) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}
