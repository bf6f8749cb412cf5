// Package mq implements an MQTT 3.1.1 / 5.0 client built around a
// single-threaded cooperative session reactor (internal/engine): a
// command queue, timer service, transport, in-flight tracker, and
// subscription router, all driven by repeated calls to Tick. Dial starts
// that driver on a background goroutine so the returned Client behaves
// like an ordinary blocking-call API; Run exposes the same driver for
// callers that want to own the goroutine themselves.
package mq

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/reactormq/mqttgo/internal/delegate"
	"github.com/reactormq/mqttgo/internal/engine"
	"github.com/reactormq/mqttgo/internal/inflight"
	"github.com/reactormq/mqttgo/internal/packets"
	"github.com/reactormq/mqttgo/internal/transport"
	"golang.org/x/sync/singleflight"
)

// tickInterval is how often the background driver calls Reactor.Tick.
// The reactor itself decides what actually happens on a given tick
// (keep-alive, retransmission, and reconnect timers all carry their own
// deadlines); this just bounds how promptly it notices them.
const tickInterval = 10 * time.Millisecond

// ConnectEvent is delivered to OnConnect delegates after every connect
// attempt, successful or not.
type ConnectEvent struct {
	SessionPresent bool
	Err            error
}

// DisconnectEvent is delivered to OnDisconnect delegates whenever the
// session leaves the Ready state, whether by request or unsolicited loss.
type DisconnectEvent struct {
	Err error
}

// ServerCapabilities mirrors the MQTT 5.0 CONNACK properties that
// describe what the broker supports. Fields not carried by the broker's
// CONNACK fall back to the protocol's own defaults.
type ServerCapabilities struct {
	ReceiveMaximum                  uint16
	MaximumQoS                      uint8
	RetainAvailable                 bool
	WildcardSubscriptionAvailable   bool
	SubscriptionIdentifierAvailable bool
	SharedSubscriptionAvailable     bool
	MaximumPacketSize               uint32
	TopicAliasMaximum               uint16
}

// ClientStats is a point-in-time snapshot of the packet/byte counters
// kept alongside whatever MetricsSink the caller configured.
type ClientStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	Reconnects      uint64
	Connected       bool
}

type credPair struct {
	username, password string
}

// Client is a connected (or reconnecting) MQTT session. Safe for
// concurrent use: command submission, delegate registration, and the
// accessor methods may all be called from any goroutine.
type Client struct {
	cfg     *config
	reactor *engine.Reactor
	stats   *statsAdapter

	credGroup singleflight.Group

	onConnect        *delegate.Multicast[ConnectEvent]
	onDisconnect     *delegate.Multicast[DisconnectEvent]
	onMessage        *delegate.Multicast[*Message]
	onServerRedirect *delegate.Multicast[string]

	closed  atomic.Bool
	closeCh chan struct{}
}

// statsAdapter forwards every call to the caller's configured MetricsSink
// while also keeping the plain counters Stats() reports, so Stats() works
// even with the default no-op sink.
type statsAdapter struct {
	inner MetricsSink

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	reconnects      atomic.Uint64
}

func (s *statsAdapter) IncPacketsSent(t uint8) {
	s.packetsSent.Add(1)
	s.inner.IncPacketsSent(t)
}

func (s *statsAdapter) IncPacketsReceived(t uint8) {
	s.packetsReceived.Add(1)
	s.inner.IncPacketsReceived(t)
}

func (s *statsAdapter) IncBytesSent(n int) {
	s.bytesSent.Add(uint64(n))
	s.inner.IncBytesSent(n)
}

func (s *statsAdapter) IncBytesReceived(n int) {
	s.bytesReceived.Add(uint64(n))
	s.inner.IncBytesReceived(n)
}

func (s *statsAdapter) IncPacketsDropped(reason string) { s.inner.IncPacketsDropped(reason) }
func (s *statsAdapter) IncRetransmissions()              { s.inner.IncRetransmissions() }

func (s *statsAdapter) IncReconnects() {
	s.reconnects.Add(1)
	s.inner.IncReconnects()
}

func (s *statsAdapter) SetInFlight(n int) { s.inner.SetInFlight(n) }

// Dial connects to server (a URI of the form scheme://host:port/path;
// see parseURI) and blocks until the initial CONNECT/CONNACK handshake
// completes or cfg.connectTimeout elapses.
func Dial(server string, opts ...Option) (*Client, error) {
	cfg, err := buildConfig(server, opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.connectTimeout)
	defer cancel()
	return dial(ctx, cfg)
}

// DialContext is Dial with caller-supplied cancellation in place of
// cfg.connectTimeout.
func DialContext(ctx context.Context, server string, opts ...Option) (*Client, error) {
	cfg, err := buildConfig(server, opts)
	if err != nil {
		return nil, err
	}
	return dial(ctx, cfg)
}

func buildConfig(server string, opts []Option) (*config, error) {
	cfg, err := parseURI(server)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.clientID == "" {
		id, err := generateClientID()
		if err != nil {
			return nil, wrapError(ConfigInvalid, "failed to generate a client id", err)
		}
		cfg.clientID = id
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func generateClientID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "mqttgo-" + hex.EncodeToString(b), nil
}

func dial(ctx context.Context, cfg *config) (*Client, error) {
	c := &Client{
		cfg:              cfg,
		stats:            &statsAdapter{inner: cfg.metrics},
		onConnect:        delegate.New[ConnectEvent](),
		onDisconnect:     delegate.New[DisconnectEvent](),
		onMessage:        delegate.New[*Message](),
		onServerRedirect: delegate.New[string](),
		closeCh:          make(chan struct{}),
	}
	c.reactor = engine.New(c.buildEngineConfig())

	go c.driveLoop()

	done := make(chan struct{})
	var connectErr error
	req := &engine.ConnectRequest{
		Ctx: ctx,
		OnComplete: func(sessionPresent bool, err error) {
			connectErr = err
			close(done)
		},
	}
	if err := c.reactor.EnqueueConnect(req); err != nil {
		close(c.closeCh)
		return nil, wrapError(QueueFull, "failed to submit initial connect", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		_ = c.Close()
		return nil, wrapEngineError(ctx.Err())
	}

	if connectErr != nil {
		_ = c.Close()
		return nil, wrapEngineError(connectErr)
	}
	return c, nil
}

func (c *Client) buildEngineConfig() engine.Config {
	cfg := c.cfg
	ec := engine.Config{
		ProtocolVersion:    uint8(cfg.protocolVersion),
		AllowFallback:      cfg.allowFallback,
		ClientID:           cfg.clientID,
		CleanStart:         cfg.cleanStart,
		KeepAlive:          cfg.keepAlive,
		HandshakeTimeout:   cfg.handshakeTimeout,
		Strict:             cfg.strict,
		MaxInboundPerTick:  cfg.maxInboundPerTick,
		MaxPendingCommands: cfg.maxPendingCommands,
		Will:               buildEngineWill(cfg.will),
		ConnectProperties:  buildConnectProperties(cfg),
		Inflight: inflight.Config{
			MaxPendingCommands: cfg.maxPendingCommands,
			MaxPacketRetries:   cfg.maxPacketRetries,
			RetryInitial:       cfg.retryInitial,
			RetryMultiplier:    cfg.retryMultiplier,
			RetryCap:           cfg.retryCap,
		},
		AutoReconnect:       cfg.autoReconnect,
		ReconnectInitial:    cfg.reconnectInitial,
		ReconnectCap:        cfg.reconnectCap,
		ReconnectMultiplier: cfg.reconnectMultiplier,
		MaxConnectRetries:   cfg.maxConnRetries,
		Transport:           buildTransportConfig(cfg),
		NewTransport:        cfg.newTransport,
		OnConnect:           c.handleConnect,
		OnDisconnect:        c.handleDisconnect,
		OnMessage:           c.handleMessage,
		Logger:              cfg.logger,
		Metrics:             c.stats,
	}
	if cfg.credentials != nil {
		ec.Credentials = c.fetchCredentials
	}
	if cfg.authn != nil {
		ec.AuthMethod = cfg.authn.AuthMethod()
		ec.OnAuthChallenge = func(serverData []byte, reasonCode uint8) ([]byte, error) {
			return cfg.authn.OnAuthChallenge(serverData, ReasonCode(reasonCode))
		}
	}
	return ec
}

func buildEngineWill(w *willMessage) *engine.Will {
	if w == nil {
		return nil
	}
	return &engine.Will{
		Topic:      w.topic,
		Payload:    w.payload,
		QoS:        uint8(w.qos),
		Retain:     w.retain,
		Properties: toInternalProperties(w.properties),
	}
}

// buildConnectProperties assembles the MQTT 5 CONNECT properties this
// client always requests, plus whatever the configured Authenticator
// contributes. nil on MQTT 3.1.1.
func buildConnectProperties(cfg *config) *packets.Properties {
	if cfg.protocolVersion != ProtocolV50 {
		return nil
	}
	props := &packets.Properties{
		RequestResponseInformation: 1,
		RequestProblemInformation:  1,
	}
	props.Presence |= packets.PresRequestResponseInformation | packets.PresRequestProblemInformation

	if cfg.maxPendingCommands > 0 {
		rm := cfg.maxPendingCommands
		if rm > 65535 {
			rm = 65535
		}
		props.ReceiveMaximum = uint16(rm)
		props.Presence |= packets.PresReceiveMaximum
	}

	if cfg.authn != nil {
		if m := cfg.authn.AuthMethod(); m != "" {
			props.AuthenticationMethod = m
			props.Presence |= packets.PresAuthenticationMethod
		}
		if d := cfg.authn.InitialAuthData(); len(d) > 0 {
			props.AuthenticationData = d
		}
	}
	return props
}

func buildTransportConfig(cfg *config) transport.Config {
	var kind transport.Kind
	switch cfg.transport {
	case TransportTLS:
		kind = transport.KindTLS
	case TransportWS:
		kind = transport.KindWS
	case TransportWSS:
		kind = transport.KindWSS
	default:
		kind = transport.KindTCP
	}

	var tlsCfg *tls.Config
	if kind == transport.KindTLS || kind == transport.KindWSS {
		tlsCfg = buildTLSConfig(cfg)
	}

	return transport.Config{
		Kind:             kind,
		Host:             cfg.host,
		Port:             cfg.port,
		Path:             cfg.path,
		TLSConfig:        tlsCfg,
		ConnectTimeout:   cfg.connectTimeout,
		MaxPacketSize:    cfg.maxPacketSize,
		MaxInboundBuffer: cfg.maxInboundBuffer,
		MaxOutboundQueue: cfg.maxOutboundQueue,
		Logger:           cfg.logger,
	}
}

// buildTLSConfig wraps cfg.tlsConfig (or a zero-value tls.Config, which
// uses the host platform trust store) with cfg.verifyFunc when present,
// following the standard library's preverify-then-override pattern:
// disable the default verifier, run it manually, and hand its outcome to
// the caller's hook alongside the peer's certificate chain.
func buildTLSConfig(cfg *config) *tls.Config {
	var base *tls.Config
	if cfg.tlsConfig != nil {
		base = cfg.tlsConfig.Clone()
	} else {
		base = &tls.Config{}
	}
	if cfg.verifyFunc == nil {
		return base
	}

	roots := base.RootCAs
	serverName := base.ServerName
	verify := cfg.verifyFunc

	out := base.Clone()
	out.InsecureSkipVerify = true
	out.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("mq: parse peer certificate: %w", err)
			}
			certs = append(certs, cert)
		}

		preverifyOK := len(certs) > 0
		if preverifyOK {
			intermediates := x509.NewCertPool()
			for _, cert := range certs[1:] {
				intermediates.AddCert(cert)
			}
			_, err := certs[0].Verify(x509.VerifyOptions{
				Roots:         roots,
				Intermediates: intermediates,
				DNSName:       serverName,
			})
			preverifyOK = err == nil
		}

		state := &tls.ConnectionState{PeerCertificates: certs, ServerName: serverName}
		if !verify(preverifyOK, state) {
			return fmt.Errorf("mq: peer certificate rejected by verify hook")
		}
		return nil
	}
	return out
}

// fetchCredentials asks the configured CredentialsProvider for the
// CONNECT username/password, deduplicating concurrent calls (several
// commands racing a CONNECT rebuild during reconnect all wait on the
// same in-flight refresh instead of hitting the provider N times).
func (c *Client) fetchCredentials(ctx context.Context) (string, string, bool, error) {
	v, err, _ := c.credGroup.Do("credentials", func() (any, error) {
		username, password, err := c.cfg.credentials.GetCredentials()
		if err != nil {
			return nil, err
		}
		return credPair{username, password}, nil
	})
	if err != nil {
		return "", "", false, err
	}
	pair := v.(credPair)
	return pair.username, pair.password, true, nil
}

func (c *Client) handleConnect(success bool, sessionPresent bool, err error) {
	if success {
		if props := c.reactor.ConnackProperties(); props != nil &&
			props.Presence&packets.PresServerReference != 0 && props.ServerReference != "" {
			c.onServerRedirect.Broadcast(props.ServerReference)
		}
	}
	c.onConnect.Broadcast(ConnectEvent{SessionPresent: sessionPresent, Err: wrapEngineError(err)})
}

func (c *Client) handleDisconnect(err error) {
	c.onDisconnect.Broadcast(DisconnectEvent{Err: wrapEngineError(err)})
}

func (c *Client) handleMessage(topic string, payload []byte, qos uint8, retained, dup bool, props *packets.Properties) {
	if c.onMessage.Len() == 0 {
		return
	}
	msg := &Message{
		Topic:      topic,
		Payload:    payload,
		QoS:        QoS(qos),
		Retained:   retained,
		Duplicate:  dup,
		Properties: toPublicProperties(props),
	}
	c.runDelegate(func() { c.onMessage.Broadcast(msg) })
}

// runDelegate marshals a delegate invocation onto cfg.executor when one
// is configured; otherwise it runs inline on the reactor goroutine, the
// same way every other callback in this package does.
func (c *Client) runDelegate(fn func()) {
	if c.cfg.executor != nil {
		c.cfg.executor(fn)
		return
	}
	fn()
}

// driveLoop repeatedly calls Tick until Close stops it. It is the only
// goroutine that ever calls Tick; every other interaction with the
// reactor goes through its thread-safe Enqueue* methods.
func (c *Client) driveLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case now := <-ticker.C:
			c.reactor.Tick(now)
		}
	}
}

// Run drives the reactor on the calling goroutine instead of the
// background goroutine Dial already started, blocking until ctx is
// cancelled or the client is closed. Most callers never need it; it
// exists for embedding the client's tick loop into an application's own
// scheduler (e.g. a single-goroutine event loop) instead of Dial's
// default background goroutine. Call Close first if Dial's own driver
// should stop running.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return ErrClosed
		case now := <-ticker.C:
			c.reactor.Tick(now)
		}
	}
}

// IsConnected reports whether the session is currently established.
// Safe to call from any goroutine.
func (c *Client) IsConnected() bool {
	return c.reactor.IsConnected()
}

// ClientID returns the client identifier in use, which may have been
// overwritten by a server-assigned identifier from a prior CONNACK
// (MQTT 5 only).
func (c *Client) ClientID() string {
	return c.reactor.ClientID()
}

// ServerCapabilities reports the broker's advertised MQTT 5 capabilities,
// falling back to the protocol's own defaults for anything the broker's
// CONNACK didn't carry. Always the protocol defaults on MQTT 3.1.1 or
// before the first successful handshake.
func (c *Client) ServerCapabilities() ServerCapabilities {
	caps := ServerCapabilities{
		ReceiveMaximum:                  65535,
		MaximumQoS:                      2,
		RetainAvailable:                 true,
		WildcardSubscriptionAvailable:   true,
		SubscriptionIdentifierAvailable: true,
		SharedSubscriptionAvailable:     true,
	}
	props := c.reactor.ConnackProperties()
	if props == nil {
		return caps
	}
	if props.Presence&packets.PresReceiveMaximum != 0 {
		caps.ReceiveMaximum = props.ReceiveMaximum
	}
	if props.Presence&packets.PresMaximumQoS != 0 {
		caps.MaximumQoS = props.MaximumQoS
	}
	if props.Presence&packets.PresRetainAvailable != 0 {
		caps.RetainAvailable = props.RetainAvailable
	}
	if props.Presence&packets.PresWildcardSubscriptionAvailable != 0 {
		caps.WildcardSubscriptionAvailable = props.WildcardSubscriptionAvailable
	}
	if props.Presence&packets.PresSubscriptionIdentifierAvailable != 0 {
		caps.SubscriptionIdentifierAvailable = props.SubscriptionIdentifierAvailable
	}
	if props.Presence&packets.PresSharedSubscriptionAvailable != 0 {
		caps.SharedSubscriptionAvailable = props.SharedSubscriptionAvailable
	}
	if props.Presence&packets.PresMaximumPacketSize != 0 {
		caps.MaximumPacketSize = props.MaximumPacketSize
	}
	if props.Presence&packets.PresTopicAliasMaximum != 0 {
		caps.TopicAliasMaximum = props.TopicAliasMaximum
	}
	return caps
}

// ServerKeepAlive returns the keep-alive interval the broker assigned in
// place of the client's requested value, or 0 if the broker didn't
// override it.
func (c *Client) ServerKeepAlive() time.Duration {
	props := c.reactor.ConnackProperties()
	if props == nil || props.Presence&packets.PresServerKeepAlive == 0 {
		return 0
	}
	return time.Duration(props.ServerKeepAlive) * time.Second
}

// ServerReference returns the alternate broker address the server
// suggested on the most recent CONNACK, or "" if none was given. The
// client never redirects automatically; use OnServerRedirect or poll
// this after Dial to react to it.
func (c *Client) ServerReference() string {
	props := c.reactor.ConnackProperties()
	if props == nil {
		return ""
	}
	return props.ServerReference
}

// SessionExpiryInterval returns the negotiated session expiry in
// seconds, or 0xFFFFFFFF (infinite) for a persistent MQTT 3.1.1 session
// (CleanStart false), matching the wire encoding for "no expiry".
func (c *Client) SessionExpiryInterval() uint32 {
	if c.cfg.protocolVersion == ProtocolV311 {
		if c.cfg.cleanStart {
			return 0
		}
		return 0xFFFFFFFF
	}
	props := c.reactor.ConnackProperties()
	if props == nil || props.Presence&packets.PresSessionExpiryInterval == 0 {
		return 0
	}
	return props.SessionExpiryInterval
}

// ResponseInformation returns the response-topic base the broker
// supplied for request/response patterns (MQTT 5, and only when
// requested, which this client always does).
func (c *Client) ResponseInformation() string {
	props := c.reactor.ConnackProperties()
	if props == nil {
		return ""
	}
	return props.ResponseInformation
}

// Stats returns a snapshot of packet/byte counters and reconnect count,
// independent of whatever MetricsSink was configured via WithMetrics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		PacketsSent:     c.stats.packetsSent.Load(),
		PacketsReceived: c.stats.packetsReceived.Load(),
		BytesSent:       c.stats.bytesSent.Load(),
		BytesReceived:   c.stats.bytesReceived.Load(),
		Reconnects:      c.stats.reconnects.Load(),
		Connected:       c.IsConnected(),
	}
}

// OnConnect registers a callback invoked after every connect attempt.
func (c *Client) OnConnect(fn func(ConnectEvent)) *delegate.Handle {
	return c.onConnect.Add(fn)
}

// OnDisconnect registers a callback invoked whenever the session leaves
// the Ready state.
func (c *Client) OnDisconnect(fn func(DisconnectEvent)) *delegate.Handle {
	return c.onDisconnect.Add(fn)
}

// OnMessage registers a callback invoked for every inbound PUBLISH handed
// to the application, whether or not it matches an installed
// subscription, in addition to any matching subscription's own per-filter
// handler.
func (c *Client) OnMessage(fn func(*Message)) *delegate.Handle {
	return c.onMessage.Add(fn)
}

// OnServerRedirect registers a callback invoked with the broker's
// suggested alternate address whenever a successful CONNACK carries a
// ServerReference property. The client does not redirect on its own.
func (c *Client) OnServerRedirect(fn func(serverReference string)) *delegate.Handle {
	return c.onServerRedirect.Add(fn)
}

// Disconnect performs a graceful MQTT DISCONNECT and tears down the
// transport, without stopping the background driver loop (a subsequent
// Close is still required to release it).
func (c *Client) Disconnect(ctx context.Context) error {
	done := make(chan struct{})
	var disconnectErr error
	req := &engine.DisconnectRequest{
		OnComplete: func(err error) {
			disconnectErr = err
			close(done)
		},
	}
	if err := c.reactor.EnqueueDisconnect(req); err != nil {
		return wrapEngineError(err)
	}
	select {
	case <-done:
		return wrapEngineError(disconnectErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects (best-effort, bounded by a short internal timeout)
// and stops the background driver loop. Idempotent; safe to call more
// than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.Disconnect(ctx)
	close(c.closeCh)
	return nil
}

// wrapEngineError translates the engine package's loosely-typed errors
// (sentinel errors and *engine.Failure) into the public *ReactorError
// taxonomy of errors.go. Context errors pass through unwrapped so
// errors.Is(err, context.Canceled) keeps working for callers.
func wrapEngineError(err error) error {
	if err == nil {
		return nil
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}

	switch err {
	case engine.ErrQueueFull:
		return newError(QueueFull, "command queue full")
	case engine.ErrNotReady:
		return newError(SessionLost, "session is not connected")
	case engine.ErrAlreadyConnected:
		return newError(ConfigInvalid, "already connected or connecting")
	case inflight.ErrQueueFull:
		return newError(QueueFull, "max pending commands reached")
	case inflight.ErrIdentifiersExhausted:
		return newError(IdentifiersExhausted, "no packet identifiers available")
	case inflight.ErrRetriesExhausted:
		return newError(RetriesExhausted, "max packet retries exceeded")
	case transport.ErrBackpressure:
		return newError(BackpressureExceeded, "outbound queue cap exceeded")
	}

	if f, ok := err.(*engine.Failure); ok {
		return wrapFailure(f)
	}

	return wrapError(TransportDropped, "", err)
}

func wrapFailure(f *engine.Failure) error {
	switch f.Reason {
	case "credentials_refresh":
		return wrapError(ConfigInvalid, "credentials provider failed", f.Err)
	case "transport_refused":
		return wrapError(TransportRefused, "connect failed", f.Err)
	case "transport_dropped":
		return wrapError(TransportDropped, "connection lost", f.Err)
	case "broker_refused":
		return refusedError(BrokerRefused, ReasonCode(f.Code), "broker refused CONNECT")
	case "handshake_timed_out":
		return newError(HandshakeTimedOut, "no CONNACK within the handshake timeout")
	case "keep_alive_lost":
		return newError(KeepAliveLost, "no PINGRESP within keep-alive * 1.5")
	case "session_lost":
		return newError(SessionLost, "connection dropped with this command outstanding")
	case "disconnected", "cancelled":
		return newError(Cancelled, "operation cancelled")
	case "retries_exhausted":
		return newError(RetriesExhausted, "max packet retries exceeded")
	case "protocol_violation":
		return refusedError(ProtocolViolation, ReasonCode(f.Code), "protocol violation")
	default:
		return wrapError(TransportDropped, f.Reason, f.Err)
	}
}
