package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
)

// wsTransport implements Transport over a gorilla/websocket connection,
// covering KindWS and KindWSS. The MQTT-over-WebSocket binding (OASIS
// MQTT 5.0 §6.1) treats each WebSocket message as an opaque byte chunk
// and concatenates them into the same MQTT byte stream plain TCP would
// carry, so inbound WS messages are fed straight into the shared
// frameBuffer via wsConnAdapter.
type wsTransport struct {
	*baseTransport
}

func newWSTransport(cfg Config) *wsTransport {
	return &wsTransport{baseTransport: newBaseTransport(cfg)}
}

func (t *wsTransport) Connect(ctx context.Context) {
	connectCtx, cancel := context.WithTimeout(ctx, nonZero(t.cfg.ConnectTimeout))
	runCtx, runCancel := context.WithCancel(ctx)
	t.groupCancel = runCancel

	go func() {
		defer cancel()

		scheme := "ws"
		var tlsCfg *tls.Config
		if t.cfg.Kind == KindWSS {
			scheme = "wss"
			tlsCfg = t.cfg.TLSConfig
			if tlsCfg == nil {
				tlsCfg = &tls.Config{}
			}
		}

		url := fmt.Sprintf("%s://%s%s", scheme, t.cfg.addr(), t.cfg.Path)

		dialer := websocket.Dialer{
			TLSClientConfig:  tlsCfg,
			Subprotocols:     []string{"mqtt"},
			HandshakeTimeout: nonZero(t.cfg.ConnectTimeout),
		}

		conn, _, err := dialer.DialContext(connectCtx, url, http.Header{})
		if err != nil {
			runCancel()
			t.emit(Event{Kind: EventDisconnected, Err: err})
			return
		}

		t.runDuplex(runCtx, &wsConnAdapter{conn: conn})
	}()
}

func (t *wsTransport) Close(reason error) {
	t.close(reason)
}

// wsConnAdapter presents a *websocket.Conn as an io.ReadWriteCloser so it
// can share baseTransport's readLoop/writeLoop with the TCP/TLS backends.
// Read returns bytes from at most one WS message per call: a message
// longer than p is handed out over several calls, and two messages are
// never merged into one read, which is fine since frameBuffer only cares
// about byte order, not chunk boundaries.
type wsConnAdapter struct {
	conn    *websocket.Conn
	pending []byte
}

func (a *wsConnAdapter) Read(p []byte) (int, error) {
	for len(a.pending) == 0 {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		a.pending = data
	}
	n := copy(p, a.pending)
	a.pending = a.pending[n:]
	return n, nil
}

func (a *wsConnAdapter) Write(p []byte) (int, error) {
	if err := a.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (a *wsConnAdapter) Close() error {
	return a.conn.Close()
}

var _ io.ReadWriteCloser = (*wsConnAdapter)(nil)
