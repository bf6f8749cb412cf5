package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// tcpTransport implements Transport over net.Conn, optionally wrapped in
// TLS. It covers KindTCP and KindTLS.
type tcpTransport struct {
	*baseTransport
}

func newTCPTransport(cfg Config) *tcpTransport {
	return &tcpTransport{baseTransport: newBaseTransport(cfg)}
}

func (t *tcpTransport) Connect(ctx context.Context) {
	connectCtx, cancel := context.WithTimeout(ctx, nonZero(t.cfg.ConnectTimeout))
	runCtx, runCancel := context.WithCancel(ctx)
	t.groupCancel = runCancel

	go func() {
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(connectCtx, "tcp", t.cfg.addr())
		if err != nil {
			runCancel()
			t.emit(Event{Kind: EventDisconnected, Err: err})
			return
		}

		if t.cfg.Kind == KindTLS {
			tlsCfg := t.cfg.TLSConfig
			if tlsCfg == nil {
				tlsCfg = &tls.Config{}
			}
			if tlsCfg.ServerName == "" {
				tlsCfg = tlsCfg.Clone()
				tlsCfg.ServerName = t.cfg.Host
			}
			tlsConn := tls.Client(conn, tlsCfg)
			if err := tlsConn.HandshakeContext(connectCtx); err != nil {
				conn.Close()
				runCancel()
				t.emit(Event{Kind: EventDisconnected, Err: err})
				return
			}
			t.runDuplex(runCtx, tlsConn)
			return
		}

		t.runDuplex(runCtx, conn)
	}()
}

func (t *tcpTransport) Close(reason error) {
	t.close(reason)
}
