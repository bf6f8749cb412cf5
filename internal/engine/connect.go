package engine

import (
	"context"
	"time"

	"github.com/reactormq/mqttgo/internal/packets"
)

func (r *Reactor) handleConnectCommand(now time.Time, req *ConnectRequest) {
	if r.phase != Disconnected {
		req.OnComplete(false, ErrAlreadyConnected)
		return
	}
	r.pendingConnect = req
	r.fallbackTried = false
	r.version = r.cfg.ProtocolVersion
	r.beginConnecting(now)
}

func (r *Reactor) beginConnecting(now time.Time) {
	r.phase = Connecting
	r.connectAttempts++
	r.transport = r.newTransport()
	ctx := context.Background()
	if r.pendingConnect != nil && r.pendingConnect.Ctx != nil {
		ctx = r.pendingConnect.Ctx
	}
	r.transport.Connect(ctx)
}

func (r *Reactor) handleTransportConnected(now time.Time) {
	switch r.phase {
	case Connecting:
		r.phase = Handshaking
		r.sendConnect(now)
		if r.cfg.HandshakeTimeout > 0 {
			r.handshakeTimerID = r.timers.schedule(now.Add(r.cfg.HandshakeTimeout), r.onHandshakeTimeout)
			r.haveHandshake = true
		}
	}
}

func (r *Reactor) sendConnect(now time.Time) {
	pkt := &packets.ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: r.version,
		CleanSession:  r.cfg.CleanStart,
		ClientID:      r.cfg.ClientID,
		KeepAlive:     uint16(r.cfg.KeepAlive / time.Second),
	}

	if r.cfg.Credentials != nil {
		ctx := context.Background()
		if r.pendingConnect != nil && r.pendingConnect.Ctx != nil {
			ctx = r.pendingConnect.Ctx
		}
		username, password, hasCreds, err := r.cfg.Credentials(ctx)
		if err != nil {
			r.completeConnectFailure(now, failure("credentials_refresh", err))
			return
		}
		if hasCreds {
			pkt.UsernameFlag = true
			pkt.Username = username
			if password != "" {
				pkt.PasswordFlag = true
				pkt.Password = password
			}
		}
	}

	if w := r.cfg.Will; w != nil {
		pkt.WillFlag = true
		pkt.WillQoS = w.QoS
		pkt.WillRetain = w.Retain
		pkt.WillTopic = w.Topic
		pkt.WillMessage = w.Payload
		pkt.WillProperties = w.Properties
	}

	if r.version >= 5 {
		pkt.Properties = r.cfg.ConnectProperties
	}

	data := encodePacket(pkt)
	if err := r.send(now, packets.CONNECT, data); err != nil {
		r.completeConnectFailure(now, failure("transport_refused", err))
	}
}

func (r *Reactor) handleConnack(now time.Time, p *packets.ConnackPacket) {
	if r.phase != Handshaking {
		return
	}
	if r.haveHandshake {
		r.timers.cancel(r.handshakeTimerID)
		r.haveHandshake = false
	}

	if p.ReturnCode != 0 {
		if r.tryProtocolFallback(now, p.ReturnCode) {
			return
		}
		r.closeTransport(nil)
		r.phase = Disconnected
		r.completeConnectFailure(now, refusal("broker_refused", p.ReturnCode))
		return
	}

	r.phase = Ready
	r.sessionPresent = p.SessionPresent
	r.connectAttempts = 0
	r.reconnectAttempts = 0
	r.reconnectBackoff = r.cfg.ReconnectInitial
	r.lastConnackProps = p.Properties
	if p.Properties != nil && p.Properties.Presence&packets.PresAssignedClientIdentifier != 0 {
		r.cfg.ClientID = p.Properties.AssignedClientIdentifier
	}

	if r.sessionPresent {
		for _, rt := range r.tracker.ResendAll(now) {
			_ = r.send(now, packetTypeOfRetransmit(rt.Data), rt.Data)
		}
	} else {
		r.tracker.DropAll(failure("session_lost", nil))
		r.router.Clear()
	}

	r.effectiveKeepAlive = r.cfg.KeepAlive
	if p.Properties != nil && p.Properties.Presence&packets.PresServerKeepAlive != 0 {
		serverKeepAlive := time.Duration(p.Properties.ServerKeepAlive) * time.Second
		if r.effectiveKeepAlive == 0 || serverKeepAlive < r.effectiveKeepAlive {
			r.effectiveKeepAlive = serverKeepAlive
		}
	}
	if r.effectiveKeepAlive > 0 {
		r.scheduleKeepAlive(now)
	}
	r.scheduleRetransmitScan(now)

	if r.pendingConnect != nil {
		cb := r.pendingConnect.OnComplete
		r.pendingConnect = nil
		if cb != nil {
			cb(r.sessionPresent, nil)
		}
	}
	if r.cfg.OnConnect != nil {
		r.cfg.OnConnect(true, r.sessionPresent, nil)
	}
}

// tryProtocolFallback attempts the one redial at the other protocol
// version §4.4 allows on UnsupportedProtocolVersion/RefusedProtocolVersion.
func (r *Reactor) tryProtocolFallback(now time.Time, code uint8) bool {
	if !r.cfg.AllowFallback || r.fallbackTried {
		return false
	}
	isVersionRefusal := (r.version == 4 && code == 1) || (r.version == 5 && code == 0x84)
	if !isVersionRefusal {
		return false
	}
	r.fallbackTried = true
	if r.version == 4 {
		r.version = 5
	} else {
		r.version = 4
	}
	r.closeTransport(nil)
	r.beginConnecting(now)
	return true
}

func (r *Reactor) onHandshakeTimeout(now time.Time) {
	r.haveHandshake = false
	if r.phase != Handshaking {
		return
	}
	r.closeTransport(nil)
	r.phase = Disconnected
	r.completeConnectFailure(now, failure("handshake_timed_out", nil))
}

func (r *Reactor) completeConnectFailure(now time.Time, err error) {
	if r.pendingConnect != nil {
		cb := r.pendingConnect.OnComplete
		r.pendingConnect = nil
		if cb != nil {
			cb(false, err)
		}
	}
	if r.cfg.OnConnect != nil {
		r.cfg.OnConnect(false, false, err)
	}
}

func (r *Reactor) closeTransport(reason error) {
	if r.transport != nil {
		r.transport.Close(reason)
		r.transport = nil
	}
}

// packetTypeOfRetransmit is a best-effort label for metrics; the byte
// itself carries the packet type in its high nibble.
func packetTypeOfRetransmit(data []byte) uint8 {
	if len(data) == 0 {
		return 0
	}
	return data[0] >> 4
}
