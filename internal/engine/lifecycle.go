package engine

import (
	"time"

	"github.com/reactormq/mqttgo/internal/packets"
)

// handleTransportDisconnected reacts to an EventDisconnected from the
// transport, which can arrive in any phase: a refused dial while
// Connecting, a lost socket while Ready, or the expected teardown after
// a voluntary Disconnect.
func (r *Reactor) handleTransportDisconnected(now time.Time, transportErr error) {
	switch r.phase {
	case Connecting:
		r.closeTransport(nil)
		r.phase = Disconnected
		r.completeConnectFailure(now, failure("transport_refused", transportErr))

	case Handshaking:
		if r.haveHandshake {
			r.timers.cancel(r.handshakeTimerID)
			r.haveHandshake = false
		}
		r.closeTransport(nil)
		r.phase = Disconnected
		r.completeConnectFailure(now, failure("transport_dropped", transportErr))

	case Ready:
		r.cancelSessionTimers()
		r.closeTransport(nil)
		r.phase = Disconnected
		if r.cfg.OnDisconnect != nil {
			r.cfg.OnDisconnect(transportErr)
		}
		if r.cfg.AutoReconnect {
			r.scheduleReconnect(now)
		} else {
			r.tracker.DropAll(failure("session_lost", nil))
		}

	case Disconnecting:
		// Unreachable in practice: closeTransport already drops the
		// transport reference synchronously from handleDisconnectCommand,
		// so the async EventDisconnected that would otherwise land here
		// never gets a transport to arrive on. Handled defensively anyway.
		r.cancelSessionTimers()
		r.closeTransport(nil)
		r.phase = Disconnected
		if r.pendingDisconnect != nil {
			cb := r.pendingDisconnect.OnComplete
			r.pendingDisconnect = nil
			if cb != nil {
				cb(nil)
			}
		}
		if r.cfg.OnDisconnect != nil {
			r.cfg.OnDisconnect(nil)
		}
	}
}

// handleDisconnectCommand tears down a Ready session immediately rather
// than waiting on the transport's async EventDisconnected: closeTransport
// drops the reactor's transport reference as soon as Close is called, so
// any later event from that transport would never be observed by Tick.
func (r *Reactor) handleDisconnectCommand(now time.Time, req *DisconnectRequest) {
	switch r.phase {
	case Ready:
		pkt := &packets.DisconnectPacket{
			ReasonCode: req.ReasonCode,
			Properties: req.Properties,
			Version:    r.version,
		}
		_ = r.send(now, packets.DISCONNECT, encodePacket(pkt))
		r.cancelSessionTimers()
		r.closeTransport(nil)
		r.phase = Disconnected
		r.tracker.DropAll(failure("disconnected", nil))
		if req.OnComplete != nil {
			req.OnComplete(nil)
		}
		if r.cfg.OnDisconnect != nil {
			r.cfg.OnDisconnect(nil)
		}

	case Connecting, Handshaking:
		r.cancelSessionTimers()
		r.closeTransport(nil)
		r.phase = Disconnected
		r.completeConnectFailure(now, failure("cancelled", nil))
		if req.OnComplete != nil {
			req.OnComplete(nil)
		}

	case Reconnecting:
		if r.haveReconnect {
			r.timers.cancel(r.reconnectTimerID)
			r.haveReconnect = false
		}
		r.phase = Disconnected
		r.tracker.DropAll(failure("cancelled", nil))
		if req.OnComplete != nil {
			req.OnComplete(nil)
		}

	default:
		if req.OnComplete != nil {
			req.OnComplete(nil)
		}
	}
}

// fail tears the session down with f from whatever phase it is in. Unlike
// an unsolicited transport loss, from Ready it always drops the in-flight
// entries with f, even when an auto-reconnect is scheduled afterwards.
func (r *Reactor) fail(now time.Time, f *Failure) {
	switch r.phase {
	case Handshaking, Connecting:
		r.closeTransport(nil)
		r.phase = Disconnected
		r.completeConnectFailure(now, f)
	case Ready:
		r.cancelSessionTimers()
		r.closeTransport(nil)
		r.phase = Disconnected
		r.tracker.DropAll(f)
		if r.cfg.OnDisconnect != nil {
			r.cfg.OnDisconnect(f)
		}
		if r.cfg.AutoReconnect {
			r.scheduleReconnect(now)
		}
	}
}

func (r *Reactor) cancelSessionTimers() {
	if r.haveKeepAlive {
		r.timers.cancel(r.keepAliveTimerID)
		r.haveKeepAlive = false
	}
	if r.haveRetransmit {
		r.timers.cancel(r.retransmitTimerID)
		r.haveRetransmit = false
	}
	r.awaitingPingResp = false
}

func (r *Reactor) scheduleReconnect(now time.Time) {
	r.phase = Reconnecting
	r.reconnectAttempts++
	if r.cfg.MaxConnectRetries > 0 && r.reconnectAttempts > r.cfg.MaxConnectRetries {
		r.phase = Disconnected
		r.tracker.DropAll(failure("retries_exhausted", nil))
		return
	}
	r.metric.IncReconnects()
	r.reconnectTimerID = r.timers.schedule(now.Add(r.reconnectBackoff), r.onReconnectTimer)
	r.haveReconnect = true
	r.reconnectBackoff = nextBackoff(r.reconnectBackoff, r.cfg.ReconnectMultiplier, r.cfg.ReconnectCap)
}

func (r *Reactor) onReconnectTimer(now time.Time) {
	r.haveReconnect = false
	if r.phase != Reconnecting {
		return
	}
	r.beginConnecting(now)
}

func nextBackoff(current time.Duration, multiplier float64, cap time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if cap > 0 && next > cap {
		return cap
	}
	return next
}

const retransmitScanInterval = 500 * time.Millisecond

func (r *Reactor) scheduleRetransmitScan(now time.Time) {
	r.retransmitTimerID = r.timers.schedule(now.Add(retransmitScanInterval), r.onRetransmitTimer)
	r.haveRetransmit = true
}

func (r *Reactor) onRetransmitTimer(now time.Time) {
	r.haveRetransmit = false
	if r.phase != Ready {
		return
	}
	for _, rt := range r.tracker.Tick(now) {
		r.metric.IncRetransmissions()
		_ = r.send(now, packetTypeOfRetransmit(rt.Data), rt.Data)
	}
	r.metric.SetInFlight(r.tracker.PendingCount())
	r.scheduleRetransmitScan(now)
}

func (r *Reactor) scheduleKeepAlive(now time.Time) {
	r.keepAliveTimerID = r.timers.schedule(now.Add(r.effectiveKeepAlive/2), r.onKeepAliveTimer)
	r.haveKeepAlive = true
}

func (r *Reactor) onKeepAliveTimer(now time.Time) {
	r.haveKeepAlive = false
	if r.phase != Ready {
		return
	}
	lostDeadline := time.Duration(float64(r.effectiveKeepAlive) * 1.5)
	if r.awaitingPingResp && now.Sub(r.lastPingSentAt) >= lostDeadline {
		r.fail(now, failure("keep_alive_lost", nil))
		return
	}
	if !r.awaitingPingResp && now.Sub(r.lastOutboundAt) >= r.effectiveKeepAlive {
		if err := r.send(now, packets.PINGREQ, encodePacket(&packets.PingreqPacket{})); err == nil {
			r.awaitingPingResp = true
			r.lastPingSentAt = now
		}
	}
	r.scheduleKeepAlive(now)
}
