package engine

import (
	"time"

	"github.com/reactormq/mqttgo/internal/packets"
)

// handleInboundPacket dispatches one decoded packet to the state
// machine, mirroring the type-switch session loops of the teacher
// pack's client logic but acting on session-engine semantics instead.
func (r *Reactor) handleInboundPacket(now time.Time, pkt packets.Packet) {
	switch p := pkt.(type) {
	case *packets.ConnackPacket:
		r.handleConnack(now, p)
	case *packets.PublishPacket:
		r.handleInboundPublish(now, p)
	case *packets.PubackPacket:
		r.tracker.OnPuback(p.PacketID, p.ReasonCode, r.version >= 5)
	case *packets.PubrecPacket:
		r.handlePubrec(now, p)
	case *packets.PubrelPacket:
		r.handlePubrel(now, p)
	case *packets.PubcompPacket:
		r.tracker.OnPubcomp(p.PacketID, p.ReasonCode, r.version >= 5)
	case *packets.SubackPacket:
		r.tracker.OnSuback(p.PacketID, p.ReturnCodes)
	case *packets.UnsubackPacket:
		r.tracker.OnUnsuback(p.PacketID, p.ReasonCodes)
	case *packets.PingrespPacket:
		r.awaitingPingResp = false
	case *packets.DisconnectPacket:
		r.logger.Debug("broker sent DISCONNECT", "reason_code", p.ReasonCode)
	case *packets.AuthPacket:
		r.handleAuth(now, p)
	}
}

// handleAuth drives the MQTT 5 enhanced-authentication challenge/response
// exchange (§4.12): a broker-sent AUTH with ReasonContinue is answered via
// the configured OnAuthChallenge and another AUTH packet, suspending the
// handshake (or the Ready session, for broker-initiated re-authentication)
// until the exchange resolves. ReasonSuccess just closes out the round;
// the handshake itself still completes on the following CONNACK.
func (r *Reactor) handleAuth(now time.Time, p *packets.AuthPacket) {
	if r.phase != Handshaking && r.phase != Ready {
		return
	}

	switch p.ReasonCode {
	case packets.AuthReasonSuccess:
		r.logger.Debug("authentication exchange completed", "phase", r.phase.String())
		return
	case packets.AuthReasonContinue:
	default:
		r.logger.Debug("received AUTH packet with unexpected reason code", "reason_code", p.ReasonCode)
		return
	}

	if r.cfg.OnAuthChallenge == nil {
		r.failAuth(now, failure("auth_challenge_unsupported", nil))
		return
	}

	var serverData []byte
	if p.Properties != nil {
		serverData = p.Properties.AuthenticationData
	}
	nextData, err := r.cfg.OnAuthChallenge(serverData, p.ReasonCode)
	if err != nil {
		r.failAuth(now, failure("auth_challenge_rejected", err))
		return
	}

	out := &packets.AuthPacket{
		ReasonCode: packets.AuthReasonContinue,
		Properties: &packets.Properties{
			AuthenticationMethod: r.cfg.AuthMethod,
			AuthenticationData:   nextData,
		},
		Version: r.version,
	}
	out.Properties.Presence |= packets.PresAuthenticationMethod
	_ = r.send(now, packets.AUTH, encodePacket(out))
}

// failAuth aborts whatever phase the challenge/response exchange was
// running in: the handshake if it arrived before CONNACK, or the Ready
// session if it was an unsolicited re-authentication.
func (r *Reactor) failAuth(now time.Time, f *Failure) {
	if r.phase == Handshaking {
		if r.haveHandshake {
			r.timers.cancel(r.handshakeTimerID)
			r.haveHandshake = false
		}
		r.closeTransport(nil)
		r.phase = Disconnected
		r.completeConnectFailure(now, f)
		return
	}
	r.fail(now, f)
}

func (r *Reactor) handleInboundPublish(now time.Time, p *packets.PublishPacket) {
	dup := false
	if p.QoS == 2 {
		dup = r.tracker.MarkReceived(p.PacketID)
	}

	if !dup {
		// local is always false here: every PublishPacket reaching this
		// dispatch arrived from the transport, i.e. from the broker, so
		// no-local suppression (a broker echoing back a client's own
		// publish to a NoLocal subscription) is a broker-side concern
		// this client never needs to enforce itself.
		for _, rec := range r.router.Match(p.Topic, false) {
			if rec.Handler != nil {
				rec.Handler(p.Topic, p.Payload)
			}
		}
		if r.cfg.OnMessage != nil {
			r.cfg.OnMessage(p.Topic, p.Payload, p.QoS, p.Retain, p.Dup, p.Properties)
		}
	}

	switch p.QoS {
	case 1:
		_ = r.send(now, packets.PUBACK, encodePacket(&packets.PubackPacket{PacketID: p.PacketID, Version: r.version}))
	case 2:
		_ = r.send(now, packets.PUBREC, encodePacket(&packets.PubrecPacket{PacketID: p.PacketID, Version: r.version}))
	}
}

func (r *Reactor) handlePubrec(now time.Time, p *packets.PubrecPacket) {
	data, ok := r.tracker.OnPubrec(p.PacketID, p.ReasonCode, r.version >= 5, now, func(id uint16) []byte {
		return encodePacket(&packets.PubrelPacket{PacketID: id, Version: r.version})
	})
	if !ok {
		return
	}
	if data != nil {
		_ = r.send(now, packets.PUBREL, data)
	}
}

func (r *Reactor) handlePubrel(now time.Time, p *packets.PubrelPacket) {
	r.tracker.ClearReceived(p.PacketID)
	_ = r.send(now, packets.PUBCOMP, encodePacket(&packets.PubcompPacket{PacketID: p.PacketID, Version: r.version}))
}
