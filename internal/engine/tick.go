package engine

import (
	"time"

	"github.com/reactormq/mqttgo/internal/transport"
)

// Tick performs the five-step pass from §4.5: drain inbound packets,
// fire ready timers, drain commands, drive the transport, and flush.
// Steps (1) and (4) collapse into a single transport.Tick() call here —
// unlike the reactor envisioned by the spec, Go's transport backends
// already run their socket I/O on dedicated reader/writer goroutines
// (see internal/transport), so there is no separate non-blocking I/O
// poll left for step (4) to perform beyond draining the event channel
// step (1) already drains. Step (5) is likewise implicit: every send
// this package issues goes straight to transport.Send within the same
// call that produced the bytes, so there is nothing left queued to
// flush at the end of a tick.
func (r *Reactor) Tick(now time.Time) {
	r.drainTransportEvents(now)
	r.timers.fireReady(now)
	r.drainCommands(now)
}

func (r *Reactor) drainTransportEvents(now time.Time) {
	if r.transport == nil {
		return
	}
	events := r.transport.Tick()
	packetBudget := r.cfg.MaxInboundPerTick
	for _, ev := range events {
		switch ev.Kind {
		case transport.EventData:
			if packetBudget <= 0 {
				// Let the rest wait for the next tick; the transport's
				// own event channel holds them meanwhile.
				continue
			}
			packetBudget--
			r.handleInboundBytes(now, ev.Packet)
		case transport.EventConnected:
			r.handleTransportConnected(now)
		case transport.EventDisconnected:
			r.handleTransportDisconnected(now, ev.Err)
		}
	}
}

func (r *Reactor) handleInboundBytes(now time.Time, raw []byte) {
	pkt, err := decodePacket(raw, r.version)
	if err != nil {
		r.metric.IncPacketsDropped("malformed")
		if r.cfg.Strict {
			r.fail(now, refusal("protocol_violation", 0))
			return
		}
		r.logger.Warn("dropping malformed inbound packet", "error", err)
		return
	}
	r.metric.IncBytesReceived(len(raw))
	r.metric.IncPacketsReceived(pkt.Type())
	r.handleInboundPacket(now, pkt)
}

func (r *Reactor) drainCommands(now time.Time) {
	budget := r.cfg.MaxCommandsPerTick
	for budget > 0 {
		select {
		case cmd := <-r.queue:
			r.dispatchCommand(now, cmd)
			budget--
		default:
			return
		}
	}
}

func (r *Reactor) dispatchCommand(now time.Time, cmd command) {
	switch cmd.kind {
	case cmdConnect:
		r.handleConnectCommand(now, cmd.connect)
	case cmdDisconnect:
		r.handleDisconnectCommand(now, cmd.disconnect)
	case cmdPublish:
		r.handlePublishCommand(now, cmd.publish)
	case cmdSubscribe:
		r.handleSubscribeCommand(now, cmd.subscribe)
	case cmdUnsubscribe:
		r.handleUnsubscribeCommand(now, cmd.unsubscribe)
	}
}
