package engine

import (
	"time"

	"github.com/reactormq/mqttgo/internal/inflight"
	"github.com/reactormq/mqttgo/internal/packets"
	"github.com/reactormq/mqttgo/internal/router"
)

func (r *Reactor) handlePublishCommand(now time.Time, req *PublishRequest) {
	if r.phase != Ready {
		if req.OnComplete != nil {
			req.OnComplete(ErrNotReady)
		}
		return
	}

	if req.QoS == 0 {
		pkt := &packets.PublishPacket{
			Topic:      req.Topic,
			Payload:    req.Payload,
			QoS:        0,
			Retain:     req.Retain,
			Properties: req.Properties,
			Version:    r.version,
		}
		err := r.send(now, packets.PUBLISH, encodePacket(pkt))
		if req.OnComplete != nil {
			req.OnComplete(err)
		}
		return
	}

	encode := func(id uint16, dup bool) []byte {
		pkt := &packets.PublishPacket{
			Dup:        dup,
			QoS:        req.QoS,
			Retain:     req.Retain,
			Topic:      req.Topic,
			PacketID:   id,
			Payload:    req.Payload,
			Properties: req.Properties,
			Version:    r.version,
		}
		return encodePacket(pkt)
	}
	onAck := func(res inflight.AckResult) {
		if req.OnComplete != nil {
			req.OnComplete(res.Err)
		}
	}

	id, data, err := r.tracker.SubmitPublish(req.QoS, now, encode, onAck)
	if err != nil {
		if req.OnComplete != nil {
			req.OnComplete(err)
		}
		return
	}
	if err := r.send(now, packets.PUBLISH, data); err != nil {
		r.tracker.Cancel(id)
		if req.OnComplete != nil {
			req.OnComplete(err)
		}
		return
	}
	r.metric.SetInFlight(r.tracker.PendingCount())
}

func (r *Reactor) handleSubscribeCommand(now time.Time, req *SubscribeRequest) {
	if r.phase != Ready {
		if req.OnComplete != nil {
			req.OnComplete(nil, ErrNotReady)
		}
		return
	}

	topics := make([]string, len(req.Filters))
	qos := make([]uint8, len(req.Filters))
	noLocal := make([]bool, len(req.Filters))
	retainAsPublished := make([]bool, len(req.Filters))
	retainHandling := make([]uint8, len(req.Filters))
	for i, f := range req.Filters {
		topics[i] = f.Filter
		qos[i] = f.QoS
		noLocal[i] = f.NoLocal
		retainAsPublished[i] = f.RetainAsPublished
		retainHandling[i] = f.RetainHandling
	}

	encode := func(id uint16) []byte {
		pkt := &packets.SubscribePacket{
			PacketID:          id,
			Topics:            topics,
			QoS:               qos,
			NoLocal:           noLocal,
			RetainAsPublished: retainAsPublished,
			RetainHandling:    retainHandling,
			Properties:        req.Properties,
			Version:           r.version,
		}
		return encodePacket(pkt)
	}

	onAck := func(res inflight.AckResult) {
		results := make([]FilterResult, len(req.Filters))
		for i, f := range req.Filters {
			code := uint8(0x80)
			if i < len(res.ReturnCodes) {
				code = res.ReturnCodes[i]
			}
			failed := code >= 0x80
			results[i] = FilterResult{Filter: f.Filter, Code: code, Failed: failed}
			if !failed {
				r.router.Install(router.Record{
					Filter:  f.Filter,
					QoS:     code,
					NoLocal: f.NoLocal,
					Handler: f.Handler,
				})
			}
		}
		if req.OnComplete != nil {
			req.OnComplete(results, res.Err)
		}
	}

	id, data, err := r.tracker.SubmitSubscribe(now, encode, onAck)
	if err != nil {
		if req.OnComplete != nil {
			req.OnComplete(nil, err)
		}
		return
	}
	if err := r.send(now, packets.SUBSCRIBE, data); err != nil {
		r.tracker.Cancel(id)
		if req.OnComplete != nil {
			req.OnComplete(nil, err)
		}
	}
}

func (r *Reactor) handleUnsubscribeCommand(now time.Time, req *UnsubscribeRequest) {
	if r.phase != Ready {
		if req.OnComplete != nil {
			req.OnComplete(nil, ErrNotReady)
		}
		return
	}

	encode := func(id uint16) []byte {
		pkt := &packets.UnsubscribePacket{
			PacketID:   id,
			Topics:     req.Filters,
			Properties: req.Properties,
			Version:    r.version,
		}
		return encodePacket(pkt)
	}

	onAck := func(res inflight.AckResult) {
		results := make([]FilterResult, len(req.Filters))
		for i, filter := range req.Filters {
			code := uint8(0)
			if i < len(res.ReturnCodes) {
				code = res.ReturnCodes[i]
			}
			failed := r.version >= 5 && code >= 0x80
			results[i] = FilterResult{Filter: filter, Code: code, Failed: failed}
			if !failed {
				r.router.Remove(filter)
			}
		}
		if req.OnComplete != nil {
			req.OnComplete(results, res.Err)
		}
	}

	id, data, err := r.tracker.SubmitUnsubscribe(now, encode, onAck)
	if err != nil {
		if req.OnComplete != nil {
			req.OnComplete(nil, err)
		}
		return
	}
	if err := r.send(now, packets.UNSUBSCRIBE, data); err != nil {
		r.tracker.Cancel(id)
		if req.OnComplete != nil {
			req.OnComplete(nil, err)
		}
	}
}
