package engine

import (
	"context"

	"github.com/reactormq/mqttgo/internal/packets"
)

// FilterResult is the outcome of one filter within a Subscribe or
// Unsubscribe command, handed back to the completion callback.
type FilterResult struct {
	Filter string
	Code   uint8
	Failed bool
}

// ConnectRequest asks the reactor to dial and perform the CONNECT/CONNACK
// handshake. OnComplete is called exactly once, on success or failure.
type ConnectRequest struct {
	Ctx        context.Context
	OnComplete func(sessionPresent bool, err error)
}

// DisconnectRequest asks the reactor to perform a graceful shutdown.
type DisconnectRequest struct {
	ReasonCode uint8
	Properties *packets.Properties
	OnComplete func(err error)
}

// PublishRequest asks the reactor to publish one message.
type PublishRequest struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Retain     bool
	Properties *packets.Properties
	OnComplete func(err error)
}

// SubscribeFilter is one entry of a SubscribeRequest.
type SubscribeFilter struct {
	Filter            string
	QoS               uint8
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    uint8
	Handler           func(topic string, payload []byte)
}

// SubscribeRequest asks the reactor to install one or more filters.
type SubscribeRequest struct {
	Filters    []SubscribeFilter
	Properties *packets.Properties
	OnComplete func(results []FilterResult, err error)
}

// UnsubscribeRequest asks the reactor to remove one or more filters.
type UnsubscribeRequest struct {
	Filters    []string
	Properties *packets.Properties
	OnComplete func(results []FilterResult, err error)
}

type commandKind uint8

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdPublish
	cmdSubscribe
	cmdUnsubscribe
)

type command struct {
	kind        commandKind
	connect     *ConnectRequest
	disconnect  *DisconnectRequest
	publish     *PublishRequest
	subscribe   *SubscribeRequest
	unsubscribe *UnsubscribeRequest
}

func (r *Reactor) enqueue(c command) error {
	select {
	case r.queue <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueConnect submits a Connect command. Safe to call from any
// goroutine; the actual dial happens on a later Tick.
func (r *Reactor) EnqueueConnect(req *ConnectRequest) error {
	return r.enqueue(command{kind: cmdConnect, connect: req})
}

// EnqueueDisconnect submits a Disconnect command.
func (r *Reactor) EnqueueDisconnect(req *DisconnectRequest) error {
	return r.enqueue(command{kind: cmdDisconnect, disconnect: req})
}

// EnqueuePublish submits a Publish command.
func (r *Reactor) EnqueuePublish(req *PublishRequest) error {
	return r.enqueue(command{kind: cmdPublish, publish: req})
}

// EnqueueSubscribe submits a Subscribe command.
func (r *Reactor) EnqueueSubscribe(req *SubscribeRequest) error {
	return r.enqueue(command{kind: cmdSubscribe, subscribe: req})
}

// EnqueueUnsubscribe submits an Unsubscribe command.
func (r *Reactor) EnqueueUnsubscribe(req *UnsubscribeRequest) error {
	return r.enqueue(command{kind: cmdUnsubscribe, unsubscribe: req})
}
