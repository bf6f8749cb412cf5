package mq

import (
	"github.com/reactormq/mqttgo/internal/engine"
)

// PublishOptions holds the per-call knobs a PublishOption can set.
type PublishOptions struct {
	QoS        QoS
	Retain     bool
	Properties *Properties
}

// PublishOption configures one Publish call.
type PublishOption func(*PublishOptions)

// WithQoS sets the Quality of Service level for a single publish.
// Default is QoS 0 (at most once, no acknowledgement).
func WithQoS(qos QoS) PublishOption {
	return func(o *PublishOptions) { o.QoS = qos }
}

// WithRetain sets the retain flag: the broker stores the message and
// delivers it to future subscribers of the topic. Default false.
func WithRetain(retain bool) PublishOption {
	return func(o *PublishOptions) { o.Retain = retain }
}

// WithPublishProperties attaches MQTT 5.0 properties to a single
// publish. Ignored on MQTT 3.1.1 connections.
func WithPublishProperties(props *Properties) PublishOption {
	return func(o *PublishOptions) { o.Properties = props }
}

// Publish sends a message to topic. The returned Token completes
// immediately for QoS 0, or once the corresponding PUBACK/PUBCOMP
// arrives for QoS 1/2.
//
// Example:
//
//	token := client.Publish("sensors/temp", []byte("22.5"), mq.WithQoS(mq.AtLeastOnce))
//	if err := token.Wait(ctx); err != nil {
//	    log.Printf("publish failed: %v", err)
//	}
func (c *Client) Publish(topic string, payload []byte, opts ...PublishOption) Token {
	tok := newToken()

	if err := validatePublishTopic(topic, c.cfg.maxTopicLength); err != nil {
		tok.complete(wrapError(ConfigInvalid, "invalid publish topic", err))
		return tok
	}
	if err := validatePayload(payload, c.cfg.maxPayloadSize); err != nil {
		tok.complete(wrapError(ConfigInvalid, "invalid payload", err))
		return tok
	}

	po := &PublishOptions{}
	for _, opt := range opts {
		opt(po)
	}

	if err := validatePayloadFormat(payload, po.Properties); err != nil {
		tok.complete(wrapError(ConfigInvalid, "invalid payload format", err))
		return tok
	}

	req := &engine.PublishRequest{
		Topic:      topic,
		Payload:    payload,
		QoS:        uint8(po.QoS),
		Retain:     po.Retain,
		Properties: toInternalProperties(po.Properties),
		OnComplete: func(err error) { tok.complete(wrapEngineError(err)) },
	}
	if err := c.reactor.EnqueuePublish(req); err != nil {
		tok.complete(wrapEngineError(err))
	}
	return tok
}
