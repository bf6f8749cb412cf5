package mq

import (
	"github.com/reactormq/mqttgo/internal/engine"
)

// Subscribe installs one or more topic filters. The returned
// SubscribeToken resolves to one SubscribeResult per filter, in request
// order, once the broker's SUBACK arrives.
//
// Example:
//
//	token := client.Subscribe(mq.TopicFilter{
//	    Filter: "sensors/+/temp",
//	    QoS:    mq.AtLeastOnce,
//	    Handler: func(msg *mq.Message) { fmt.Println(string(msg.Payload)) },
//	})
//	results, err := token.Wait(ctx)
func (c *Client) Subscribe(filters ...TopicFilter) SubscribeToken {
	tok := newSubscribeToken()
	if len(filters) == 0 {
		tok.complete(nil, newError(ConfigInvalid, "subscribe requires at least one filter"))
		return tok
	}

	engineFilters := make([]engine.SubscribeFilter, len(filters))
	for i, f := range filters {
		if err := validateSubscribeTopic(f.Filter, c.cfg.maxTopicLength); err != nil {
			tok.complete(nil, wrapError(ConfigInvalid, "invalid subscribe filter", err))
			return tok
		}
		handler := f.Handler
		engineFilters[i] = engine.SubscribeFilter{
			Filter:            f.Filter,
			QoS:               uint8(f.QoS),
			NoLocal:           f.NoLocal,
			RetainAsPublished: f.RetainAsPublished,
			RetainHandling:    uint8(f.RetainHandling),
			Handler: func(topic string, payload []byte) {
				if handler == nil {
					return
				}
				msg := &Message{Topic: topic, Payload: payload, QoS: f.QoS}
				c.runDelegate(func() { handler(msg) })
			},
		}
	}

	req := &engine.SubscribeRequest{
		Filters:    engineFilters,
		OnComplete: func(results []engine.FilterResult, err error) { tok.complete(toSubscribeResults(filters, results), wrapEngineError(err)) },
	}
	if err := c.reactor.EnqueueSubscribe(req); err != nil {
		tok.complete(nil, wrapEngineError(err))
	}
	return tok
}

// Unsubscribe removes one or more topic filters. The returned
// SubscribeToken resolves once the broker's UNSUBACK arrives; GrantedQoS
// on each SubscribeResult is meaningless for unsubscribe and always 0.
func (c *Client) Unsubscribe(filters ...string) SubscribeToken {
	tok := newSubscribeToken()
	if len(filters) == 0 {
		tok.complete(nil, newError(ConfigInvalid, "unsubscribe requires at least one filter"))
		return tok
	}

	req := &engine.UnsubscribeRequest{
		Filters: filters,
		OnComplete: func(results []engine.FilterResult, err error) {
			out := make([]SubscribeResult, len(results))
			for i, r := range results {
				out[i] = SubscribeResult{Filter: r.Filter}
				if r.Failed {
					out[i].Err = refusedError(SubscriptionFailed, ReasonCode(r.Code), "unsubscribe refused")
				}
			}
			tok.complete(out, wrapEngineError(err))
		},
	}
	if err := c.reactor.EnqueueUnsubscribe(req); err != nil {
		tok.complete(nil, wrapEngineError(err))
	}
	return tok
}

func toSubscribeResults(filters []TopicFilter, results []engine.FilterResult) []SubscribeResult {
	if results == nil {
		return nil
	}
	out := make([]SubscribeResult, len(results))
	for i, r := range results {
		out[i] = SubscribeResult{Filter: r.Filter, GrantedQoS: QoS(r.Code)}
		if r.Failed {
			out[i] = SubscribeResult{
				Filter: r.Filter,
				Err:    refusedError(SubscriptionFailed, ReasonCode(r.Code), "subscription refused"),
			}
		}
	}
	return out
}
