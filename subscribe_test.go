package mq

import (
	"context"
	"testing"
	"time"

	"github.com/reactormq/mqttgo/internal/packets"
)

func TestSubscribeGrantsQoSAndDeliversToHandler(t *testing.T) {
	c, tf := dialFake(t)
	defer c.Close()

	msgs := make(chan *Message, 1)
	tok := c.Subscribe(TopicFilter{
		Filter: "sensors/+/temp",
		QoS:    AtLeastOnce,
		Handler: func(m *Message) {
			msgs <- m
		},
	})

	ft := tf.last()
	ft.deliver(encodePacket(&packets.SubackPacket{PacketID: 1, ReturnCodes: []uint8{1}, Version: 5}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := tok.Wait(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil || results[0].GrantedQoS != AtLeastOnce {
		t.Fatalf("unexpected subscribe results: %+v", results)
	}

	pub := &packets.PublishPacket{Topic: "sensors/kitchen/temp", Payload: []byte("21.0"), QoS: 0}
	ft.deliver(encodePacket(pub))

	select {
	case m := <-msgs:
		if m.Topic != "sensors/kitchen/temp" {
			t.Fatalf("unexpected delivered message %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("subscribe handler did not receive the matching publish")
	}
}

func TestSubscribeRefusedFilter(t *testing.T) {
	c, tf := dialFake(t)
	defer c.Close()

	tok := c.Subscribe(TopicFilter{Filter: "forbidden/#", QoS: AtMostOnce})

	ft := tf.last()
	ft.deliver(encodePacket(&packets.SubackPacket{PacketID: 1, ReturnCodes: []uint8{0x80}, Version: 5}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := tok.Wait(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected the refused filter to carry an error, got %+v", results)
	}
}

func TestSubscribeNoFiltersRejectedSynchronously(t *testing.T) {
	c, _ := dialFake(t)
	defer c.Close()

	tok := c.Subscribe()
	if tok.Error() == nil {
		t.Fatal("expected Subscribe() with no filters to fail synchronously")
	}
}

func TestUnsubscribeCompletes(t *testing.T) {
	c, tf := dialFake(t)
	defer c.Close()

	sub := c.Subscribe(TopicFilter{Filter: "sensors/temp", QoS: AtMostOnce})
	ft := tf.last()
	ft.deliver(encodePacket(&packets.SubackPacket{PacketID: 1, ReturnCodes: []uint8{0}, Version: 5}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Wait(ctx); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	tok := c.Unsubscribe("sensors/temp")
	ft.deliver(encodePacket(&packets.UnsubackPacket{PacketID: 2, ReasonCodes: []uint8{0}, Version: 5}))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	results, err := tok.Wait(ctx2)
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected unsubscribe results: %+v", results)
	}
}
