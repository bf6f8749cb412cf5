package mq

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/reactormq/mqttgo/internal/packets"
)

func TestPublishQoS0CompletesWithoutAck(t *testing.T) {
	c, _ := dialFake(t)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tok := c.Publish("sensors/temp", []byte("22.5"))
	if err := tok.Wait(ctx); err != nil {
		t.Fatalf("Publish QoS0: %v", err)
	}
}

func TestPublishQoS1WaitsForPuback(t *testing.T) {
	c, tf := dialFake(t)
	defer c.Close()

	tok := c.Publish("sensors/temp", []byte("22.5"), WithQoS(AtLeastOnce))

	select {
	case <-tok.Done():
		t.Fatal("QoS1 publish completed before PUBACK arrived")
	case <-time.After(20 * time.Millisecond):
	}

	ft := tf.last()
	ft.deliver(encodePacket(&packets.PubackPacket{PacketID: 1, Version: 5}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tok.Wait(ctx); err != nil {
		t.Fatalf("Publish QoS1: %v", err)
	}
}

func TestPublishInvalidTopicRejectedSynchronously(t *testing.T) {
	c, _ := dialFake(t)
	defer c.Close()

	tok := c.Publish("sensors/+/temp", []byte("x"))
	select {
	case <-tok.Done():
	default:
		t.Fatal("expected invalid-topic publish to fail synchronously")
	}
	if tok.Error() == nil {
		t.Fatal("expected an error for a wildcard publish topic")
	}
}

func TestPublishOversizedPayloadRejected(t *testing.T) {
	c, _ := dialFake(t, WithMaxPayloadSize(8))
	defer c.Close()

	tok := c.Publish("sensors/temp", []byte(strings.Repeat("x", 9)))
	if tok.Error() == nil {
		t.Fatal("expected oversized payload to be rejected")
	}
}
