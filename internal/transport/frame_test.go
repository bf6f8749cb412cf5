package transport

import (
	"bytes"
	"testing"
)

func encodeTestPacket(packetType byte, payload []byte) []byte {
	hdr := []byte{packetType << 4}
	rl := len(payload)
	for {
		b := byte(rl % 128)
		rl /= 128
		if rl > 0 {
			b |= 0x80
		}
		hdr = append(hdr, b)
		if rl == 0 {
			break
		}
	}
	return append(hdr, payload...)
}

func TestFrameBufferSinglePacket(t *testing.T) {
	fb := newFrameBuffer(1<<20, 1<<20)
	pkt := encodeTestPacket(12, nil) // PINGREQ, zero-length payload

	packets, err := fb.feed(pkt)
	if err != nil {
		t.Fatalf("feed() error = %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if !bytes.Equal(packets[0], pkt) {
		t.Errorf("packet mismatch: got %x want %x", packets[0], pkt)
	}
}

func TestFrameBufferPartialThenComplete(t *testing.T) {
	fb := newFrameBuffer(1<<20, 1<<20)
	payload := []byte("hello")
	pkt := encodeTestPacket(3, payload) // PUBLISH-shaped

	packets, err := fb.feed(pkt[:2])
	if err != nil {
		t.Fatalf("feed() partial error = %v", err)
	}
	if len(packets) != 0 {
		t.Fatalf("got %d packets from partial feed, want 0", len(packets))
	}

	packets, err = fb.feed(pkt[2:])
	if err != nil {
		t.Fatalf("feed() remainder error = %v", err)
	}
	if len(packets) != 1 || !bytes.Equal(packets[0], pkt) {
		t.Fatalf("expected the full packet after remainder, got %v", packets)
	}
}

func TestFrameBufferMultiplePackets(t *testing.T) {
	fb := newFrameBuffer(1<<20, 1<<20)
	p1 := encodeTestPacket(12, nil)
	p2 := encodeTestPacket(13, nil)

	packets, err := fb.feed(append(append([]byte{}, p1...), p2...))
	if err != nil {
		t.Fatalf("feed() error = %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
}

func TestFrameBufferOversizedPacketTerminates(t *testing.T) {
	fb := newFrameBuffer(10, 1<<20)
	pkt := encodeTestPacket(3, make([]byte, 100))

	_, err := fb.feed(pkt)
	if err == nil {
		t.Fatal("expected error for oversized packet")
	}
}

func TestFrameBufferBufferCapTerminates(t *testing.T) {
	fb := newFrameBuffer(1<<20, 16)
	_, err := fb.feed(make([]byte, 32))
	if err == nil {
		t.Fatal("expected error when buffer cap exceeded")
	}
}

func TestFrameBufferCompaction(t *testing.T) {
	fb := newFrameBuffer(1<<20, 10<<20)

	var sent []byte
	pkt := encodeTestPacket(12, nil)
	for len(sent) < compactThreshold+10 {
		sent = append(sent, pkt...)
	}

	packets, err := fb.feed(sent)
	if err != nil {
		t.Fatalf("feed() error = %v", err)
	}
	if len(packets) == 0 {
		t.Fatal("expected packets to be parsed")
	}
	if fb.cursor != 0 {
		t.Errorf("expected cursor reset to 0 after compaction, got %d", fb.cursor)
	}
	if len(fb.buf) != 0 {
		t.Errorf("expected buffer drained after compaction, got len %d", len(fb.buf))
	}
}

func TestDecodeRemainingLengthIncomplete(t *testing.T) {
	_, _, err := decodeRemainingLength([]byte{0x80})
	if err != errIncompleteVarint {
		t.Errorf("expected errIncompleteVarint, got %v", err)
	}
}

func TestDecodeRemainingLengthMultiByte(t *testing.T) {
	// 321 = 0xC1 0x02 in VBI
	val, n, err := decodeRemainingLength([]byte{0xC1, 0x02})
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if val != 321 || n != 2 {
		t.Errorf("got (%d, %d), want (321, 2)", val, n)
	}
}
