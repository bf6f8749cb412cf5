package transport

import "fmt"

// frameBuffer deframes a byte stream into whole MQTT packets (fixed
// header + remaining-length body), per §4.2's framing algorithm. It is
// owned exclusively by one reader goroutine; no synchronization is
// needed as long as that invariant holds.
type frameBuffer struct {
	buf    []byte
	cursor int // bytes at the front of buf already emitted as packets

	maxPacketSize int
	maxBufferSize int
}

func newFrameBuffer(maxPacketSize, maxBufferSize int) *frameBuffer {
	return &frameBuffer{
		maxPacketSize: maxPacketSize,
		maxBufferSize: maxBufferSize,
	}
}

// compactThreshold and the 75%-consumed check in compact implement the
// "256 KiB and >= 75% consumed" compaction rule from §4.2.
const compactThreshold = 256 * 1024

// feed appends chunk to the buffer and returns every complete packet now
// available, in order. An error means the connection must be terminated
// (oversized packet or buffer cap exceeded).
func (f *frameBuffer) feed(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)
	if len(f.buf) > f.maxBufferSize {
		return nil, fmt.Errorf("transport: inbound buffer exceeds max %d bytes", f.maxBufferSize)
	}

	var packets [][]byte
	for {
		pkt, n, ok, err := parseOnePacket(f.buf[f.cursor:], f.maxPacketSize)
		if err != nil {
			return packets, err
		}
		if !ok {
			break
		}
		packets = append(packets, pkt)
		f.cursor += n
	}

	f.compact()
	return packets, nil
}

func (f *frameBuffer) compact() {
	if f.cursor >= compactThreshold && f.cursor*4 >= len(f.buf)*3 {
		remaining := len(f.buf) - f.cursor
		copy(f.buf, f.buf[f.cursor:])
		f.buf = f.buf[:remaining]
		f.cursor = 0
	}
}

// parseOnePacket attempts to read one fixed-header-framed packet from
// data. ok is false when more bytes are needed; the returned packet is a
// fresh copy (the caller's chunk gets reused/overwritten by future reads
// in the wrapping backend).
func parseOnePacket(data []byte, maxPacketSize int) (pkt []byte, consumed int, ok bool, err error) {
	if len(data) < 2 {
		return nil, 0, false, nil
	}

	remaining, vbiLen, err := decodeRemainingLength(data[1:])
	if err == errIncompleteVarint {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	if remaining > maxPacketSize {
		return nil, 0, false, fmt.Errorf("transport: packet size %d exceeds max %d", remaining, maxPacketSize)
	}

	total := 1 + vbiLen + remaining
	if len(data) < total {
		return nil, 0, false, nil
	}

	out := make([]byte, total)
	copy(out, data[:total])
	return out, total, true, nil
}

var errIncompleteVarint = fmt.Errorf("transport: incomplete variable byte integer")

// decodeRemainingLength decodes a Variable Byte Integer (MQTT's
// base-128 continuation encoding, 1-4 bytes) from the start of b.
func decodeRemainingLength(b []byte) (value, n int, err error) {
	multiplier := 1
	for i := 0; i < len(b); i++ {
		if i == 4 {
			return 0, 0, fmt.Errorf("transport: variable byte integer exceeds 4 bytes")
		}
		value += int(b[i]&0x7f) * multiplier
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
		multiplier *= 128
	}
	if len(b) >= 4 {
		return 0, 0, fmt.Errorf("transport: malformed variable byte integer")
	}
	return 0, 0, errIncompleteVarint
}
