package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PubcompPacket represents an MQTT PUBCOMP control packet (QoS 2, step 4).
type PubcompPacket struct {
	PacketID uint16

	// MQTT v5.0 fields
	ReasonCode uint8       // v5.0
	Properties *Properties // v5.0
	Version    uint8       // 4 or 5
}

// Type returns the packet type.
func (p *PubcompPacket) Type() uint8 {
	return PUBCOMP
}

// Encode serializes the PUBCOMP packet into dst.
func (p *PubcompPacket) Encode(dst []byte) ([]byte, error) {
	var propsLen int
	if p.Version >= 5 {
		if p.ReasonCode != 0 || p.Properties != nil {
			var propBuf [128]byte
			encodedProps := appendProperties(propBuf[:0], p.Properties)
			propsLen = len(encodedProps)
		}
	}

	variableHeaderLen := 2
	if p.Version >= 5 {
		if p.ReasonCode != 0 || p.Properties != nil {
			variableHeaderLen += 1 + propsLen // ReasonCode + Props
		}
	}

	header := FixedHeader{
		PacketType:      PUBCOMP,
		Flags:           0,
		RemainingLength: variableHeaderLen,
	}
	dst = header.appendBytes(dst)

	dst = binary.BigEndian.AppendUint16(dst, p.PacketID)

	if p.Version >= 5 {
		if p.ReasonCode != 0 || p.Properties != nil {
			dst = append(dst, p.ReasonCode)
			dst = appendProperties(dst, p.Properties)
		}
	}

	return dst, nil
}

// WriteTo writes the PUBCOMP packet to the writer.
func (p *PubcompPacket) WriteTo(w io.Writer) (int64, error) {
	bufPtr := GetBuffer(4096)
	defer PutBuffer(bufPtr)

	data, err := p.Encode((*bufPtr)[:0])
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// DecodePubcomp decodes a PUBCOMP packet from the buffer.
func DecodePubcomp(buf []byte, version uint8) (*PubcompPacket, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("buffer too short for PUBCOMP packet")
	}

	pkt := &PubcompPacket{
		Version: version,
	}

	pkt.PacketID = binary.BigEndian.Uint16(buf[0:2])

	if version >= 5 && len(buf) > 2 {
		pkt.ReasonCode = buf[2]
		if len(buf) > 3 {
			props, _, err := decodeProperties(buf[3:])
			if err != nil {
				return nil, fmt.Errorf("failed to decode properties: %w", err)
			}
			pkt.Properties = props
		}
	}

	return pkt, nil
}
