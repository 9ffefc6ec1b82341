package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/oarkflow/connector/consts"
)

const (
	// HeaderLength is the size of a packet header: type byte + 24-bit length.
	HeaderLength = 4
	// MaxBodyLength is the largest body a 24-bit length can describe.
	MaxBodyLength = 1<<24 - 1
)

// Packet is one frame on the wire.
type Packet struct {
	Type consts.PacketType
	Body []byte
}

func (p Packet) String() string {
	return fmt.Sprintf("%s(%d bytes)", p.Type, len(p.Body))
}

// EncodePacket serializes p into header + body.
func EncodePacket(p Packet) ([]byte, error) {
	if !p.Type.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, p.Type)
	}
	if len(p.Body) > MaxBodyLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(p.Body))
	}
	buf := make([]byte, HeaderLength+len(p.Body))
	buf[0] = byte(p.Type)
	putUint24(buf[1:HeaderLength], uint32(len(p.Body)))
	copy(buf[HeaderLength:], p.Body)
	return buf, nil
}

// WritePacket encodes p and writes it to w in a single call.
func WritePacket(w io.Writer, p Packet) error {
	data, err := EncodePacket(p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadPacket reads exactly one packet from a stream.
func ReadPacket(r io.Reader) (Packet, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, err
	}
	typ := consts.PacketType(header[0])
	if !typ.IsValid() {
		return Packet{}, fmt.Errorf("%w: %d", ErrInvalidPacketType, header[0])
	}
	length := uint24(header[1:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, err
	}
	return Packet{Type: typ, Body: body}, nil
}

// DecodePackets splits a buffer that may hold several concatenated packets,
// as delivered by message oriented transports.
func DecodePackets(data []byte) ([]Packet, error) {
	var packets []Packet
	for offset := 0; offset < len(data); {
		if len(data)-offset < HeaderLength {
			return packets, fmt.Errorf("%w: truncated header", ErrInvalidPacket)
		}
		typ := consts.PacketType(data[offset])
		if !typ.IsValid() {
			return packets, fmt.Errorf("%w: %d", ErrInvalidPacketType, data[offset])
		}
		length := int(uint24(data[offset+1 : offset+HeaderLength]))
		offset += HeaderLength
		if len(data)-offset < length {
			return packets, fmt.Errorf("%w: body needs %d bytes, have %d", ErrInvalidPacket, length, len(data)-offset)
		}
		body := make([]byte, length)
		copy(body, data[offset:offset+length])
		packets = append(packets, Packet{Type: typ, Body: body})
		offset += length
	}
	return packets, nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(binary.BigEndian.Uint16(b[1:3]))
}
