package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/oarkflow/errors"

	"github.com/oarkflow/connector/consts"
)

var (
	ErrInvalidPacket     = errors.New("invalid packet")
	ErrInvalidPacketType = errors.New("invalid packet type")
	ErrPacketTooLarge    = errors.New("packet too large")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrRouteTooLong      = errors.New("route too long")
	ErrUnknownRouteCode  = errors.New("unknown route code")
)

const (
	flagRouteCompressed byte = 0x01
	flagError           byte = 0x10
	flagCompressed      byte = 0x20
	flagEncrypted       byte = 0x40

	typeShift = 1
	typeMask  = 0x07

	maxRouteLength = math.MaxUint8
)

// Message is the unit carried inside a Data packet.
type Message struct {
	Type  consts.MessageType
	ID    uint32
	Route string
	Body  []byte
	// Error marks a response that carries a server side failure in Body.
	Error bool
}

func (m *Message) String() string {
	return fmt.Sprintf("%s id=%d route=%q body=%d bytes", m.Type, m.ID, m.Route, len(m.Body))
}

// Codec encodes and decodes messages. The route dictionary can be swapped
// at any time, typically once the handshake response arrives.
type Codec struct {
	dict       atomic.Pointer[RouteDict]
	serializer *Serializer
}

// NewCodec creates a codec using the given body serializer; nil means plain JSON.
func NewCodec(serializer *Serializer) *Codec {
	if serializer == nil {
		serializer = NewSerializer(nil)
	}
	return &Codec{serializer: serializer}
}

// SetDict installs the route dictionary used for route compression.
func (c *Codec) SetDict(dict *RouteDict) {
	c.dict.Store(dict)
}

// Dict returns the active route dictionary, possibly nil.
func (c *Codec) Dict() *RouteDict {
	return c.dict.Load()
}

// Serializer returns the body serializer.
func (c *Codec) Serializer() *Serializer {
	return c.serializer
}

// Encode serializes msg into a Data packet body.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	if msg == nil || !msg.Type.IsValid() {
		return nil, ErrInvalidMessage
	}
	if msg.Type.HasID() && msg.ID == 0 {
		return nil, fmt.Errorf("%w: %s requires an id", ErrInvalidMessage, msg.Type)
	}
	if msg.Type.HasRoute() && msg.Route == "" {
		return nil, fmt.Errorf("%w: %s requires a route", ErrInvalidMessage, msg.Type)
	}
	body, bodyFlags, err := c.serializer.Encode(msg.Body)
	if err != nil {
		return nil, err
	}
	flag := byte(msg.Type)<<typeShift | bodyFlags
	if msg.Error {
		flag |= flagError
	}

	buf := make([]byte, 0, 1+binary.MaxVarintLen32+3+len(msg.Route)+len(body))
	buf = append(buf, flag)
	if msg.Type.HasID() {
		buf = binary.AppendUvarint(buf, uint64(msg.ID))
	}
	if msg.Type.HasRoute() {
		if code, ok := c.Dict().Code(msg.Route); ok {
			buf[0] |= flagRouteCompressed
			buf = binary.BigEndian.AppendUint16(buf, code)
		} else {
			if len(msg.Route) > maxRouteLength {
				return nil, fmt.Errorf("%w: %d bytes", ErrRouteTooLong, len(msg.Route))
			}
			buf = append(buf, byte(len(msg.Route)))
			buf = append(buf, msg.Route...)
		}
	}
	return append(buf, body...), nil
}

// Decode parses a Data packet body. A message with an empty route or a zero
// id decodes successfully; classifying such messages is up to the caller.
func (c *Codec) Decode(data []byte) (*Message, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidMessage)
	}
	flag := data[0]
	typ := consts.MessageType((flag >> typeShift) & typeMask)
	if !typ.IsValid() {
		return nil, fmt.Errorf("%w: type %d", ErrInvalidMessage, typ)
	}
	msg := &Message{Type: typ, Error: flag&flagError != 0}
	offset := 1
	if typ.HasID() {
		id, n := binary.Uvarint(data[offset:])
		if n <= 0 || id > math.MaxUint32 {
			return nil, fmt.Errorf("%w: bad id", ErrInvalidMessage)
		}
		msg.ID = uint32(id)
		offset += n
	}
	if typ.HasRoute() {
		if flag&flagRouteCompressed != 0 {
			if len(data)-offset < 2 {
				return nil, fmt.Errorf("%w: truncated route code", ErrInvalidMessage)
			}
			code := binary.BigEndian.Uint16(data[offset:])
			route, ok := c.Dict().Route(code)
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrUnknownRouteCode, code)
			}
			msg.Route = route
			offset += 2
		} else {
			if len(data)-offset < 1 {
				return nil, fmt.Errorf("%w: truncated route", ErrInvalidMessage)
			}
			length := int(data[offset])
			offset++
			if len(data)-offset < length {
				return nil, fmt.Errorf("%w: truncated route", ErrInvalidMessage)
			}
			msg.Route = string(data[offset : offset+length])
			offset += length
		}
	}
	body, err := c.serializer.Decode(data[offset:], flag&(flagCompressed|flagEncrypted))
	if err != nil {
		return nil, err
	}
	msg.Body = body
	return msg, nil
}

// EncodePacket wraps msg into a Data packet.
func (c *Codec) EncodePacket(msg *Message) (Packet, error) {
	body, err := c.Encode(msg)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: consts.Data, Body: body}, nil
}
