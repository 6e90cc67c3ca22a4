// Package protocol implements the LIFX LAN binary wire format: the fixed
// 36-byte header plus the typed payloads this controller speaks. It does no
// I/O; callers hand it raw datagrams.
package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// HeaderSize is the fixed LIFX LAN header length in bytes.
	HeaderSize = 36

	// Port is the UDP port LIFX devices listen on.
	Port = 56700

	// protocolNumber is the only protocol value defined for the LAN protocol.
	protocolNumber = 1024
)

var (
	ErrMalformedHeader    = errors.New("protocol: malformed header")
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
)

// MessageType tags the payload carried after the header.
type MessageType uint16

const (
	TypeGetService        MessageType = 2
	TypeStateService      MessageType = 3
	TypeGetHostFirmware   MessageType = 14
	TypeStateHostFirmware MessageType = 15
	TypeGetPower          MessageType = 20
	TypeSetPower          MessageType = 21
	TypeStatePower        MessageType = 22
	TypeGetLabel          MessageType = 23
	TypeSetLabel          MessageType = 24
	TypeStateLabel        MessageType = 25
	TypeGetVersion        MessageType = 32
	TypeStateVersion      MessageType = 33
	TypeAcknowledgement   MessageType = 45
	TypeGetLocation       MessageType = 48
	TypeStateLocation     MessageType = 50
	TypeGetGroup          MessageType = 51
	TypeStateGroup        MessageType = 53
	TypeLightGet          MessageType = 101
	TypeLightSetColor     MessageType = 102
	TypeLightState        MessageType = 107
	TypeLightGetPower     MessageType = 116
	TypeLightSetPower     MessageType = 117
	TypeLightStatePower   MessageType = 118
)

// payloadFactories maps every known message type to a constructor for its
// payload. A nil factory means the type carries no payload.
var payloadFactories = map[MessageType]func() Payload{
	TypeGetService:        nil,
	TypeStateService:      func() Payload { return new(StateService) },
	TypeGetHostFirmware:   nil,
	TypeStateHostFirmware: func() Payload { return new(StateHostFirmware) },
	TypeGetPower:          nil,
	TypeSetPower:          func() Payload { return new(SetPower) },
	TypeStatePower:        func() Payload { return new(StatePower) },
	TypeGetLabel:          nil,
	TypeSetLabel:          func() Payload { return new(SetLabel) },
	TypeStateLabel:        func() Payload { return new(StateLabel) },
	TypeGetVersion:        nil,
	TypeStateVersion:      func() Payload { return new(StateVersion) },
	TypeAcknowledgement:   nil,
	TypeGetLocation:       nil,
	TypeStateLocation:     func() Payload { return new(StateLocation) },
	TypeGetGroup:          nil,
	TypeStateGroup:        func() Payload { return new(StateGroup) },
	TypeLightGet:          nil,
	TypeLightSetColor:     func() Payload { return new(LightSetColor) },
	TypeLightState:        func() Payload { return new(LightState) },
	TypeLightGetPower:     nil,
	TypeLightSetPower:     func() Payload { return new(LightSetPower) },
	TypeLightStatePower:   func() Payload { return new(LightStatePower) },
}

// Serial is a device's stable hardware identifier. It never changes for a
// given bulb and is the registry key; the network address may drift.
type Serial [6]byte

var ZeroSerial Serial

func (s Serial) String() string {
	parts := make([]string, len(s))
	for i, b := range s {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

// ParseSerial parses the "d0:73:d5:01:02:03" form produced by String.
func ParseSerial(s string) (Serial, error) {
	var out Serial
	parts := strings.Split(s, ":")
	if len(parts) != len(out) {
		return out, fmt.Errorf("protocol: invalid serial %q", s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return out, fmt.Errorf("protocol: invalid serial %q", s)
		}
		out[i] = b[0]
	}
	return out, nil
}

// Message is one decoded wire packet: the header fields callers care about
// plus the typed payload (nil for payload-less types).
type Message struct {
	Source      uint32
	Target      Serial
	Tagged      bool
	AckRequired bool
	ResRequired bool
	Sequence    uint8
	Type        MessageType
	Payload     Payload
}

// Encode serializes m into a datagram. It cannot fail: field ranges are
// enforced by the payload constructors before a Message is ever built.
func Encode(m Message) []byte {
	var size int
	if m.Payload != nil {
		size = m.Payload.size()
	}
	buf := make([]byte, HeaderSize+size)

	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(buf)))

	// protocol (12 bits) | addressable | tagged | origin.
	field := uint16(protocolNumber) | 1<<12
	if m.Tagged {
		field |= 1 << 13
	}
	binary.LittleEndian.PutUint16(buf[2:4], field)
	binary.LittleEndian.PutUint32(buf[4:8], m.Source)
	copy(buf[8:14], m.Target[:])
	// buf[14:16] target padding, buf[16:22] reserved.
	if m.ResRequired {
		buf[22] |= 1 << 0
	}
	if m.AckRequired {
		buf[22] |= 1 << 1
	}
	buf[23] = m.Sequence
	// buf[24:32] reserved timestamp.
	binary.LittleEndian.PutUint16(buf[32:34], uint16(m.Type))
	// buf[34:36] reserved.

	if m.Payload != nil {
		m.Payload.marshal(buf[HeaderSize:])
	}
	return buf
}

// Decode parses a datagram. It returns ErrMalformedHeader when the buffer is
// shorter than the header, the declared size disagrees with the buffer, or
// the payload length is wrong for the type, and ErrUnknownMessageType for an
// unrecognized type tag. Both are non-fatal; callers drop the datagram.
func Decode(buf []byte) (Message, error) {
	var m Message
	if len(buf) < HeaderSize {
		return m, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(buf))
	}
	if int(binary.LittleEndian.Uint16(buf[0:2])) != len(buf) {
		return m, fmt.Errorf("%w: declared size %d, got %d bytes",
			ErrMalformedHeader, binary.LittleEndian.Uint16(buf[0:2]), len(buf))
	}

	field := binary.LittleEndian.Uint16(buf[2:4])
	if field&0xfff != protocolNumber {
		return m, fmt.Errorf("%w: protocol %d", ErrMalformedHeader, field&0xfff)
	}
	m.Tagged = field&(1<<13) != 0
	m.Source = binary.LittleEndian.Uint32(buf[4:8])
	copy(m.Target[:], buf[8:14])
	m.ResRequired = buf[22]&(1<<0) != 0
	m.AckRequired = buf[22]&(1<<1) != 0
	m.Sequence = buf[23]
	m.Type = MessageType(binary.LittleEndian.Uint16(buf[32:34]))

	factory, ok := payloadFactories[m.Type]
	if !ok {
		return m, fmt.Errorf("%w: %d", ErrUnknownMessageType, m.Type)
	}
	rest := buf[HeaderSize:]
	if factory == nil {
		if len(rest) != 0 {
			return m, fmt.Errorf("%w: unexpected %d-byte payload for type %d",
				ErrMalformedHeader, len(rest), m.Type)
		}
		return m, nil
	}
	p := factory()
	if len(rest) != p.size() {
		return m, fmt.Errorf("%w: payload %d bytes, want %d for type %d",
			ErrMalformedHeader, len(rest), p.size(), m.Type)
	}
	p.unmarshal(rest)
	m.Payload = p
	return m, nil
}
