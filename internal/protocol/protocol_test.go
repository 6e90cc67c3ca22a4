package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	serial := Serial{0xd0, 0x73, 0xd5, 0x01, 0x02, 0x03}

	messages := map[string]Message{
		"GetService tagged broadcast": {
			Source: 0xcafe, Tagged: true, Sequence: 1, Type: TypeGetService,
		},
		"StateService": {
			Source: 0xcafe, Target: serial, Sequence: 2, Type: TypeStateService,
			Payload: &StateService{Service: ServiceUDP, Port: 56700},
		},
		"StateHostFirmware": {
			Source: 1, Target: serial, Type: TypeStateHostFirmware,
			Payload: &StateHostFirmware{Build: 1509633616000000000, VersionMinor: 70, VersionMajor: 2},
		},
		"SetPower": {
			Source: 1, Target: serial, AckRequired: true, Sequence: 3, Type: TypeSetPower,
			Payload: &SetPower{Level: 65535},
		},
		"StatePower": {
			Source: 1, Target: serial, Type: TypeStatePower,
			Payload: &StatePower{Level: 65535},
		},
		"SetLabel": {
			Source: 1, Target: serial, Type: TypeSetLabel,
			Payload: &SetLabel{Label: NewLabel("Desk Lamp")},
		},
		"StateLabel": {
			Source: 1, Target: serial, Type: TypeStateLabel,
			Payload: &StateLabel{Label: NewLabel("Desk Lamp")},
		},
		"StateVersion": {
			Source: 1, Target: serial, Type: TypeStateVersion,
			Payload: &StateVersion{Vendor: 1, Product: 27, Version: 4},
		},
		"StateLocation": {
			Source: 1, Target: serial, Type: TypeStateLocation,
			Payload: &StateLocation{Location: [16]byte{9}, Label: NewLabel("Home"), UpdatedAt: 7},
		},
		"StateGroup": {
			Source: 1, Target: serial, Type: TypeStateGroup,
			Payload: &StateGroup{Group: [16]byte{1, 2}, Label: NewLabel("Office"), UpdatedAt: 42},
		},
		"LightSetColor": {
			Source: 1, Target: serial, AckRequired: true, Sequence: 9, Type: TypeLightSetColor,
			Payload: &LightSetColor{
				Color:    HSBK{Hue: 21845, Saturation: 65535, Brightness: 32768, Kelvin: 3500},
				Duration: 250,
			},
		},
		"LightState": {
			Source: 1, Target: serial, Type: TypeLightState,
			Payload: &LightState{
				Color: HSBK{Hue: 100, Saturation: 200, Brightness: 300, Kelvin: 4000},
				Power: 65535,
				Label: NewLabel("Strip"),
			},
		},
		"LightSetPower": {
			Source: 1, Target: serial, AckRequired: true, Sequence: 10, Type: TypeLightSetPower,
			Payload: &LightSetPower{Level: 65535, Duration: 500},
		},
		"LightStatePower": {
			Source: 1, Target: serial, Type: TypeLightStatePower,
			Payload: &LightStatePower{Level: 0},
		},
		"Acknowledgement": {
			Source: 1, Target: serial, Sequence: 11, Type: TypeAcknowledgement,
		},
	}

	for name, msg := range messages {
		t.Run(name, func(t *testing.T) {
			buf := Encode(msg)
			decoded, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	buf := Encode(Message{Source: 1, Type: TypeGetService})
	for n := 0; n < HeaderSize; n++ {
		_, err := Decode(buf[:n])
		assert.ErrorIs(t, err, ErrMalformedHeader, "truncated to %d bytes", n)
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	buf := Encode(Message{Source: 1, Type: TypeGetService})
	buf = append(buf, 0x00) // declared size no longer matches
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestDecodeWrongPayloadLength(t *testing.T) {
	msg := Message{Source: 1, Type: TypeStatePower, Payload: &StatePower{Level: 1}}
	buf := Encode(msg)
	buf = append(buf, 0xff)
	buf[0] = byte(len(buf)) // keep declared size consistent
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestDecodeUnknownType(t *testing.T) {
	buf := Encode(Message{Source: 1, Type: TypeGetService})
	buf[32] = 0xff
	buf[33] = 0x03 // type 1023, not defined
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestSerialString(t *testing.T) {
	s := Serial{0xd0, 0x73, 0xd5, 0x01, 0x02, 0x0a}
	assert.Equal(t, "d0:73:d5:01:02:0a", s.String())

	parsed, err := ParseSerial("d0:73:d5:01:02:0a")
	require.NoError(t, err)
	assert.Equal(t, s, parsed)

	_, err = ParseSerial("not-a-serial")
	assert.Error(t, err)
}

func TestLabelString(t *testing.T) {
	assert.Equal(t, "Desk Lamp", NewLabel("Desk Lamp").String())
	assert.Equal(t, "", Label{}.String())
}
