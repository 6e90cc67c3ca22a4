package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHSBK(t *testing.T) {
	c, err := NewHSBK(120, 1, 0.5, 3500)
	require.NoError(t, err)
	assert.InDelta(t, 21845, int(c.Hue), 2)
	assert.Equal(t, uint16(65535), c.Saturation)
	assert.InDelta(t, 32767, int(c.Brightness), 2)
	assert.Equal(t, uint16(3500), c.Kelvin)
}

func TestNewHSBKRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name          string
		hue, sat, bri float64
		kelvin        uint16
	}{
		{"hue negative", -1, 0, 1, 3500},
		{"hue too large", 360, 0, 1, 3500},
		{"saturation", 0, 1.1, 1, 3500},
		{"brightness", 0, 0, -0.1, 3500},
		{"kelvin low", 0, 0, 1, 1000},
		{"kelvin high", 0, 0, 1, 9500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewHSBK(tc.hue, tc.sat, tc.bri, tc.kelvin)
			assert.ErrorIs(t, err, ErrValueOutOfRange)
		})
	}
}

func TestHSBKFromRGB(t *testing.T) {
	red := HSBKFromRGB(255, 0, 0)
	assert.InDelta(t, 0, int(red.Hue), 200)
	assert.Equal(t, uint16(65535), red.Saturation)
	assert.Equal(t, uint16(65535), red.Brightness)
	assert.Equal(t, DefaultKelvin, red.Kelvin)

	r, g, b := red.RGB()
	assert.Equal(t, uint8(255), r)
	assert.Equal(t, uint8(0), g)
	assert.Equal(t, uint8(0), b)

	grey := HSBKFromRGB(128, 128, 128)
	assert.Equal(t, uint16(0), grey.Saturation)
}
