package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	// MinKelvin and MaxKelvin bound the protocol's color-temperature scale.
	MinKelvin uint16 = 1500
	MaxKelvin uint16 = 9000

	// DefaultKelvin is the neutral temperature used when a sample carries no
	// temperature of its own (screen and audio samples).
	DefaultKelvin uint16 = 3500
)

// ErrValueOutOfRange rejects caller-supplied values outside the device scale
// before any message is built or sent.
var ErrValueOutOfRange = errors.New("protocol: value out of range")

// HSBK is the protocol's native color model. Hue, saturation and brightness
// use the full uint16 scale; kelvin is an absolute temperature.
type HSBK struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
}

// NewHSBK builds an HSBK from human-scale values: hue in degrees [0, 360),
// saturation and brightness in [0, 1], kelvin in [MinKelvin, MaxKelvin].
func NewHSBK(hue, saturation, brightness float64, kelvin uint16) (HSBK, error) {
	if hue < 0 || hue >= 360 {
		return HSBK{}, fmt.Errorf("%w: hue %v", ErrValueOutOfRange, hue)
	}
	if saturation < 0 || saturation > 1 {
		return HSBK{}, fmt.Errorf("%w: saturation %v", ErrValueOutOfRange, saturation)
	}
	if brightness < 0 || brightness > 1 {
		return HSBK{}, fmt.Errorf("%w: brightness %v", ErrValueOutOfRange, brightness)
	}
	if kelvin < MinKelvin || kelvin > MaxKelvin {
		return HSBK{}, fmt.Errorf("%w: kelvin %d", ErrValueOutOfRange, kelvin)
	}
	return HSBK{
		Hue:        uint16(hue / 360 * math.MaxUint16),
		Saturation: uint16(saturation * math.MaxUint16),
		Brightness: uint16(brightness * math.MaxUint16),
		Kelvin:     kelvin,
	}, nil
}

// HSBKFromRGB converts an 8-bit RGB sample at the default temperature.
func HSBKFromRGB(r, g, b uint8) HSBK {
	h, s, v := colorful.Color{
		R: float64(r) / 255,
		G: float64(g) / 255,
		B: float64(b) / 255,
	}.Hsv()
	return HSBK{
		Hue:        uint16(h / 360 * math.MaxUint16),
		Saturation: uint16(s * math.MaxUint16),
		Brightness: uint16(v * math.MaxUint16),
		Kelvin:     DefaultKelvin,
	}
}

// RGB converts back to 8-bit RGB, ignoring kelvin.
func (c HSBK) RGB() (r, g, b uint8) {
	col := colorful.Hsv(
		float64(c.Hue)/math.MaxUint16*360,
		float64(c.Saturation)/math.MaxUint16,
		float64(c.Brightness)/math.MaxUint16,
	)
	cr, cg, cb := col.RGB255()
	return cr, cg, cb
}

func (c HSBK) String() string {
	return fmt.Sprintf("hsbk(%.0f°, %.2f, %.2f, %dK)",
		float64(c.Hue)/math.MaxUint16*360,
		float64(c.Saturation)/math.MaxUint16,
		float64(c.Brightness)/math.MaxUint16,
		c.Kelvin)
}

func (c *HSBK) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], c.Hue)
	binary.LittleEndian.PutUint16(b[2:4], c.Saturation)
	binary.LittleEndian.PutUint16(b[4:6], c.Brightness)
	binary.LittleEndian.PutUint16(b[6:8], c.Kelvin)
}

func (c *HSBK) unmarshal(b []byte) {
	c.Hue = binary.LittleEndian.Uint16(b[0:2])
	c.Saturation = binary.LittleEndian.Uint16(b[2:4])
	c.Brightness = binary.LittleEndian.Uint16(b[4:6])
	c.Kelvin = binary.LittleEndian.Uint16(b[6:8])
}
