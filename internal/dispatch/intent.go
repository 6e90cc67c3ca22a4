package dispatch

import (
	"fmt"
	"math"
	"time"

	"lumisync/internal/protocol"
	"lumisync/internal/registry"
)

// Slot classifies intents so commands to the same device for different
// concerns never block or supersede each other.
type Slot uint8

const (
	SlotPower Slot = iota
	SlotColor
)

// Intent is a logical command to one device. The dispatcher turns it into a
// wire message, and applies it to the registry only once acknowledged.
type Intent interface {
	Slot() Slot
	message() (protocol.MessageType, protocol.Payload)
	apply(d *registry.Device)
	fmt.Stringer
}

// Power switches a light on or off, fading over Duration.
type Power struct {
	On       bool
	Duration time.Duration
}

func (p Power) Slot() Slot { return SlotPower }

func (p Power) message() (protocol.MessageType, protocol.Payload) {
	var level uint16
	if p.On {
		level = math.MaxUint16
	}
	return protocol.TypeLightSetPower, &protocol.LightSetPower{
		Level:    level,
		Duration: uint32(p.Duration.Milliseconds()),
	}
}

func (p Power) apply(d *registry.Device) {
	d.Power = p.On
}

func (p Power) String() string {
	if p.On {
		return "power on"
	}
	return "power off"
}

// Color transitions a light to an HSBK value, fading over Duration. Build
// the HSBK through protocol.NewHSBK so range errors surface before dispatch.
type Color struct {
	Color    protocol.HSBK
	Duration time.Duration
}

func (c Color) Slot() Slot { return SlotColor }

func (c Color) message() (protocol.MessageType, protocol.Payload) {
	return protocol.TypeLightSetColor, &protocol.LightSetColor{
		Color:    c.Color,
		Duration: uint32(c.Duration.Milliseconds()),
	}
}

func (c Color) apply(d *registry.Device) {
	d.Color = c.Color
	d.KnownColor = true
}

func (c Color) String() string {
	return "set " + c.Color.String()
}

// validate rejects intents the target device cannot honor, before any
// network activity.
func validate(dev registry.Device, intent Intent) error {
	c, ok := intent.(Color)
	if !ok || !dev.KnownVersion {
		return nil
	}
	if c.Color.Saturation > 0 && !dev.Features.Color {
		return fmt.Errorf("%w: %s does not support color", protocol.ErrValueOutOfRange, dev.Serial)
	}
	if dev.Features.MinKelvin != 0 &&
		(c.Color.Kelvin < dev.Features.MinKelvin || c.Color.Kelvin > dev.Features.MaxKelvin) {
		return fmt.Errorf("%w: kelvin %d outside %d-%d for %s", protocol.ErrValueOutOfRange,
			c.Color.Kelvin, dev.Features.MinKelvin, dev.Features.MaxKelvin, dev.Serial)
	}
	return nil
}
