package protocol

import (
	"encoding/binary"
	"strings"
)

// Payload is the type-specific body following the header. Sizes are fixed per
// type; Decode verifies the length before unmarshal runs, so unmarshal never
// sees a short buffer.
type Payload interface {
	size() int
	marshal(b []byte)
	unmarshal(b []byte)
}

// Label is the 32-byte NUL-padded string fields the protocol uses for device,
// group and location names.
type Label [32]byte

func NewLabel(s string) Label {
	var l Label
	copy(l[:], s)
	return l
}

func (l Label) String() string {
	return strings.TrimRight(string(l[:]), "\x00")
}

// ServiceUDP is the only service type this controller handles.
const ServiceUDP uint8 = 1

// StateService is a discovery reply: which service the device offers and on
// which port. Unicast traffic goes to the advertised port afterwards.
type StateService struct {
	Service uint8
	Port    uint32
}

func (p *StateService) size() int { return 5 }
func (p *StateService) marshal(b []byte) {
	b[0] = p.Service
	binary.LittleEndian.PutUint32(b[1:5], p.Port)
}
func (p *StateService) unmarshal(b []byte) {
	p.Service = b[0]
	p.Port = binary.LittleEndian.Uint32(b[1:5])
}

type StateHostFirmware struct {
	Build        uint64
	Reserved     uint64
	VersionMinor uint16
	VersionMajor uint16
}

func (p *StateHostFirmware) size() int { return 20 }
func (p *StateHostFirmware) marshal(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], p.Build)
	binary.LittleEndian.PutUint64(b[8:16], p.Reserved)
	binary.LittleEndian.PutUint16(b[16:18], p.VersionMinor)
	binary.LittleEndian.PutUint16(b[18:20], p.VersionMajor)
}
func (p *StateHostFirmware) unmarshal(b []byte) {
	p.Build = binary.LittleEndian.Uint64(b[0:8])
	p.Reserved = binary.LittleEndian.Uint64(b[8:16])
	p.VersionMinor = binary.LittleEndian.Uint16(b[16:18])
	p.VersionMajor = binary.LittleEndian.Uint16(b[18:20])
}

// SetPower is the device-level power payload. Level is 0 or 65535.
type SetPower struct {
	Level uint16
}

func (p *SetPower) size() int          { return 2 }
func (p *SetPower) marshal(b []byte)   { binary.LittleEndian.PutUint16(b, p.Level) }
func (p *SetPower) unmarshal(b []byte) { p.Level = binary.LittleEndian.Uint16(b) }

type StatePower struct {
	Level uint16
}

func (p *StatePower) size() int          { return 2 }
func (p *StatePower) marshal(b []byte)   { binary.LittleEndian.PutUint16(b, p.Level) }
func (p *StatePower) unmarshal(b []byte) { p.Level = binary.LittleEndian.Uint16(b) }

type SetLabel struct {
	Label Label
}

func (p *SetLabel) size() int          { return 32 }
func (p *SetLabel) marshal(b []byte)   { copy(b, p.Label[:]) }
func (p *SetLabel) unmarshal(b []byte) { copy(p.Label[:], b) }

type StateLabel struct {
	Label Label
}

func (p *StateLabel) size() int          { return 32 }
func (p *StateLabel) marshal(b []byte)   { copy(b, p.Label[:]) }
func (p *StateLabel) unmarshal(b []byte) { copy(p.Label[:], b) }

// StateVersion identifies the hardware; vendor/product index the capability
// table in internal/products.
type StateVersion struct {
	Vendor  uint32
	Product uint32
	Version uint32
}

func (p *StateVersion) size() int { return 12 }
func (p *StateVersion) marshal(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], p.Vendor)
	binary.LittleEndian.PutUint32(b[4:8], p.Product)
	binary.LittleEndian.PutUint32(b[8:12], p.Version)
}
func (p *StateVersion) unmarshal(b []byte) {
	p.Vendor = binary.LittleEndian.Uint32(b[0:4])
	p.Product = binary.LittleEndian.Uint32(b[4:8])
	p.Version = binary.LittleEndian.Uint32(b[8:12])
}

type StateLocation struct {
	Location  [16]byte
	Label     Label
	UpdatedAt uint64
}

func (p *StateLocation) size() int { return 56 }
func (p *StateLocation) marshal(b []byte) {
	copy(b[0:16], p.Location[:])
	copy(b[16:48], p.Label[:])
	binary.LittleEndian.PutUint64(b[48:56], p.UpdatedAt)
}
func (p *StateLocation) unmarshal(b []byte) {
	copy(p.Location[:], b[0:16])
	copy(p.Label[:], b[16:48])
	p.UpdatedAt = binary.LittleEndian.Uint64(b[48:56])
}

type StateGroup struct {
	Group     [16]byte
	Label     Label
	UpdatedAt uint64
}

func (p *StateGroup) size() int { return 56 }
func (p *StateGroup) marshal(b []byte) {
	copy(b[0:16], p.Group[:])
	copy(b[16:48], p.Label[:])
	binary.LittleEndian.PutUint64(b[48:56], p.UpdatedAt)
}
func (p *StateGroup) unmarshal(b []byte) {
	copy(p.Group[:], b[0:16])
	copy(p.Label[:], b[16:48])
	p.UpdatedAt = binary.LittleEndian.Uint64(b[48:56])
}

// LightSetColor transitions the light to Color over Duration milliseconds.
type LightSetColor struct {
	Reserved uint8
	Color    HSBK
	Duration uint32
}

func (p *LightSetColor) size() int { return 13 }
func (p *LightSetColor) marshal(b []byte) {
	b[0] = p.Reserved
	p.Color.marshal(b[1:9])
	binary.LittleEndian.PutUint32(b[9:13], p.Duration)
}
func (p *LightSetColor) unmarshal(b []byte) {
	p.Reserved = b[0]
	p.Color.unmarshal(b[1:9])
	p.Duration = binary.LittleEndian.Uint32(b[9:13])
}

// LightState is the combined color/power/label reply to LightGet.
type LightState struct {
	Color     HSBK
	Reserved  uint16
	Power     uint16
	Label     Label
	Reserved2 uint64
}

func (p *LightState) size() int { return 52 }
func (p *LightState) marshal(b []byte) {
	p.Color.marshal(b[0:8])
	binary.LittleEndian.PutUint16(b[8:10], p.Reserved)
	binary.LittleEndian.PutUint16(b[10:12], p.Power)
	copy(b[12:44], p.Label[:])
	binary.LittleEndian.PutUint64(b[44:52], p.Reserved2)
}
func (p *LightState) unmarshal(b []byte) {
	p.Color.unmarshal(b[0:8])
	p.Reserved = binary.LittleEndian.Uint16(b[8:10])
	p.Power = binary.LittleEndian.Uint16(b[10:12])
	copy(p.Label[:], b[12:44])
	p.Reserved2 = binary.LittleEndian.Uint64(b[44:52])
}

// LightSetPower is the light-level power payload with a fade duration in
// milliseconds.
type LightSetPower struct {
	Level    uint16
	Duration uint32
}

func (p *LightSetPower) size() int { return 6 }
func (p *LightSetPower) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], p.Level)
	binary.LittleEndian.PutUint32(b[2:6], p.Duration)
}
func (p *LightSetPower) unmarshal(b []byte) {
	p.Level = binary.LittleEndian.Uint16(b[0:2])
	p.Duration = binary.LittleEndian.Uint32(b[2:6])
}

type LightStatePower struct {
	Level uint16
}

func (p *LightStatePower) size() int          { return 2 }
func (p *LightStatePower) marshal(b []byte)   { binary.LittleEndian.PutUint16(b, p.Level) }
func (p *LightStatePower) unmarshal(b []byte) { p.Level = binary.LittleEndian.Uint16(b) }
