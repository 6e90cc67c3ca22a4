// Package registry is the single source of truth for known devices. The sync
// engine and the command dispatcher are its only writers; everyone else reads
// point-in-time snapshots. Critical sections are map lookups and merges only,
// never network I/O.
package registry

import (
	"bytes"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"lumisync/internal/products"
	"lumisync/internal/protocol"
)

var ErrNotFound = errors.New("registry: device not found")

// Ident is a group or location membership: an opaque 16-byte id plus its
// label, refreshed from the device and never trusted as identity.
type Ident struct {
	ID        [16]byte
	Label     string
	UpdatedAt uint64
}

// Device is the last-known state of one bulb. The serial is immutable and is
// the registry key; everything else may be stale and gets refreshed.
type Device struct {
	Serial   protocol.Serial
	Addr     *net.UDPAddr
	Label    string
	Power    bool
	Color    protocol.HSBK
	Group    Ident
	Location Ident
	Vendor   uint32
	Product  uint32
	Features products.Features

	// Known* record which refreshable fields have been reported at least
	// once, so the sync engine only queries for what is missing.
	KnownLabel    bool
	KnownVersion  bool
	KnownGroup    bool
	KnownLocation bool
	KnownFirmware bool
	KnownColor    bool

	Firmware string
	LastSeen time.Time
	Stale    bool
	InFlight int
}

type Registry struct {
	mu      sync.RWMutex
	devices map[protocol.Serial]*Device

	// now is swappable for tests.
	now func() time.Time
}

func New() *Registry {
	return &Registry{
		devices: make(map[protocol.Serial]*Device),
		now:     time.Now,
	}
}

// Upsert merges state into the record for serial, creating it if absent. The
// device's last-seen timestamp advances and any stale flag clears; addr, when
// non-nil, replaces the stored address. merge may be nil for a pure
// liveness/address refresh.
func (r *Registry) Upsert(serial protocol.Serial, addr *net.UDPAddr, merge func(*Device)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[serial]
	if !ok {
		d = &Device{Serial: serial}
		r.devices[serial] = d
	}
	if addr != nil {
		d.Addr = addr
	}
	d.LastSeen = r.now()
	d.Stale = false
	if merge != nil {
		merge(d)
	}
}

// Update mutates an existing record without touching liveness. The
// dispatcher uses it to apply acknowledged command state optimistically.
func (r *Registry) Update(serial protocol.Serial, mutate func(*Device)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[serial]
	if !ok {
		return ErrNotFound
	}
	mutate(d)
	return nil
}

func (r *Registry) Get(serial protocol.Serial) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[serial]
	if !ok {
		return Device{}, ErrNotFound
	}
	return *d, nil
}

// Snapshot returns a point-in-time copy of every record, ordered by serial.
// The live registry keeps mutating after the snapshot is taken.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Serial[:], out[j].Serial[:]) < 0
	})
	return out
}

// DevicesInGroup returns the serials of devices whose group id matches,
// ordered by serial.
func (r *Registry) DevicesInGroup(group [16]byte) []protocol.Serial {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []protocol.Serial
	for _, d := range r.devices {
		if d.Group.ID == group {
			out = append(out, d.Serial)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// GroupByLabel resolves a group label to its id.
func (r *Registry) GroupByLabel(label string) ([16]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.devices {
		if d.KnownGroup && d.Group.Label == label {
			return d.Group.ID, true
		}
	}
	return [16]byte{}, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// AddInFlight adjusts a device's outstanding-request count. Unknown serials
// are ignored; the command may have raced device eviction.
func (r *Registry) AddInFlight(serial protocol.Serial, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[serial]; ok {
		d.InFlight += delta
		if d.InFlight < 0 {
			d.InFlight = 0
		}
	}
}

// Sweep applies the two-phase staleness policy: devices unseen past
// flagAfter are marked stale but stay visible, devices unseen past
// evictAfter are removed. The two thresholds tolerate transient packet loss
// without flapping the visible device list.
func (r *Registry) Sweep(now time.Time, flagAfter, evictAfter time.Duration) (flagged, evicted int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for serial, d := range r.devices {
		age := now.Sub(d.LastSeen)
		switch {
		case age > evictAfter:
			delete(r.devices, serial)
			evicted++
		case age > flagAfter && !d.Stale:
			d.Stale = true
			flagged++
		}
	}
	return flagged, evicted
}
