package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumisync/internal/protocol"
)

var (
	serialA = protocol.Serial{0x01}
	serialB = protocol.Serial{0x02}
	serialC = protocol.Serial{0x03}
)

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: port}
}

func TestUpsertCreatesAndMerges(t *testing.T) {
	r := New()

	r.Upsert(serialA, addr(56700), nil)
	d, err := r.Get(serialA)
	require.NoError(t, err)
	assert.Equal(t, serialA, d.Serial)
	assert.Equal(t, 56700, d.Addr.Port)
	assert.False(t, d.LastSeen.IsZero())

	r.Upsert(serialA, nil, func(d *Device) {
		d.Label = "Desk"
		d.KnownLabel = true
	})
	d, err = r.Get(serialA)
	require.NoError(t, err)
	assert.Equal(t, "Desk", d.Label)
	assert.Equal(t, 56700, d.Addr.Port, "nil addr must not clear the stored address")
}

func TestUpsertIdempotent(t *testing.T) {
	r := New()
	merge := func(d *Device) {
		d.Label = "Desk"
		d.Power = true
	}

	r.Upsert(serialA, addr(1), merge)
	first, _ := r.Get(serialA)

	r.Upsert(serialA, addr(1), merge)
	second, _ := r.Get(serialA)

	// Only the timestamp may differ.
	first.LastSeen = second.LastSeen
	assert.Equal(t, first, second)
}

func TestGetNotFound(t *testing.T) {
	r := New()
	_, err := r.Get(serialA)
	assert.ErrorIs(t, err, ErrNotFound)

	err = r.Update(serialA, func(*Device) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotOrderedBySerial(t *testing.T) {
	r := New()
	r.Upsert(serialC, addr(3), nil)
	r.Upsert(serialA, addr(1), nil)
	r.Upsert(serialB, addr(2), nil)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, serialA, snap[0].Serial)
	assert.Equal(t, serialB, snap[1].Serial)
	assert.Equal(t, serialC, snap[2].Serial)
}

func TestDevicesInGroup(t *testing.T) {
	r := New()
	office := [16]byte{0xaa}
	bedroom := [16]byte{0xbb}

	setGroup := func(id [16]byte, label string) func(*Device) {
		return func(d *Device) {
			d.Group = Ident{ID: id, Label: label}
			d.KnownGroup = true
		}
	}
	r.Upsert(serialB, addr(2), setGroup(office, "Office"))
	r.Upsert(serialA, addr(1), setGroup(office, "Office"))
	r.Upsert(serialC, addr(3), setGroup(bedroom, "Bedroom"))

	members := r.DevicesInGroup(office)
	assert.Equal(t, []protocol.Serial{serialA, serialB}, members)

	id, ok := r.GroupByLabel("Bedroom")
	require.True(t, ok)
	assert.Equal(t, bedroom, id)

	_, ok = r.GroupByLabel("Garage")
	assert.False(t, ok)
}

func TestSweepTwoPhase(t *testing.T) {
	r := New()
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.Upsert(serialA, addr(1), nil)

	// Young device: untouched.
	flagged, evicted := r.Sweep(base.Add(time.Minute), 75*time.Second, 5*time.Minute)
	assert.Zero(t, flagged)
	assert.Zero(t, evicted)

	// Past the short threshold: flagged but still visible.
	flagged, evicted = r.Sweep(base.Add(2*time.Minute), 75*time.Second, 5*time.Minute)
	assert.Equal(t, 1, flagged)
	assert.Zero(t, evicted)
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Stale)

	// A reply clears the flag.
	r.now = func() time.Time { return base.Add(3 * time.Minute) }
	r.Upsert(serialA, nil, nil)
	d, _ := r.Get(serialA)
	assert.False(t, d.Stale)

	// Past the long threshold: gone.
	flagged, evicted = r.Sweep(base.Add(10*time.Minute), 75*time.Second, 5*time.Minute)
	assert.Zero(t, flagged)
	assert.Equal(t, 1, evicted)
	assert.Empty(t, r.Snapshot())
}

func TestAddInFlight(t *testing.T) {
	r := New()
	r.Upsert(serialA, addr(1), nil)

	r.AddInFlight(serialA, 1)
	r.AddInFlight(serialA, 1)
	d, _ := r.Get(serialA)
	assert.Equal(t, 2, d.InFlight)

	r.AddInFlight(serialA, -3)
	d, _ = r.Get(serialA)
	assert.Zero(t, d.InFlight)

	// Unknown serials are a no-op.
	r.AddInFlight(serialB, 1)
}
