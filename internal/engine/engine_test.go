package engine

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumisync/internal/protocol"
	"lumisync/internal/registry"
	"lumisync/internal/transport"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (f *fakeConn) Send(b []byte, _ *net.UDPAddr) error {
	msg, err := protocol.Decode(b)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Receive([]byte) (int, *net.UDPAddr, error) {
	return 0, nil, transport.ErrWouldBlock
}

func (f *fakeConn) messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

type fakeAcks struct {
	mu   sync.Mutex
	acks []uint8
}

func (f *fakeAcks) HandleAck(seq uint8, _ protocol.Serial, _ *net.UDPAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, seq)
}

var (
	serialA = protocol.Serial{0x0a}
	serialB = protocol.Serial{0x0b}
)

func newFixture() (*Engine, *fakeConn, *fakeAcks, *registry.Registry) {
	conn := &fakeConn{}
	acks := &fakeAcks{}
	reg := registry.New()
	e := New(conn, reg, acks, 0xbeef, Options{}, zerolog.Nop())
	return e, conn, acks, reg
}

func deviceAddr(last byte) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, last), Port: protocol.Port}
}

func encode(m protocol.Message) []byte {
	return protocol.Encode(m)
}

func TestDiscoverBroadcastsGetService(t *testing.T) {
	e, conn, _, _ := newFixture()

	e.Discover()

	msgs := conn.messages()
	require.NotEmpty(t, msgs)
	for _, m := range msgs {
		assert.Equal(t, protocol.TypeGetService, m.Type)
		assert.True(t, m.Tagged)
		assert.Equal(t, uint32(0xbeef), m.Source)
	}
}

func TestDiscoveryRepliesPopulateRegistryOrdered(t *testing.T) {
	e, _, _, reg := newFixture()

	for _, s := range []protocol.Serial{serialB, serialA} {
		e.handleDatagram(encode(protocol.Message{
			Source:  0xbeef,
			Target:  s,
			Type:    protocol.TypeStateService,
			Payload: &protocol.StateService{Service: protocol.ServiceUDP, Port: protocol.Port},
		}), deviceAddr(s[0]))
	}

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, serialA, snap[0].Serial)
	assert.Equal(t, serialB, snap[1].Serial)
	assert.Equal(t, protocol.Port, snap[0].Addr.Port)
}

func TestStateRepliesMergeIntoRegistry(t *testing.T) {
	e, _, _, reg := newFixture()
	from := deviceAddr(10)

	color := protocol.HSBK{Hue: 100, Saturation: 65535, Brightness: 30000, Kelvin: 3500}
	e.handleDatagram(encode(protocol.Message{
		Source: 0xbeef, Target: serialA, Type: protocol.TypeLightState,
		Payload: &protocol.LightState{Color: color, Power: 65535, Label: protocol.NewLabel("Desk")},
	}), from)
	e.handleDatagram(encode(protocol.Message{
		Source: 0xbeef, Target: serialA, Type: protocol.TypeStateVersion,
		Payload: &protocol.StateVersion{Vendor: 1, Product: 27, Version: 2},
	}), from)
	e.handleDatagram(encode(protocol.Message{
		Source: 0xbeef, Target: serialA, Type: protocol.TypeStateGroup,
		Payload: &protocol.StateGroup{Group: [16]byte{7}, Label: protocol.NewLabel("Office"), UpdatedAt: 1},
	}), from)
	e.handleDatagram(encode(protocol.Message{
		Source: 0xbeef, Target: serialA, Type: protocol.TypeStateHostFirmware,
		Payload: &protocol.StateHostFirmware{VersionMajor: 2, VersionMinor: 80},
	}), from)

	d, err := reg.Get(serialA)
	require.NoError(t, err)
	assert.Equal(t, color, d.Color)
	assert.True(t, d.Power)
	assert.Equal(t, "Desk", d.Label)
	assert.True(t, d.Features.Color)
	assert.Equal(t, "Office", d.Group.Label)
	assert.Equal(t, "2.80", d.Firmware)
	assert.True(t, d.KnownVersion)
	assert.True(t, d.KnownGroup)
	assert.True(t, d.KnownFirmware)
}

func TestAcknowledgementsRouteToDispatcher(t *testing.T) {
	e, _, acks, reg := newFixture()

	e.handleDatagram(encode(protocol.Message{
		Source: 0xbeef, Target: serialA, Sequence: 42, Type: protocol.TypeAcknowledgement,
	}), deviceAddr(10))

	require.Len(t, acks.acks, 1)
	assert.Equal(t, uint8(42), acks.acks[0])
	assert.Zero(t, reg.Len(), "acks must not create registry entries")
}

func TestMalformedDatagramsDropped(t *testing.T) {
	e, _, acks, reg := newFixture()

	e.handleDatagram([]byte{0x01, 0x02}, deviceAddr(10))
	e.handleDatagram(make([]byte, protocol.HeaderSize), deviceAddr(10)) // size field zero

	assert.Zero(t, reg.Len())
	assert.Empty(t, acks.acks)
}

func TestZeroTargetIgnored(t *testing.T) {
	e, _, _, reg := newFixture()

	e.handleDatagram(encode(protocol.Message{
		Source: 0xbeef, Type: protocol.TypeStatePower,
		Payload: &protocol.StatePower{Level: 1},
	}), deviceAddr(10))

	assert.Zero(t, reg.Len())
}

func TestRefreshQueriesKnownDevices(t *testing.T) {
	e, conn, _, reg := newFixture()
	reg.Upsert(serialA, deviceAddr(10), nil)

	e.refresh(context.Background())

	msgs := conn.messages()
	types := make(map[protocol.MessageType]int)
	for _, m := range msgs {
		assert.Equal(t, serialA, m.Target)
		assert.True(t, m.ResRequired)
		types[m.Type]++
	}
	// Nothing is known yet, so everything is queried.
	for _, want := range []protocol.MessageType{
		protocol.TypeLightGet, protocol.TypeGetVersion, protocol.TypeGetLabel,
		protocol.TypeGetGroup, protocol.TypeGetLocation, protocol.TypeGetHostFirmware,
	} {
		assert.Equal(t, 1, types[want], "missing query %d", want)
	}

	// Once metadata is known only the state poll remains.
	reg.Upsert(serialA, nil, func(d *registry.Device) {
		d.KnownVersion, d.KnownLabel, d.KnownGroup, d.KnownLocation, d.KnownFirmware = true, true, true, true, true
	})
	conn.mu.Lock()
	conn.sent = nil
	conn.mu.Unlock()

	e.refresh(context.Background())
	msgs = conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeLightGet, msgs[0].Type)
}

func TestSlowRefreshDoesNotStallDiscovery(t *testing.T) {
	conn := &fakeConn{}
	reg := registry.New()
	e := New(conn, reg, &fakeAcks{}, 0xbeef, Options{
		DiscoveryInterval: 20 * time.Millisecond,
		RefreshInterval:   10 * time.Millisecond,
		// Paced far below the query count, so the fan-out blocks on the
		// limiter for the whole test.
		RefreshPerSecond: 0.001,
	}, zerolog.Nop())
	reg.Upsert(serialA, deviceAddr(10), nil)
	reg.Upsert(serialB, deviceAddr(11), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	countDiscoveries := func() int {
		n := 0
		for _, m := range conn.messages() {
			if m.Type == protocol.TypeGetService && m.Tagged {
				n++
			}
		}
		return n
	}

	// Discovery rounds must keep landing while the refresh worker is stuck.
	perRound := len(transport.BroadcastAddrs(protocol.Port))
	require.NotZero(t, perRound)
	assert.Eventually(t, func() bool {
		return countDiscoveries() >= 3*perRound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	e, _, _, _ := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}
