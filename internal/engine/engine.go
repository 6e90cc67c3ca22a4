// Package engine keeps the registry in sync with the network: it broadcasts
// periodic discovery requests, refreshes known devices with unicast queries,
// routes inbound datagrams (state replies to the registry, acknowledgements
// to the dispatcher), and sweeps devices that stopped replying. It never
// retries anything itself; polling losses are absorbed by the next cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"lumisync/internal/products"
	"lumisync/internal/protocol"
	"lumisync/internal/registry"
	"lumisync/internal/transport"
)

// Conn is the transport surface the engine needs.
type Conn interface {
	Send(b []byte, addr *net.UDPAddr) error
	Receive(buf []byte) (int, *net.UDPAddr, error)
}

// AckHandler receives acknowledgement datagrams; the dispatcher implements it.
type AckHandler interface {
	HandleAck(seq uint8, serial protocol.Serial, from *net.UDPAddr)
}

type Options struct {
	DiscoveryInterval time.Duration
	RefreshInterval   time.Duration
	SweepInterval     time.Duration
	StaleAfter        time.Duration
	EvictAfter        time.Duration

	// RefreshPerSecond paces the unicast refresh fan-out so a large registry
	// does not burst the network.
	RefreshPerSecond float64
}

func (o *Options) fill() {
	if o.DiscoveryInterval == 0 {
		o.DiscoveryInterval = 30 * time.Second
	}
	if o.RefreshInterval == 0 {
		o.RefreshInterval = 5 * time.Second
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = 10 * time.Second
	}
	if o.StaleAfter == 0 {
		o.StaleAfter = 75 * time.Second
	}
	if o.EvictAfter == 0 {
		o.EvictAfter = 5 * time.Minute
	}
	if o.RefreshPerSecond == 0 {
		o.RefreshPerSecond = 20
	}
}

type Engine struct {
	conn    Conn
	reg     *registry.Registry
	acks    AckHandler
	source  uint32
	opts    Options
	limiter *rate.Limiter
	log     zerolog.Logger

	refreshing atomic.Bool
}

func New(conn Conn, reg *registry.Registry, acks AckHandler, source uint32, opts Options, log zerolog.Logger) *Engine {
	opts.fill()
	return &Engine{
		conn:    conn,
		reg:     reg,
		acks:    acks,
		source:  source,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RefreshPerSecond), 5),
		log:     log,
	}
}

// Run drives the receive worker and the periodic ticks until ctx is
// cancelled. An immediate discovery round runs at startup.
func (e *Engine) Run(ctx context.Context) {
	go e.receiveLoop(ctx)

	e.Discover()

	discovery := time.NewTicker(e.opts.DiscoveryInterval)
	refresh := time.NewTicker(e.opts.RefreshInterval)
	sweep := time.NewTicker(e.opts.SweepInterval)
	defer discovery.Stop()
	defer refresh.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-discovery.C:
			e.Discover()
		case <-refresh.C:
			e.startRefresh(ctx)
		case <-sweep.C:
			flagged, evicted := e.reg.Sweep(time.Now(), e.opts.StaleAfter, e.opts.EvictAfter)
			if flagged > 0 || evicted > 0 {
				e.log.Info().Int("flagged", flagged).Int("evicted", evicted).Msg("staleness sweep")
			}
		}
	}
}

// Discover broadcasts one tagged GetService request on every local subnet.
// A failed send is logged and absorbed; the next cycle covers it.
func (e *Engine) Discover() {
	data := protocol.Encode(protocol.Message{
		Source: e.source,
		Tagged: true,
		Type:   protocol.TypeGetService,
	})
	for _, addr := range transport.BroadcastAddrs(protocol.Port) {
		if err := e.conn.Send(data, addr); err != nil {
			e.log.Warn().Err(err).Stringer("addr", addr).Msg("discovery broadcast failed")
			continue
		}
		e.log.Debug().Stringer("addr", addr).Msg("discovery broadcast")
	}
}

// startRefresh runs the fan-out on its own worker so the pacing limiter
// never holds up the discovery and sweep ticks. A tick arriving while the
// previous fan-out is still draining is skipped; the next one covers it.
func (e *Engine) startRefresh(ctx context.Context) {
	if !e.refreshing.CompareAndSwap(false, true) {
		e.log.Debug().Msg("refresh still draining, tick skipped")
		return
	}
	go func() {
		defer e.refreshing.Store(false)
		e.refresh(ctx)
	}()
}

// refresh unicasts lightweight state queries to every known device: always a
// LightGet for power and color, plus one-off queries for metadata not yet
// reported. Replies land in the registry via the receive worker; devices
// that keep silent age into the staleness sweep.
func (e *Engine) refresh(ctx context.Context) {
	for _, dev := range e.reg.Snapshot() {
		if dev.Addr == nil {
			continue
		}
		queries := []protocol.MessageType{protocol.TypeLightGet}
		if !dev.KnownVersion {
			queries = append(queries, protocol.TypeGetVersion)
		}
		if !dev.KnownLabel {
			queries = append(queries, protocol.TypeGetLabel)
		}
		if !dev.KnownGroup {
			queries = append(queries, protocol.TypeGetGroup)
		}
		if !dev.KnownLocation {
			queries = append(queries, protocol.TypeGetLocation)
		}
		if !dev.KnownFirmware {
			queries = append(queries, protocol.TypeGetHostFirmware)
		}

		for _, q := range queries {
			if err := e.limiter.Wait(ctx); err != nil {
				return
			}
			data := protocol.Encode(protocol.Message{
				Source:      e.source,
				Target:      dev.Serial,
				ResRequired: true,
				Type:        q,
			})
			if err := e.conn.Send(data, dev.Addr); err != nil {
				e.log.Warn().Err(err).Stringer("serial", dev.Serial).Msg("refresh query failed")
			}
		}
	}
}

func (e *Engine) receiveLoop(ctx context.Context) {
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, addr, err := e.conn.Receive(buf)
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.log.Warn().Err(err).Msg("receive failed")
			continue
		}
		e.handleDatagram(buf[:n], addr)
	}
}

// handleDatagram decodes and routes one inbound datagram. Malformed or
// unknown packets are dropped, counted only in the debug log.
func (e *Engine) handleDatagram(data []byte, from *net.UDPAddr) {
	msg, err := protocol.Decode(data)
	if err != nil {
		e.log.Debug().Err(err).Stringer("from", from).Msg("dropped datagram")
		return
	}
	if msg.Target == protocol.ZeroSerial {
		// Broadcast chatter from other controllers.
		return
	}

	if msg.Type == protocol.TypeAcknowledgement {
		e.acks.HandleAck(msg.Sequence, msg.Target, from)
		return
	}

	serial := msg.Target
	switch p := msg.Payload.(type) {
	case *protocol.StateService:
		if p.Service != protocol.ServiceUDP {
			return
		}
		addr := &net.UDPAddr{IP: from.IP, Port: int(p.Port)}
		e.reg.Upsert(serial, addr, nil)
		e.log.Debug().Stringer("serial", serial).Stringer("addr", addr).Msg("device discovered")

	case *protocol.StateLabel:
		e.reg.Upsert(serial, from, func(d *registry.Device) {
			d.Label = p.Label.String()
			d.KnownLabel = true
		})

	case *protocol.StateVersion:
		features, known := products.Lookup(p.Vendor, p.Product)
		e.reg.Upsert(serial, from, func(d *registry.Device) {
			d.Vendor = p.Vendor
			d.Product = p.Product
			if known {
				d.Features = features
			}
			d.KnownVersion = true
		})

	case *protocol.StatePower:
		e.reg.Upsert(serial, from, func(d *registry.Device) {
			d.Power = p.Level > 0
		})

	case *protocol.LightStatePower:
		e.reg.Upsert(serial, from, func(d *registry.Device) {
			d.Power = p.Level > 0
		})

	case *protocol.LightState:
		e.reg.Upsert(serial, from, func(d *registry.Device) {
			d.Color = p.Color
			d.KnownColor = true
			d.Power = p.Power > 0
			d.Label = p.Label.String()
			d.KnownLabel = true
		})

	case *protocol.StateGroup:
		e.reg.Upsert(serial, from, func(d *registry.Device) {
			d.Group = registry.Ident{ID: p.Group, Label: p.Label.String(), UpdatedAt: p.UpdatedAt}
			d.KnownGroup = true
		})

	case *protocol.StateLocation:
		e.reg.Upsert(serial, from, func(d *registry.Device) {
			d.Location = registry.Ident{ID: p.Location, Label: p.Label.String(), UpdatedAt: p.UpdatedAt}
			d.KnownLocation = true
		})

	case *protocol.StateHostFirmware:
		e.reg.Upsert(serial, from, func(d *registry.Device) {
			d.Firmware = fmt.Sprintf("%d.%d", p.VersionMajor, p.VersionMinor)
			d.KnownFirmware = true
		})

	default:
		e.log.Debug().Uint16("type", uint16(msg.Type)).Msg("ignored message")
	}
}
