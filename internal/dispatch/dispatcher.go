// Package dispatch turns logical intents into acknowledged wire commands:
// encode, send, track, retry up to a bound, and resolve each command exactly
// once. Group targets fan out to independent best-effort per-member commands.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lumisync/internal/protocol"
	"lumisync/internal/registry"
)

var (
	// ErrTimeout resolves a command whose retries were exhausted without an
	// acknowledgement. The registry is left untouched.
	ErrTimeout = errors.New("dispatch: command timed out")

	// ErrSuperseded resolves a command displaced by a newer command for the
	// same device and intent slot.
	ErrSuperseded = errors.New("dispatch: command superseded")

	// ErrNoTargets is returned when a target resolves to no devices.
	ErrNoTargets = errors.New("dispatch: no devices for target")
)

// Sender is the transport-facing surface the dispatcher needs.
type Sender interface {
	Send(b []byte, addr *net.UDPAddr) error
}

// Target selects one device, one group, or every known device.
type Target struct {
	serial  protocol.Serial
	group   [16]byte
	isGroup bool
	all     bool
}

func ToDevice(serial protocol.Serial) Target { return Target{serial: serial} }
func ToGroup(group [16]byte) Target          { return Target{group: group, isGroup: true} }
func ToAll() Target                          { return Target{all: true} }

// Result is a command's terminal outcome. Err is nil on acknowledgement,
// ErrTimeout, ErrSuperseded or a validation error otherwise.
type Result struct {
	Serial protocol.Serial
	Err    error
}

// Handle observes one per-device command. It may be polled via Done or
// discarded entirely; fire-and-forget is legal.
type Handle struct {
	serial protocol.Serial
	done   chan Result
}

func newHandle(serial protocol.Serial) *Handle {
	return &Handle{serial: serial, done: make(chan Result, 1)}
}

func (h *Handle) Serial() protocol.Serial { return h.serial }

// Done yields the terminal Result exactly once.
func (h *Handle) Done() <-chan Result { return h.done }

// Wait blocks for the result or context cancellation.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-h.done:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) resolve(err error) {
	h.done <- Result{Serial: h.serial, Err: err}
}

type Options struct {
	Source       uint32
	MaxRetries   int
	RetryTimeout time.Duration
	TickInterval time.Duration
}

func (o *Options) fill() {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryTimeout == 0 {
		o.RetryTimeout = 500 * time.Millisecond
	}
	if o.TickInterval == 0 {
		o.TickInterval = 100 * time.Millisecond
	}
}

type slotKey struct {
	serial protocol.Serial
	slot   Slot
}

type pendingCmd struct {
	serial   protocol.Serial
	addr     *net.UDPAddr
	data     []byte
	intent   Intent
	deadline time.Time
	retries  int
	handle   *Handle
}

type Dispatcher struct {
	sender Sender
	reg    *registry.Registry
	opts   Options
	log    zerolog.Logger

	mu      sync.Mutex
	seq     uint8
	pending map[uint8]*pendingCmd
	slots   map[slotKey]uint8

	now func() time.Time
}

func New(sender Sender, reg *registry.Registry, opts Options, log zerolog.Logger) *Dispatcher {
	opts.fill()
	return &Dispatcher{
		sender:  sender,
		reg:     reg,
		opts:    opts,
		log:     log,
		pending: make(map[uint8]*pendingCmd),
		slots:   make(map[slotKey]uint8),
		now:     time.Now,
	}
}

// Dispatch fans the intent out to every device the target resolves to and
// returns one handle per device. Group semantics are best effort per member,
// never all-or-nothing. A member that fails validation gets a handle already
// resolved with the error; only target resolution itself returns an error.
func (d *Dispatcher) Dispatch(target Target, intent Intent) ([]*Handle, error) {
	devices, err := d.resolve(target)
	if err != nil {
		return nil, err
	}

	handles := make([]*Handle, 0, len(devices))
	for _, dev := range devices {
		handles = append(handles, d.dispatchOne(dev, intent))
	}
	return handles, nil
}

func (d *Dispatcher) resolve(target Target) ([]registry.Device, error) {
	switch {
	case target.all:
		devices := d.reg.Snapshot()
		if len(devices) == 0 {
			return nil, ErrNoTargets
		}
		return devices, nil
	case target.isGroup:
		serials := d.reg.DevicesInGroup(target.group)
		if len(serials) == 0 {
			return nil, ErrNoTargets
		}
		devices := make([]registry.Device, 0, len(serials))
		for _, s := range serials {
			if dev, err := d.reg.Get(s); err == nil {
				devices = append(devices, dev)
			}
		}
		return devices, nil
	default:
		dev, err := d.reg.Get(target.serial)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoTargets, target.serial)
		}
		return []registry.Device{dev}, nil
	}
}

func (d *Dispatcher) dispatchOne(dev registry.Device, intent Intent) *Handle {
	handle := newHandle(dev.Serial)

	if err := validate(dev, intent); err != nil {
		handle.resolve(err)
		return handle
	}
	if dev.Addr == nil {
		handle.resolve(fmt.Errorf("%w: %s has no address", ErrNoTargets, dev.Serial))
		return handle
	}

	msgType, payload := intent.message()
	msg := protocol.Message{
		Source:      d.opts.Source,
		Target:      dev.Serial,
		AckRequired: true,
		Type:        msgType,
		Payload:     payload,
	}

	d.mu.Lock()
	seq := d.nextSeqLocked()
	msg.Sequence = seq
	data := protocol.Encode(msg)

	// A newer command for the same device and slot displaces the old one;
	// at most one command per (device, slot) is ever being retried.
	key := slotKey{dev.Serial, intent.Slot()}
	if oldSeq, ok := d.slots[key]; ok {
		if old, ok := d.pending[oldSeq]; ok {
			delete(d.pending, oldSeq)
			old.handle.resolve(ErrSuperseded)
			d.reg.AddInFlight(old.serial, -1)
		}
	}
	d.pending[seq] = &pendingCmd{
		serial:   dev.Serial,
		addr:     dev.Addr,
		data:     data,
		intent:   intent,
		deadline: d.now().Add(d.opts.RetryTimeout),
		handle:   handle,
	}
	d.slots[key] = seq
	d.mu.Unlock()

	d.reg.AddInFlight(dev.Serial, 1)

	// Send outside the lock. A failed send is not terminal: the retry tick
	// resends until the retry bound resolves the command.
	if err := d.sender.Send(data, dev.Addr); err != nil {
		d.log.Warn().Err(err).Stringer("serial", dev.Serial).Msg("send failed, will retry")
	} else {
		d.log.Debug().Stringer("serial", dev.Serial).Uint8("seq", seq).
			Str("intent", intent.String()).Msg("command sent")
	}
	return handle
}

// nextSeqLocked allocates the next free sequence number, skipping zero and
// any number still tracking an outstanding command.
func (d *Dispatcher) nextSeqLocked() uint8 {
	for i := 0; i < 256; i++ {
		d.seq++
		if d.seq == 0 {
			d.seq++
		}
		if _, busy := d.pending[d.seq]; !busy {
			return d.seq
		}
	}
	// Table full: steal the slot, resolving its command as superseded.
	d.seq++
	if d.seq == 0 {
		d.seq++
	}
	if old, ok := d.pending[d.seq]; ok {
		delete(d.pending, d.seq)
		old.handle.resolve(ErrSuperseded)
		d.reg.AddInFlight(old.serial, -1)
	}
	return d.seq
}

// HandleAck resolves the pending command matching the sequence token, device
// serial and source address. The registry is updated optimistically with the
// intended state. Duplicate acknowledgements find nothing and are no-ops.
func (d *Dispatcher) HandleAck(seq uint8, serial protocol.Serial, from *net.UDPAddr) {
	d.mu.Lock()
	p, ok := d.pending[seq]
	if !ok || p.serial != serial || (from != nil && !p.addr.IP.Equal(from.IP)) {
		d.mu.Unlock()
		return
	}
	delete(d.pending, seq)
	key := slotKey{p.serial, p.intent.Slot()}
	if d.slots[key] == seq {
		delete(d.slots, key)
	}
	d.mu.Unlock()

	if err := d.reg.Update(serial, p.intent.apply); err != nil {
		d.log.Debug().Stringer("serial", serial).Msg("ack for evicted device")
	}
	d.reg.AddInFlight(serial, -1)
	p.handle.resolve(nil)
	d.log.Debug().Stringer("serial", serial).Uint8("seq", seq).Msg("command acknowledged")
}

// Run drives the retry scan until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(d.now())
		}
	}
}

// tick resends every pending command past its deadline, and resolves as
// failed those that have exhausted their retries.
func (d *Dispatcher) tick(now time.Time) {
	type resend struct {
		data []byte
		addr *net.UDPAddr
	}
	var resends []resend

	d.mu.Lock()
	for seq, p := range d.pending {
		if now.Before(p.deadline) {
			continue
		}
		if p.retries >= d.opts.MaxRetries {
			delete(d.pending, seq)
			key := slotKey{p.serial, p.intent.Slot()}
			if d.slots[key] == seq {
				delete(d.slots, key)
			}
			d.reg.AddInFlight(p.serial, -1)
			p.handle.resolve(ErrTimeout)
			d.log.Warn().Stringer("serial", p.serial).Uint8("seq", seq).
				Int("retries", p.retries).Msg("command timed out")
			continue
		}
		p.retries++
		p.deadline = now.Add(d.opts.RetryTimeout)
		resends = append(resends, resend{data: p.data, addr: p.addr})
	}
	d.mu.Unlock()

	for _, r := range resends {
		if err := d.sender.Send(r.data, r.addr); err != nil {
			d.log.Warn().Err(err).Msg("retry send failed")
		}
	}
}

// Outstanding reports how many commands are awaiting resolution.
func (d *Dispatcher) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Drain waits up to timeout for in-flight commands to resolve or time out
// naturally. Used during shutdown; past the grace period the caller exits
// regardless.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.Outstanding() == 0 {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return d.Outstanding() == 0
}
