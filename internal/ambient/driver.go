// Package ambient binds a color source pipeline to a device or group: each
// pipeline emission lands in a single latest-value slot, and an independent
// minimum-interval forwarder turns the freshest sample into a set-color
// command. Samples arriving faster than the throttle are coalesced; the last
// write wins. This keeps the dispatcher and the network at a bounded rate no
// matter how fast the pipeline samples.
package ambient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lumisync/internal/dispatch"
	"lumisync/internal/pipeline"
	"lumisync/internal/protocol"
)

var ErrAlreadyBound = errors.New("ambient: driver already bound")

// Commander is the dispatcher surface the driver needs.
type Commander interface {
	Dispatch(target dispatch.Target, intent dispatch.Intent) ([]*dispatch.Handle, error)
}

type Driver struct {
	disp        Commander
	minInterval time.Duration
	fade        time.Duration
	log         zerolog.Logger

	mu     sync.Mutex
	bound  bool
	gen    uint64
	target dispatch.Target
	latest protocol.HSBK
	dirty  bool
	cancel context.CancelFunc
}

// NewDriver builds a driver forwarding at most one update per minInterval.
// fade is the transition duration attached to each forwarded color; keeping
// it near the update interval makes the light glide rather than step.
func NewDriver(disp Commander, minInterval, fade time.Duration, log zerolog.Logger) *Driver {
	if minInterval == 0 {
		minInterval = 100 * time.Millisecond
	}
	return &Driver{
		disp:        disp,
		minInterval: minInterval,
		fade:        fade,
		log:         log,
	}
}

// Bind subscribes to the source, runs it, and forwards its samples to target
// until Unbind or ctx cancellation. One binding at a time; Unbind first to
// re-target. The source keeps its sample callback forever, so each binding
// gets a generation token and the slot only accepts samples carrying the
// current one; a source outliving its own binding emits into the void.
func (d *Driver) Bind(ctx context.Context, src pipeline.Source, target dispatch.Target) error {
	d.mu.Lock()
	if d.bound {
		d.mu.Unlock()
		return ErrAlreadyBound
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.bound = true
	d.gen++
	gen := d.gen
	d.target = target
	d.dirty = false
	d.cancel = cancel
	d.mu.Unlock()

	src.OnSample(func(c protocol.HSBK) { d.submit(gen, c) })
	go d.forward(runCtx)
	go func() {
		err := src.Run(runCtx)
		if err != nil && runCtx.Err() == nil {
			d.log.Error().Err(err).Str("source", src.Name()).Msg("pipeline stopped")
		}
		d.unbindGen(gen)
	}()

	d.log.Info().Str("source", src.Name()).Msg("ambient driver bound")
	return nil
}

// Unbind stops the source and the forwarder. Commands already handed to the
// dispatcher keep resolving or timing out on their own.
func (d *Driver) Unbind() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unbindLocked()
}

// unbindGen unbinds only if gen is still the live binding, so a source
// winding down after a rebind cannot tear down its successor.
func (d *Driver) unbindGen(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return
	}
	d.unbindLocked()
}

func (d *Driver) unbindLocked() {
	if !d.bound {
		return
	}
	d.bound = false
	d.dirty = false
	d.cancel()
	d.cancel = nil
	d.log.Info().Msg("ambient driver unbound")
}

func (d *Driver) IsBound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bound
}

// submit records the newest sample. It never blocks and never touches the
// network; the forwarder picks the value up on its own clock. Samples from
// a superseded binding are dropped.
func (d *Driver) submit(gen uint64, c protocol.HSBK) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.bound || gen != d.gen {
		return
	}
	d.latest = c
	d.dirty = true
}

func (d *Driver) forward(ctx context.Context) {
	ticker := time.NewTicker(d.minInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.flush()
		}
	}
}

// flush forwards the latest sample if one arrived since the previous flush.
func (d *Driver) flush() {
	d.mu.Lock()
	if !d.bound || !d.dirty {
		d.mu.Unlock()
		return
	}
	color := d.latest
	target := d.target
	d.dirty = false
	d.mu.Unlock()

	// Fire and forget: per-command outcomes do not matter for a continuous
	// stream, the next sample supersedes this one anyway.
	if _, err := d.disp.Dispatch(target, dispatch.Color{Color: color, Duration: d.fade}); err != nil {
		d.log.Debug().Err(err).Msg("ambient update dropped")
	}
}
