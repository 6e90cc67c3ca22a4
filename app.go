package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumisync/internal/ambient"
	"lumisync/internal/dispatch"
	"lumisync/internal/engine"
	"lumisync/internal/pipeline"
	"lumisync/internal/protocol"
	"lumisync/internal/registry"
	"lumisync/internal/scenes"
	"lumisync/internal/store"
	"lumisync/internal/transport"
)

const (
	readInterval  = 200 * time.Millisecond
	shutdownGrace = 3 * time.Second
)

// App wires the device-control core together and exposes the surface a
// presentation layer consumes: registry snapshots, commands, follow
// bindings and scenes. It owns no protocol state of its own.
type App struct {
	ctx        context.Context
	cancel     context.CancelFunc
	log        zerolog.Logger
	configPath string

	store        *store.Store
	reg          *registry.Registry
	tr           *transport.Transport
	disp         *dispatch.Dispatcher
	eng          *engine.Engine
	sceneManager *scenes.Manager
	driver       *ambient.Driver
}

// NewApp builds an unstarted app. configPath overrides the default
// per-OS config location when non-empty.
func NewApp(log zerolog.Logger, configPath string) *App {
	return &App{log: log, configPath: configPath}
}

// Startup binds the network endpoint and starts the background workers.
// Only a bind failure is fatal; everything downstream degrades per tick.
func (a *App) Startup(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	var s *store.Store
	var err error
	if a.configPath != "" {
		s, err = store.NewAt(a.configPath)
	} else {
		s, err = store.New()
	}
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	a.store = s
	settings := s.GetSettings()

	a.tr, err = transport.New(protocol.Port, readInterval, a.log.With().Str("component", "transport").Logger())
	if err != nil {
		return err
	}

	a.reg = registry.New()

	// Non-zero source id so devices reply unicast to this controller.
	id := uuid.New()
	source := binary.LittleEndian.Uint32(id[:4]) | 1

	a.disp = dispatch.New(a.tr, a.reg, dispatch.Options{
		Source:       source,
		MaxRetries:   settings.MaxRetries,
		RetryTimeout: time.Duration(settings.RetryTimeoutMs) * time.Millisecond,
	}, a.log.With().Str("component", "dispatch").Logger())

	a.eng = engine.New(a.tr, a.reg, a.disp, source, engine.Options{
		DiscoveryInterval: time.Duration(settings.DiscoveryIntervalMs) * time.Millisecond,
		RefreshInterval:   time.Duration(settings.RefreshIntervalMs) * time.Millisecond,
	}, a.log.With().Str("component", "engine").Logger())

	a.sceneManager = scenes.NewManager(s, a.disp, a.log.With().Str("component", "scenes").Logger())

	a.driver = ambient.NewDriver(a.disp,
		time.Duration(settings.AmbientMinIntervalMs)*time.Millisecond,
		time.Duration(settings.AmbientMinIntervalMs)*time.Millisecond,
		a.log.With().Str("component", "ambient").Logger())

	go a.disp.Run(a.ctx)
	go a.eng.Run(a.ctx)

	a.log.Info().Uint32("source", source).Msg("controller started")
	return nil
}

// Shutdown stops future sends and gives in-flight commands a bounded grace
// period to resolve or time out before the process exits.
func (a *App) Shutdown() {
	if a.driver != nil {
		a.driver.Unbind()
	}
	if a.disp != nil && !a.disp.Drain(shutdownGrace) {
		a.log.Warn().Int("outstanding", a.disp.Outstanding()).Msg("exiting with unresolved commands")
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.tr != nil {
		_ = a.tr.Close()
	}
	a.log.Info().Msg("controller stopped")
}

// --- Devices ---

// DeviceView is a registry snapshot entry plus the persisted friendly name.
type DeviceView struct {
	registry.Device
	Name string
}

func (a *App) Devices() []DeviceView {
	snap := a.reg.Snapshot()
	out := make([]DeviceView, 0, len(snap))
	for _, d := range snap {
		name := a.store.GetName(d.Serial.String())
		if name == "" {
			name = d.Label
		}
		out = append(out, DeviceView{Device: d, Name: name})
	}
	return out
}

func (a *App) RenameDevice(serial, name string) error {
	return a.store.SetName(serial, name)
}

// Discover triggers an immediate discovery round on top of the periodic one.
func (a *App) Discover() {
	a.eng.Discover()
}

// --- Commands ---

func (a *App) SetPower(target string, on bool, fadeMs int) ([]*dispatch.Handle, error) {
	tgt, err := a.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	return a.disp.Dispatch(tgt, dispatch.Power{On: on, Duration: time.Duration(fadeMs) * time.Millisecond})
}

// SetColor validates the human-scale values before anything touches the
// network; out-of-range input never produces a datagram.
func (a *App) SetColor(target string, hue, saturation, brightness float64, kelvin uint16, fadeMs int) ([]*dispatch.Handle, error) {
	color, err := protocol.NewHSBK(hue, saturation, brightness, kelvin)
	if err != nil {
		return nil, err
	}
	tgt, err := a.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	return a.disp.Dispatch(tgt, dispatch.Color{Color: color, Duration: time.Duration(fadeMs) * time.Millisecond})
}

// resolveTarget parses "all", "group:<label>" or a device serial.
func (a *App) resolveTarget(target string) (dispatch.Target, error) {
	switch {
	case target == "all" || target == "":
		return dispatch.ToAll(), nil
	case strings.HasPrefix(target, "group:"):
		label := strings.TrimPrefix(target, "group:")
		id, ok := a.reg.GroupByLabel(label)
		if !ok {
			return dispatch.Target{}, fmt.Errorf("unknown group %q", label)
		}
		return dispatch.ToGroup(id), nil
	default:
		serial, err := protocol.ParseSerial(target)
		if err != nil {
			return dispatch.Target{}, err
		}
		return dispatch.ToDevice(serial), nil
	}
}

// --- Follow ---

// FollowScreen binds the screen pipeline to target and starts sampling.
func (a *App) FollowScreen(target string) error {
	tgt, err := a.resolveTarget(target)
	if err != nil {
		return err
	}
	settings := a.store.GetSettings()
	region := settings.ScreenRegion

	src := pipeline.NewScreen(pipeline.ScreenOptions{
		Display:  region.Display,
		Region:   image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height),
		Interval: time.Duration(settings.FollowRateMs) * time.Millisecond,
	}, a.log.With().Str("component", "screen").Logger())

	return a.follow(src, tgt)
}

// FollowAudio binds the audio-spectrum pipeline to target.
func (a *App) FollowAudio(target string) error {
	tgt, err := a.resolveTarget(target)
	if err != nil {
		return err
	}
	settings := a.store.GetSettings()

	src := pipeline.NewAudio(pipeline.AudioOptions{
		Interval: time.Duration(settings.FollowRateMs) * time.Millisecond,
	}, a.log.With().Str("component", "audio").Logger())

	return a.follow(src, tgt)
}

// follow hands the source to the driver, which runs it for the lifetime of
// the binding; Unbind stops both the forwarding and the capture worker.
func (a *App) follow(src pipeline.Source, target dispatch.Target) error {
	return a.driver.Bind(a.ctx, src, target)
}

// Unfollow stops the source and forwarding; in-flight commands resolve on
// their own.
func (a *App) Unfollow() {
	a.driver.Unbind()
}

func (a *App) IsFollowing() bool {
	return a.driver.IsBound()
}

// --- Scenes ---

func (a *App) Scenes() []store.Scene {
	return a.sceneManager.GetScenes()
}

func (a *App) CreateScene(name string, devices map[string]store.LightState) (store.Scene, error) {
	return a.sceneManager.CreateScene(name, devices)
}

func (a *App) DeleteScene(id string) error {
	return a.sceneManager.DeleteScene(id)
}

func (a *App) ApplyScene(id string) ([]*dispatch.Handle, error) {
	return a.sceneManager.Apply(id)
}

// --- Settings ---

func (a *App) Settings() store.Settings {
	return a.store.GetSettings()
}

func (a *App) UpdateSettings(settings store.Settings) error {
	return a.store.SetSettings(settings)
}
