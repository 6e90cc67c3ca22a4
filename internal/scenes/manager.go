// Package scenes manages named device-state presets. A scene records power
// and color per device; applying one fans the presets out through the
// command dispatcher, best effort per device.
package scenes

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumisync/internal/dispatch"
	"lumisync/internal/protocol"
	"lumisync/internal/store"
)

const applyFade = 200 * time.Millisecond

type Manager struct {
	mu          sync.RWMutex
	store       *store.Store
	disp        *dispatch.Dispatcher
	activeScene string
	log         zerolog.Logger
}

func NewManager(s *store.Store, disp *dispatch.Dispatcher, log zerolog.Logger) *Manager {
	return &Manager{
		store: s,
		disp:  disp,
		log:   log,
	}
}

func (m *Manager) GetScenes() []store.Scene {
	return m.store.GetScenes()
}

func (m *Manager) GetScene(id string) (store.Scene, error) {
	for _, s := range m.store.GetScenes() {
		if s.ID == id {
			return s, nil
		}
	}
	return store.Scene{}, fmt.Errorf("scene %s not found", id)
}

func (m *Manager) CreateScene(name string, devices map[string]store.LightState) (store.Scene, error) {
	scene := store.Scene{
		ID:      uuid.New().String(),
		Name:    name,
		Devices: devices,
	}
	if err := m.store.UpsertScene(scene); err != nil {
		return store.Scene{}, err
	}
	return scene, nil
}

func (m *Manager) UpdateScene(scene store.Scene) error {
	return m.store.UpsertScene(scene)
}

func (m *Manager) DeleteScene(id string) error {
	return m.store.DeleteScene(id)
}

func (m *Manager) GetActiveScene() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeScene
}

// Apply dispatches every preset in the scene and returns the command
// handles. Devices that are unknown or unreachable fail individually; the
// rest of the scene still applies.
func (m *Manager) Apply(id string) ([]*dispatch.Handle, error) {
	scene, err := m.GetScene(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.activeScene = id
	m.mu.Unlock()

	var handles []*dispatch.Handle
	for serialStr, state := range scene.Devices {
		serial, err := protocol.ParseSerial(serialStr)
		if err != nil {
			m.log.Warn().Str("serial", serialStr).Msg("scene references invalid serial")
			continue
		}
		target := dispatch.ToDevice(serial)

		hs, err := m.disp.Dispatch(target, dispatch.Power{On: state.On, Duration: applyFade})
		if err != nil {
			m.log.Warn().Err(err).Str("serial", serialStr).Msg("scene power dispatch failed")
		} else {
			handles = append(handles, hs...)
		}

		if !state.On {
			continue
		}
		kelvin := state.Kelvin
		if kelvin == 0 {
			kelvin = protocol.DefaultKelvin
		}
		color := protocol.HSBK{
			Hue:        state.Hue,
			Saturation: state.Saturation,
			Brightness: state.Brightness,
			Kelvin:     kelvin,
		}
		hs, err = m.disp.Dispatch(target, dispatch.Color{Color: color, Duration: applyFade})
		if err != nil {
			m.log.Warn().Err(err).Str("serial", serialStr).Msg("scene color dispatch failed")
		} else {
			handles = append(handles, hs...)
		}
	}

	m.log.Info().Str("scene", scene.Name).Int("commands", len(handles)).Msg("scene applied")
	return handles, nil
}
