// Package store persists the controller's configuration: friendly device
// names, the screen-capture region, tuning intervals and saved scenes. The
// protocol core never writes here; the store is loaded at startup and
// mutated only through the app's settings surface.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// LightState is a persisted per-device preset: power plus raw HSBK values.
type LightState struct {
	On         bool   `json:"on"`
	Hue        uint16 `json:"hue"`
	Saturation uint16 `json:"saturation"`
	Brightness uint16 `json:"brightness"`
	Kelvin     uint16 `json:"kelvin"`
}

// Scene is a named collection of per-device presets, keyed by device serial.
type Scene struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	Devices map[string]LightState `json:"devices"`
}

// Region is the screen-capture rectangle in display coordinates. A zero
// width or height means the whole display.
type Region struct {
	Display int `json:"display"`
	X       int `json:"x"`
	Y       int `json:"y"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

type Settings struct {
	DiscoveryIntervalMs  int    `json:"discoveryIntervalMs"`
	RefreshIntervalMs    int    `json:"refreshIntervalMs"`
	FollowRateMs         int    `json:"followRateMs"`
	AmbientMinIntervalMs int    `json:"ambientMinIntervalMs"`
	RetryTimeoutMs       int    `json:"retryTimeoutMs"`
	MaxRetries           int    `json:"maxRetries"`
	ScreenRegion         Region `json:"screenRegion"`
}

type Config struct {
	// Names maps device serials to user-assigned friendly names overlaid on
	// registry snapshots.
	Names    map[string]string `json:"names,omitempty"`
	Scenes   []Scene           `json:"scenes,omitempty"`
	Settings Settings          `json:"settings"`
}

type Store struct {
	mu       sync.Mutex
	config   Config
	filePath string
}

func New() (*Store, error) {
	p, err := configPath()
	if err != nil {
		return nil, err
	}
	return NewAt(p)
}

// NewAt opens a store backed by an explicit file path.
func NewAt(path string) (*Store, error) {
	s := &Store{
		filePath: path,
		config: Config{
			Names: map[string]string{},
			Settings: Settings{
				DiscoveryIntervalMs:  30000,
				RefreshIntervalMs:    5000,
				FollowRateMs:         500,
				AmbientMinIntervalMs: 100,
				RetryTimeoutMs:       500,
				MaxRetries:           3,
			},
		},
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *Store) GetSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Settings
}

func (s *Store) SetSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Settings = settings
	return s.saveLocked()
}

func (s *Store) GetName(serial string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Names[serial]
}

func (s *Store) SetName(serial, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.Names == nil {
		s.config.Names = map[string]string{}
	}
	if name == "" {
		delete(s.config.Names, serial)
	} else {
		s.config.Names[serial] = name
	}
	return s.saveLocked()
}

func (s *Store) GetScenes() []Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scene(nil), s.config.Scenes...)
}

func (s *Store) UpsertScene(scene Scene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sc := range s.config.Scenes {
		if sc.ID == scene.ID {
			s.config.Scenes[i] = scene
			return s.saveLocked()
		}
	}
	s.config.Scenes = append(s.config.Scenes, scene)
	return s.saveLocked()
}

func (s *Store) DeleteScene(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sc := range s.config.Scenes {
		if sc.ID == id {
			s.config.Scenes = append(s.config.Scenes[:i], s.config.Scenes[i+1:]...)
			break
		}
	}
	return s.saveLocked()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, &s.config)
}

// saveLocked marshals config and writes atomically. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

func configPath() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "lumisync", "config.json"), nil
}
