package config

import (
	"os"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/petems/dictation-tray/internal/audio"
)

const minTimeBetweenReloads = 500 * time.Millisecond

// Store is the file-backed config shared by the app. Readers take copies
// through Snapshot; writers go through Update which persists immediately.
type Store struct {
	path string
	log  zerolog.Logger
	v    *viper.Viper
	now  func() time.Time

	// saveMu orders file writes so the last swap is the last write.
	saveMu sync.Mutex

	mu         sync.RWMutex
	cfg        *Config
	lastChange time.Time
	consumers  []func(*Config)
}

// Open loads path and writes it back with defaults filled in when the file
// does not exist yet.
func Open(path string, log zerolog.Logger) (*Store, error) {
	v := newViper(path)
	cfg, err := read(v)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path: path,
		log:  log.With().Str("component", "config").Logger(),
		v:    v,
		now:  time.Now,
		cfg:  cfg,
	}

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if err := cfg.Save(path); err != nil {
			s.log.Warn().Err(err).Msg("Failed to write default config")
		} else {
			s.lastChange = s.now()
		}
	}
	return s, nil
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current config.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Update applies fn to a copy of the config, persists it and swaps it in.
// The in-memory config is updated even when the write fails.
func (s *Store) Update(fn func(*Config)) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	next := s.cfg.Clone()
	fn(next)
	s.cfg = next
	s.lastChange = s.now()
	s.mu.Unlock()

	return next.Save(s.path)
}

// PersistDevice records the selected device identity.
func (s *Store) PersistDevice(dev audio.Device) error {
	return s.Update(func(c *Config) {
		c.Audio.DeviceIndex = int(dev.Index)
		c.Audio.DeviceName = dev.Name
	})
}

// SubscribeToChanges registers fn for configs reloaded from disk.
func (s *Store) SubscribeToChanges(fn func(*Config)) {
	s.mu.Lock()
	s.consumers = append(s.consumers, fn)
	s.mu.Unlock()
}

// WatchConfigFileChanges reloads the file when it is edited externally.
// Events within minTimeBetweenReloads of the last reload or write are
// ignored, which also swallows the echo of our own saves.
func (s *Store) WatchConfigFileChanges() {
	s.v.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		s.reload(event.Name)
	})
	s.v.WatchConfig()
	s.log.Debug().Str("path", s.path).Msg("Watching config file")
}

func (s *Store) reload(name string) {
	s.mu.Lock()
	if s.now().Sub(s.lastChange) < minTimeBetweenReloads {
		s.mu.Unlock()
		return
	}
	s.lastChange = s.now()
	s.mu.Unlock()

	cfg, err := read(newViper(s.path))
	if err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("Failed to reload config, keeping previous values")
		return
	}

	s.mu.Lock()
	s.cfg = cfg
	consumers := slices.Clone(s.consumers)
	s.mu.Unlock()

	s.log.Info().Str("file", name).Msg("Config reloaded")
	for _, fn := range consumers {
		fn(cfg.Clone())
	}
}
