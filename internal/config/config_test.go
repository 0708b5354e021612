package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/petems/dictation-tray/internal/audio"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.Equal(t, ModePushToTalk, cfg.Mode)
	require.Equal(t, -1, cfg.Audio.DeviceIndex)
	require.Equal(t, 16000, cfg.Audio.SampleRate)
	require.Equal(t, 10*time.Second, cfg.Audio.ScanInterval())
	require.Equal(t, 2, cfg.Audio.MaxOpenAttempts)
	require.Equal(t, 60*time.Second, cfg.Transcriber.Timeout())
	require.Equal(t, 4, cfg.Transcriber.Threads)
	require.True(t, cfg.Inject.PreferPaste)
	require.Empty(t, cfg.Microphones)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{
  "mode": "toggle",
  "audio": {"backend": "pulse", "device_index": 3, "device_name": "Yeti X", "scan_interval_seconds": 5},
  "microphones": {"yeti": 10, "airpods": "5"},
  "transcriber": {"timeout_seconds": 30}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ModeToggle, cfg.Mode)
	require.Equal(t, BackendPulse, cfg.Audio.Backend)
	require.Equal(t, 3, cfg.Audio.DeviceIndex)
	require.Equal(t, "Yeti X", cfg.Audio.DeviceName)
	require.Equal(t, 5*time.Second, cfg.Audio.ScanInterval())
	require.Equal(t, 16000, cfg.Audio.SampleRate)
	require.Equal(t, 30*time.Second, cfg.Transcriber.Timeout())
	require.Equal(t, "whisper-cli", cfg.Transcriber.Binary)
	require.Len(t, cfg.Microphones, 2)
	require.EqualValues(t, 10, cfg.Microphones["yeti"])
	require.Equal(t, "5", cfg.Microphones["airpods"])
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"mode": `)

	_, err := Load(path)
	require.Error(t, err)
}

func TestUnknownBackendFallsBackToPortAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"audio": {"backend": "jack"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendPortAudio, cfg.Audio.Backend)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Mode = ModeToggle
	cfg.Microphones["blue yeti"] = 10

	require.NoError(t, cfg.Save(path))
	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeToggle, got.Mode)
	require.EqualValues(t, 10, got.Microphones["blue yeti"])
}

func TestSaveReportsWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker, "x")

	err := Default().Save(filepath.Join(blocker, "config.json"))
	var we *WriteError
	require.True(t, errors.As(err, &we))
	require.Contains(t, we.Error(), "write config")
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cfg.Microphones["usb"] = 1

	cp := cfg.Clone()
	cp.Microphones["usb"] = 2
	cp.Audio.DeviceName = "other"

	require.Equal(t, 1, cfg.Microphones["usb"])
	require.Empty(t, cfg.Audio.DeviceName)
}

func TestOpenWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, path, s.Path())
}

func TestPersistDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.PersistDevice(audio.Device{Index: 2, Name: "AirPods Pro"}))
	require.Equal(t, 2, s.Snapshot().Audio.DeviceIndex)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Audio.DeviceIndex)
	require.Equal(t, "AirPods Pro", reloaded.Audio.DeviceName)
}

func TestPersistDeviceFailureKeepsMemoryState(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "config.json"), zerolog.Nop())
	require.NoError(t, err)

	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker, "x")
	s.path = filepath.Join(blocker, "config.json")

	err = s.PersistDevice(audio.Device{Index: 1, Name: "Yeti X"})
	var we *WriteError
	require.ErrorAs(t, err, &we)
	require.Equal(t, "Yeti X", s.Snapshot().Audio.DeviceName)
}

func TestConcurrentUpdatesLeaveFileMatchingMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			require.NoError(t, s.PersistDevice(audio.Device{Index: audio.Index(i), Name: "Mic"}))
		}()
		go func() {
			defer wg.Done()
			require.NoError(t, s.Update(func(c *Config) { c.Audio.SampleRate = 16000 + i }))
		}()
	}
	wg.Wait()

	onDisk, err := Load(path)
	require.NoError(t, err)
	mem := s.Snapshot()
	require.Equal(t, mem.Audio.DeviceIndex, onDisk.Audio.DeviceIndex)
	require.Equal(t, mem.Audio.SampleRate, onDisk.Audio.SampleRate)
}

func TestReloadNotifiesConsumers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	s.lastChange = now.Add(-time.Minute)

	var got *Config
	s.SubscribeToChanges(func(c *Config) { got = c })

	writeFile(t, path, `{"microphones": {"yeti": 10}}`)
	s.reload(path)

	require.NotNil(t, got)
	require.EqualValues(t, 10, got.Microphones["yeti"])
	require.EqualValues(t, 10, s.Snapshot().Microphones["yeti"])
}

func TestReloadWithinCooldownIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	require.NoError(t, s.Update(func(c *Config) { c.Mode = ModeToggle }))

	called := false
	s.SubscribeToChanges(func(*Config) { called = true })
	s.reload(path)
	require.False(t, called)
}

func TestReloadKeepsPreviousOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	s.lastChange = time.Time{}

	writeFile(t, path, `{not json`)
	s.reload(path)
	require.Equal(t, ModePushToTalk, s.Snapshot().Mode)
}
