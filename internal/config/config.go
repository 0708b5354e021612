package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModePushToTalk = "PushToTalk"
	ModeToggle     = "Toggle"
)

const (
	BackendPortAudio = "portaudio"
	BackendPulse     = "pulse"
)

const (
	EngineWhisperCLI = "whisper-cli"
	EngineOpenAI     = "openai"
)

type Config struct {
	Hotkey        string            `json:"hotkey" mapstructure:"hotkey"`
	HotkeyDarwin  string            `json:"hotkey_darwin" mapstructure:"hotkey_darwin"`
	Mode          string            `json:"mode" mapstructure:"mode"` // "PushToTalk" or "Toggle"
	LogLevel      string            `json:"log_level" mapstructure:"log_level"`
	AppendSpace   bool              `json:"append_space" mapstructure:"append_space"`
	Notifications bool              `json:"notifications" mapstructure:"notifications"`
	Audio         AudioConfig       `json:"audio" mapstructure:"audio"`
	Microphones   map[string]any    `json:"microphones" mapstructure:"microphones"` // name pattern -> priority
	Transcriber   TranscriberConfig `json:"transcriber" mapstructure:"transcriber"`
	Inject        InjectConfig      `json:"inject" mapstructure:"inject"`
}

type AudioConfig struct {
	Backend             string `json:"backend" mapstructure:"backend"` // "portaudio" or "pulse"
	DeviceIndex         int    `json:"device_index" mapstructure:"device_index"`
	DeviceName          string `json:"device_name" mapstructure:"device_name"`
	SampleRate          int    `json:"sample_rate" mapstructure:"sample_rate"`
	Channels            int    `json:"channels" mapstructure:"channels"`
	ScanIntervalSeconds int    `json:"scan_interval_seconds" mapstructure:"scan_interval_seconds"`
	ScanCooldownMillis  int    `json:"scan_cooldown_ms" mapstructure:"scan_cooldown_ms"`
	MaxOpenAttempts     int    `json:"max_open_attempts" mapstructure:"max_open_attempts"`
}

type TranscriberConfig struct {
	Engine         string `json:"engine" mapstructure:"engine"` // "whisper-cli" or "openai"
	Binary         string `json:"binary" mapstructure:"binary"`
	Model          string `json:"model" mapstructure:"model"` // "base.en", "small.en", ... or a path
	Language       string `json:"language" mapstructure:"language"`
	Threads        int    `json:"threads" mapstructure:"threads"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	OpenAIModel    string `json:"openai_model" mapstructure:"openai_model"`
}

type InjectConfig struct {
	PreferPaste bool `json:"prefer_paste" mapstructure:"prefer_paste"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Hotkey:        "F6",
		HotkeyDarwin:  "F6",
		Mode:          ModePushToTalk,
		LogLevel:      "info",
		AppendSpace:   true,
		Notifications: true,
		Audio: AudioConfig{
			Backend:             BackendPortAudio,
			DeviceIndex:         -1,
			SampleRate:          16000,
			Channels:            1,
			ScanIntervalSeconds: 10,
			ScanCooldownMillis:  1000,
			MaxOpenAttempts:     2,
		},
		Microphones: map[string]any{},
		Transcriber: TranscriberConfig{
			Engine:         EngineWhisperCLI,
			Binary:         "whisper-cli",
			Model:          "base.en",
			Language:       "auto",
			Threads:        4,
			TimeoutSeconds: 60,
			OpenAIModel:    "whisper-1",
		},
		Inject: InjectConfig{
			PreferPaste: true,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("hotkey", d.Hotkey)
	v.SetDefault("hotkey_darwin", d.HotkeyDarwin)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("append_space", d.AppendSpace)
	v.SetDefault("notifications", d.Notifications)
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.device_index", d.Audio.DeviceIndex)
	v.SetDefault("audio.device_name", d.Audio.DeviceName)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.scan_interval_seconds", d.Audio.ScanIntervalSeconds)
	v.SetDefault("audio.scan_cooldown_ms", d.Audio.ScanCooldownMillis)
	v.SetDefault("audio.max_open_attempts", d.Audio.MaxOpenAttempts)
	v.SetDefault("microphones", d.Microphones)
	v.SetDefault("transcriber.engine", d.Transcriber.Engine)
	v.SetDefault("transcriber.binary", d.Transcriber.Binary)
	v.SetDefault("transcriber.model", d.Transcriber.Model)
	v.SetDefault("transcriber.language", d.Transcriber.Language)
	v.SetDefault("transcriber.threads", d.Transcriber.Threads)
	v.SetDefault("transcriber.timeout_seconds", d.Transcriber.TimeoutSeconds)
	v.SetDefault("transcriber.openai_model", d.Transcriber.OpenAIModel)
	v.SetDefault("inject.prefer_paste", d.Inject.PreferPaste)
}

// Load reads the config at path, filling unset keys with defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := newViper(path)
	return read(v)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)
	return v
}

func read(v *viper.Viper) (*Config, error) {
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	d := Default()
	if !strings.EqualFold(c.Mode, ModeToggle) {
		c.Mode = ModePushToTalk
	} else {
		c.Mode = ModeToggle
	}
	c.Audio.Backend = strings.ToLower(c.Audio.Backend)
	if c.Audio.Backend != BackendPulse {
		c.Audio.Backend = BackendPortAudio
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = d.Audio.SampleRate
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = d.Audio.Channels
	}
	if c.Audio.ScanIntervalSeconds <= 0 {
		c.Audio.ScanIntervalSeconds = d.Audio.ScanIntervalSeconds
	}
	if c.Audio.ScanCooldownMillis < 0 {
		c.Audio.ScanCooldownMillis = 0
	}
	if c.Audio.MaxOpenAttempts <= 0 {
		c.Audio.MaxOpenAttempts = d.Audio.MaxOpenAttempts
	}
	if c.Microphones == nil {
		c.Microphones = map[string]any{}
	}
	if c.Transcriber.TimeoutSeconds <= 0 {
		c.Transcriber.TimeoutSeconds = d.Transcriber.TimeoutSeconds
	}
	if c.Transcriber.Threads <= 0 {
		c.Transcriber.Threads = d.Transcriber.Threads
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Microphones = maps.Clone(c.Microphones)
	return &out
}

// Save writes the config to path as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// WriteError reports a failure to persist the config file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write config %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

func (a AudioConfig) ScanInterval() time.Duration {
	return time.Duration(a.ScanIntervalSeconds) * time.Second
}

func (a AudioConfig) ScanCooldown() time.Duration {
	return time.Duration(a.ScanCooldownMillis) * time.Millisecond
}

func (t TranscriberConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// DefaultPath returns the platform-specific config file path
func DefaultPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "dictation-tray", "config.json")
}

// ModelsPath returns the platform-specific models directory path
func ModelsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "dictation-tray", "models")
}
