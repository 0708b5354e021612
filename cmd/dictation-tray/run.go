package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/petems/dictation-tray/internal/app"
	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/audio/portaudio"
	"github.com/petems/dictation-tray/internal/audio/pulse"
	"github.com/petems/dictation-tray/internal/config"
	"github.com/petems/dictation-tray/internal/hotkey"
	"github.com/petems/dictation-tray/internal/inject"
	"github.com/petems/dictation-tray/internal/logging"
	"github.com/petems/dictation-tray/internal/monitor"
	"github.com/petems/dictation-tray/internal/permissions"
	"github.com/petems/dictation-tray/internal/power"
	"github.com/petems/dictation-tray/internal/recorder"
	"github.com/petems/dictation-tray/internal/selector"
	"github.com/petems/dictation-tray/internal/transcribe"
	"github.com/petems/dictation-tray/internal/tray"
	"github.com/petems/dictation-tray/internal/ui"
)

const (
	shutdownTimeout = 10 * time.Second
	fallbackHotkey  = "F6"
)

// deviceBackend lists devices and opens capture streams on them.
type deviceBackend interface {
	audio.Catalog
	audio.Opener
}

func runTray(ctx context.Context, opts *options) error {
	store, log, err := openStore(opts)
	if err != nil {
		return err
	}
	cfg := store.Snapshot()
	log.Info().Str("version", Version).Str("config", store.Path()).Msg("Dictation tray starting...")

	// macOS requires explicit microphone + accessibility approval before capture or hotkeys work
	if err := permissions.EnsurePermissions(log); err != nil {
		return fmt.Errorf("required permissions not granted: %w", err)
	}

	devices, closeBackend, err := openBackend(backendName(opts, cfg), log)
	if err != nil {
		return err
	}
	defer closeBackend()

	dispatcher := ui.NewDispatcher(0)
	dispatcher.Start()
	defer dispatcher.Close()

	notifier := ui.NewDesktopNotifier("", !cfg.Notifications, log)

	mon := monitor.New(monitor.Options{
		Catalog:     devices,
		Preferences: selector.LoadPreferences(cfg.Microphones, log),
		Executor:    dispatcher,
		Persister:   store,
		Logger:      log,
		Interval:    cfg.Audio.ScanInterval(),
		Cooldown:    cfg.Audio.ScanCooldown(),
		Preferred:   preferredDevice(cfg.Audio),
	})

	session := recorder.New(recorder.Options{
		Monitor:     mon,
		Opener:      devices,
		Stream:      audio.StreamConfig{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels},
		MaxAttempts: cfg.Audio.MaxOpenAttempts,
		Logger:      log,
	})

	stt, err := transcribe.New(cfg.Transcriber, os.Getenv("OPENAI_API_KEY"), log)
	if err != nil {
		return fmt.Errorf("failed to initialize transcriber: %w", err)
	}

	trayUI := tray.New(nil, notifier, Version, Commit, log)
	trayUI.SetConfigPath(store.Path())

	application := app.New(app.Config{
		Monitor:       mon,
		Recorder:      session,
		Transcriber:   stt,
		Injector:      inject.New(cfg.Inject, log),
		Notifier:      notifier,
		Executor:      dispatcher,
		Store:         store,
		Logger:        log,
		StatusUpdater: trayUI,
		TempDir:       os.TempDir(),
	})
	trayUI.SetApp(application)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	models := newModelLoader(stt, dispatcher, notifier, log)
	models.load(ctx, cfg.Transcriber.Model)

	store.SubscribeToChanges(func(c *config.Config) {
		notifier.SetQuiet(!c.Notifications)
		application.ApplyConfig(c)
		models.load(ctx, c.Transcriber.Model)
	})
	store.WatchConfigFileChanges()

	if hk := registerHotkey(cfg.PlatformHotkey(), application.OnHotkey, log); hk != nil {
		defer hk.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	events, err := power.NewSource(log).Events(gctx)
	if err != nil {
		log.Warn().Err(err).Msg("Sleep/wake notifications unavailable")
	}
	g.Go(func() error {
		return mon.Run(gctx, events)
	})
	g.Go(func() error {
		select {
		case <-trayUI.Ready():
		case <-gctx.Done():
			return nil
		}
		application.Start()
		if err := application.RefreshDevices(); err != nil {
			log.Warn().Err(err).Msg("Initial device scan failed")
		}
		<-gctx.Done()
		trayUI.Quit()
		return nil
	})

	// Start tray UI - MUST run on main thread
	trayUI.Run(cancel)
	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	models.wait()
	return g.Wait()
}

func configPath(opts *options) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	return config.DefaultPath()
}

// openStore loads the config and builds the logger at the configured level.
func openStore(opts *options) (*config.Store, zerolog.Logger, error) {
	path := configPath(opts)
	cfg, err := config.Load(path)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Error().Err(err).Str("path", path).Msg("Failed to load config")
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}
	log := logging.NewWithLevel(logLevel(opts, cfg))

	store, err := config.Open(path, log)
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}
	return store, log, nil
}

func logLevel(opts *options, cfg *config.Config) string {
	if opts.logLevel != "" {
		return opts.logLevel
	}
	return cfg.LogLevel
}

func backendName(opts *options, cfg *config.Config) string {
	if opts.backend != "" {
		return opts.backend
	}
	return cfg.Audio.Backend
}

func openBackend(name string, log zerolog.Logger) (deviceBackend, func(), error) {
	switch name {
	case config.BackendPulse:
		return pulse.New(appName, log), func() {}, nil
	case config.BackendPortAudio, "":
		host, err := portaudio.New(log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audio: %w", err)
		}
		return host, func() {
			if err := host.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to terminate PortAudio")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

// preferredDevice is the identity saved by the last run.
func preferredDevice(a config.AudioConfig) audio.Device {
	if a.DeviceIndex < 0 || a.DeviceName == "" {
		return audio.Device{Index: audio.NoDevice}
	}
	return audio.Device{Index: audio.Index(a.DeviceIndex), Name: a.DeviceName}
}

func registerHotkey(accel string, onHotkey func(pressed bool), log zerolog.Logger) hotkey.Manager {
	hk, err := hotkey.New(log)
	if err != nil {
		log.Warn().Err(err).Msg("Global hotkey unavailable, use the tray menu")
		return nil
	}
	if err := hk.Register(accel, onHotkey); err != nil {
		log.Error().Err(err).Str("hotkey", accel).Str("fallback", fallbackHotkey).Msg("Failed to register hotkey")
		if accel == fallbackHotkey {
			return hk
		}
		if err := hk.Register(fallbackHotkey, onHotkey); err != nil {
			log.Error().Err(err).Msg("Failed to register fallback hotkey")
			return hk
		}
		accel = fallbackHotkey
	}
	log.Info().Str("hotkey", accel).Msg("Hotkey registered")
	return hk
}

var _ app.Executor = (*ui.Dispatcher)(nil)
