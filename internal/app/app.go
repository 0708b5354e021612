// Package app wires the hotkey, recorder, transcription engine and paste
// sink into the dictation flow.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/config"
	"github.com/petems/dictation-tray/internal/inject"
	"github.com/petems/dictation-tray/internal/monitor"
	"github.com/petems/dictation-tray/internal/recorder"
	"github.com/petems/dictation-tray/internal/selector"
	"github.com/petems/dictation-tray/internal/transcribe"
	"github.com/petems/dictation-tray/internal/ui"
)

const (
	beginTimeout  = 5 * time.Second
	pasteTimeout  = 5 * time.Second
	switchTimeout = 5 * time.Second
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetStatus(status ui.Status)
	ShowDevices(menu ui.DeviceMenu)
	ShowMode(mode string)
}

// Recorder is the recording session the app drives.
type Recorder interface {
	Begin(ctx context.Context) error
	End() (*audio.Recording, error)
	Abort()
	State() recorder.State
	SwitchDevice(ctx context.Context, idx audio.Index) (audio.Device, error)
}

// DeviceMonitor is the part of the monitor the app reads from.
type DeviceMonitor interface {
	State() monitor.State
	Preferences() *selector.PreferenceIndex
	Subscribe(fn func(monitor.Change)) (unsubscribe func())
	Rescan(ctx context.Context) (monitor.State, error)
	SetPreferences(p *selector.PreferenceIndex)
}

// ConfigStore is the persisted settings the app reads and updates.
type ConfigStore interface {
	Snapshot() *config.Config
	Update(fn func(*config.Config)) error
}

// Executor runs fn on the UI-owning goroutine.
type Executor interface {
	Post(fn func()) error
}

type Config struct {
	Monitor       DeviceMonitor
	Recorder      Recorder
	Transcriber   transcribe.Transcriber
	Injector      inject.Injector
	Notifier      ui.Notifier
	Executor      Executor
	Store         ConfigStore
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
	TempDir       string
}

type App struct {
	mon      DeviceMonitor
	rec      Recorder
	stt      transcribe.Transcriber
	inj      inject.Injector
	notifier ui.Notifier
	exec     Executor
	store    ConfigStore
	log      zerolog.Logger
	status   StatusUpdater
	tempDir  string

	ctx    context.Context
	cancel context.CancelFunc

	// mu serialises hotkey handling so a release cannot overtake its press.
	mu          sync.Mutex
	mode        atomic.Value // string
	cfg         atomic.Pointer[config.Config]
	unsubscribe func()
	jobs        sync.WaitGroup
}

func New(cfg Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		mon:      cfg.Monitor,
		rec:      cfg.Recorder,
		stt:      cfg.Transcriber,
		inj:      cfg.Injector,
		notifier: cfg.Notifier,
		exec:     cfg.Executor,
		store:    cfg.Store,
		log:      cfg.Logger.With().Str("component", "app").Logger(),
		status:   cfg.StatusUpdater,
		tempDir:  cfg.TempDir,
		ctx:      ctx,
		cancel:   cancel,
	}
	snap := cfg.Store.Snapshot()
	a.cfg.Store(snap)
	a.mode.Store(snap.Mode)
	return a
}

// SetStatusUpdater attaches the tray after construction.
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.status = s
}

// Start subscribes to device changes and renders the initial menu.
func (a *App) Start() {
	a.unsubscribe = a.mon.Subscribe(a.handleChange)
	a.post(func() {
		a.setStatus(ui.StatusIdle)
		a.refreshMenu()
		if a.status != nil {
			a.status.ShowMode(a.Mode())
		}
	})
}

// Mode returns the current hotkey mode.
func (a *App) Mode() string {
	return a.mode.Load().(string)
}

func (a *App) OnHotkey(pressed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.Mode() {
	case config.ModeToggle:
		if !pressed {
			return
		}
		if a.rec.State() == recorder.StateRecording {
			a.stopDictationLocked()
		} else {
			a.startDictationLocked()
		}
	default:
		if pressed {
			a.startDictationLocked()
		} else {
			a.stopDictationLocked()
		}
	}
}

// IsDictating reports whether a recording is in progress.
func (a *App) IsDictating() bool {
	return a.rec.State().Active()
}

func (a *App) startDictationLocked() {
	ctx, cancel := context.WithTimeout(a.ctx, beginTimeout)
	defer cancel()

	err := a.rec.Begin(ctx)
	switch {
	case err == nil:
		a.log.Info().Msg("Starting dictation")
		a.post(func() { a.setStatus(ui.StatusRecording) })
	case errors.Is(err, recorder.ErrAlreadyRecording):
		return
	default:
		a.log.Error().Err(err).Msg("Failed to start recording")
		a.post(func() {
			a.setStatus(ui.StatusError)
			a.refreshMenu()
			a.notify(recordingFailedNotice(err))
		})
	}
}

func (a *App) stopDictationLocked() {
	rec, err := a.rec.End()
	if errors.Is(err, recorder.ErrNotRecording) {
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to stop recording")
		a.post(func() { a.setStatus(ui.StatusError) })
		return
	}
	if rec == nil {
		a.log.Info().Msg("Empty recording, skipping transcription")
		a.post(func() { a.setStatus(ui.StatusIdle) })
		return
	}

	a.log.Info().Str("device", rec.Device.Name).Dur("duration", rec.Duration()).Msg("Stopping dictation")
	a.post(func() { a.setStatus(ui.StatusProcessing) })

	a.jobs.Add(1)
	go func() {
		defer a.jobs.Done()
		a.transcribeAndPaste(rec)
	}()
}

func (a *App) transcribeAndPaste(rec *audio.Recording) {
	path, err := audio.WriteTempWAV(a.tempDir, rec)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to save audio")
		a.post(func() {
			a.setStatus(ui.StatusError)
			a.notify(ui.Notice{Title: "Save Error", Message: fmt.Sprintf("Could not save audio: %v", err), Alert: true})
		})
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			a.log.Warn().Err(err).Str("file", path).Msg("Failed to remove temp file")
		}
	}()

	req := transcribe.RequestFor(a.cfg.Load().Transcriber, path)
	start := time.Now()
	text, err := a.stt.Transcribe(a.ctx, req)
	if err != nil {
		if errors.Is(err, transcribe.ErrEmpty) {
			a.log.Info().Msg("Transcription produced no text")
			a.post(func() { a.setStatus(ui.StatusIdle) })
			return
		}
		a.log.Error().Err(err).Str("file", path).Msg("Transcription failed")
		if a.ctx.Err() != nil {
			return
		}
		a.post(func() {
			a.setStatus(ui.StatusError)
			a.notify(transcriptionNotice(err, req))
		})
		return
	}
	a.log.Info().Dur("took", time.Since(start)).Int("chars", len(text)).Msg("Transcription complete")

	text = a.applyFilters(text)
	a.post(func() { a.paste(text) })
}

func (a *App) paste(text string) {
	ctx, cancel := context.WithTimeout(a.ctx, pasteTimeout)
	defer cancel()

	err := a.inj.Paste(ctx, text)
	switch {
	case err == nil:
		a.log.Info().Str("text", text).Msg("Injected")
		a.setStatus(ui.StatusIdle)
	case errors.Is(err, inject.ErrPasteUnavailable):
		a.log.Warn().Err(err).Msg("Paste unavailable, text left on clipboard")
		a.setStatus(ui.StatusIdle)
		a.notify(ui.Notice{Title: "Text Copied", Message: "Could not paste automatically. The transcription is on the clipboard."})
	default:
		a.log.Error().Err(err).Msg("Inject error")
		a.setStatus(ui.StatusError)
		a.notify(ui.Notice{Title: "Paste Error", Message: fmt.Sprintf("Pasting failed: %v", err), Alert: true})
	}
}

func (a *App) applyFilters(text string) string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return text
	}

	// Auto-capitalize first letter
	if r, size := utf8.DecodeRuneInString(text); unicode.IsLower(r) {
		text = string(unicode.ToUpper(r)) + text[size:]
	}

	if a.cfg.Load().AppendSpace {
		text += " "
	}

	return text
}

// handleChange runs on the executor for every committed device change.
func (a *App) handleChange(c monitor.Change) {
	a.refreshMenu()
	if n, ok := changeNotice(c); ok {
		a.notify(n)
	}
}

func (a *App) refreshMenu() {
	if a.status == nil {
		return
	}
	st := a.mon.State()
	a.status.ShowDevices(ui.BuildDeviceMenu(selector.Rank(st.Snapshot, a.mon.Preferences()), st.Current))
}

// SetDevice switches to the device at idx after re-validating it.
func (a *App) SetDevice(idx audio.Index) error {
	ctx, cancel := context.WithTimeout(a.ctx, switchTimeout)
	defer cancel()

	dev, err := a.rec.SwitchDevice(ctx, idx)
	if err == nil {
		a.log.Info().Str("device", dev.Name).Int("index", int(dev.Index)).Msg("Changed audio device")
		return nil
	}

	a.log.Warn().Err(err).Int("index", int(idx)).Msg("Failed to change audio device")
	var n ui.Notice
	switch {
	case errors.Is(err, recorder.ErrRecordingInProgress):
		n = ui.Notice{Title: "Cannot Change Microphone", Message: "Cannot change microphone while recording is in progress.", Alert: true}
	case errors.Is(err, audio.ErrDeviceInvalidated):
		n = ui.Notice{Title: "Microphone Unavailable", Message: fmt.Sprintf("The selected microphone (Index: %d) is no longer available or invalid.", idx), Alert: true}
	default:
		n = ui.Notice{Title: "Microphone Error", Message: fmt.Sprintf("Could not change microphone: %v", err), Alert: true}
	}
	a.post(func() {
		a.refreshMenu()
		a.notify(n)
	})
	return err
}

// RefreshDevices forces a rescan and redraws the menu.
func (a *App) RefreshDevices() error {
	ctx, cancel := context.WithTimeout(a.ctx, switchTimeout)
	defer cancel()

	st, err := a.mon.Rescan(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("Device refresh failed")
		a.post(func() {
			a.notify(ui.Notice{Title: "Microphone Error", Message: fmt.Sprintf("Error scanning microphones: %v", err), Alert: true})
		})
		return err
	}
	a.log.Info().Int("devices", st.Snapshot.Len()).Str("current", st.Current.Name).Msg("Audio devices refreshed")
	a.post(a.refreshMenu)
	return nil
}

// ListDevices returns the ranked devices from the latest scan.
func (a *App) ListDevices() ([]selector.Scored, audio.Device) {
	st := a.mon.State()
	return selector.Rank(st.Snapshot, a.mon.Preferences()), st.Current
}

// ShowDeviceList presents the ranked device list as a notice.
func (a *App) ShowDeviceList() {
	ranked, current := a.ListDevices()
	a.post(func() {
		a.notify(ui.Notice{Title: "Microphones", Message: ui.DeviceListing(ranked, current), Alert: true})
	})
}

// SetMode switches between push-to-talk and toggle and persists it.
func (a *App) SetMode(mode string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rec.State().Active() {
		a.rec.Abort()
		a.post(func() { a.setStatus(ui.StatusIdle) })
	}
	a.mode.Store(mode)
	if a.status != nil {
		a.post(func() { a.status.ShowMode(mode) })
	}
	return a.store.Update(func(c *config.Config) { c.Mode = mode })
}

// ApplyConfig takes over settings reloaded from disk.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.cfg.Store(cfg)
	a.mode.Store(cfg.Mode)
	a.mon.SetPreferences(selector.LoadPreferences(cfg.Microphones, a.log))
	if a.status != nil {
		a.post(func() { a.status.ShowMode(cfg.Mode) })
	}
}

// Shutdown discards any recording in progress and waits for running
// transcriptions until ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.rec.State().Active() {
		a.rec.Abort()
	}
	a.mu.Unlock()

	if a.unsubscribe != nil {
		a.unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		a.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-done
		return ctx.Err()
	}
}

func (a *App) post(fn func()) {
	if err := a.exec.Post(fn); err != nil {
		a.log.Debug().Err(err).Msg("Dropped UI update")
	}
}

func (a *App) setStatus(s ui.Status) {
	if a.status != nil {
		a.status.SetStatus(s)
	}
}

func (a *App) notify(n ui.Notice) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Notify(n); err != nil {
		a.log.Warn().Err(err).Str("title", n.Title).Msg("Failed to show notification")
	}
}
