// Package tray renders the app state in the system tray.
package tray

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/config"
	"github.com/petems/dictation-tray/internal/logging"
	"github.com/petems/dictation-tray/internal/ui"
)

const troubleshootingTips = `1. Check the microphone works in your system sound settings.
2. Check the transcriber settings in the config file.
3. Try running whisper-cli on a WAV file from a terminal.

Audio device issues (common after sleep/wake or logout/login):
- Use "Refresh Audio Devices" in the menu
- Select a different microphone under "Microphone"
- Restart the app if the problem persists
Devices are rescanned periodically and after wake.

Permissions: the app needs microphone access, plus accessibility
access for the hotkey and for pasting text. Restart the app after
granting them.`

// deviceSlots is the number of microphone entries kept in the submenu.
// systray cannot remove items, so entries are reused and hidden.
const deviceSlots = 16

// Controller is the app surface driven by menu clicks.
type Controller interface {
	SetDevice(idx audio.Index) error
	RefreshDevices() error
	ShowDeviceList()
	SetMode(mode string) error
	Mode() string
}

type UI struct {
	app     Controller
	notify  ui.Notifier
	version string
	commit  string
	log     zerolog.Logger
	onQuit  func()

	configPath string
	// open launches the desktop handler for a file.
	open func(path string) error

	ready chan struct{}

	// Menu items
	mMode      *systray.MenuItem
	mDevices   *systray.MenuItem
	mCurrent   *systray.MenuItem
	mNone      *systray.MenuItem
	mRefresh   *systray.MenuItem
	mList      *systray.MenuItem
	slots      [deviceSlots]*systray.MenuItem
	slotsMu    sync.Mutex
	slotDevice [deviceSlots]audio.Index
}

func New(application Controller, notify ui.Notifier, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:     application,
		notify:  notify,
		version: version,
		commit:  commit,
		log:     log.With().Str("component", "tray").Logger(),
		ready:   make(chan struct{}),
		open:    startOpen,
	}
}

// SetConfigPath sets the file opened by Edit Config.
func (u *UI) SetConfigPath(path string) {
	u.configPath = path
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application Controller) {
	u.app = application
}

// Ready is closed once the menu has been built.
func (u *UI) Ready() <-chan struct{} {
	return u.ready
}

// Run blocks on the tray event loop until Quit is chosen. onQuit runs
// from the loop when that happens.
func (u *UI) Run(onQuit func()) {
	u.onQuit = onQuit
	systray.Run(u.onReady, u.onExit)
}

// Quit stops the tray loop.
func (u *UI) Quit() {
	systray.Quit()
}

func (u *UI) onReady() {
	// Use emoji instead of icon - microphone with initial status
	systray.SetTitle(ui.StatusIdle.Title())
	systray.SetTooltip("Local voice dictation")

	u.mMode = systray.AddMenuItem(modeTitle(u.app.Mode()), "Toggle between modes")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.mCurrent = u.mDevices.AddSubMenuItem("Current: None", "")
	u.mCurrent.Disable()
	u.mNone = u.mDevices.AddSubMenuItem("No microphones found", "")
	u.mNone.Disable()
	for i := range u.slots {
		u.slots[i] = u.mDevices.AddSubMenuItem("", "")
		u.slots[i].Hide()
		u.slotDevice[i] = audio.NoDevice
		go u.watchSlot(i)
	}

	u.mRefresh = systray.AddMenuItem("Refresh Audio Devices", "Rescan microphones")
	u.mList = systray.AddMenuItem("List Microphones", "Show detected microphones")

	systray.AddSeparator()
	mConfig := systray.AddMenuItem("Edit Config", "Open the config file")
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mHelp := systray.AddMenuItem("Troubleshooting", "Show troubleshooting tips")
	mAbout := systray.AddMenuItem("About", "About Dictation Tray")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	close(u.ready)

	// Event loop
	go u.handleEvents(menuItems{config: mConfig, logs: mLogs, help: mHelp, about: mAbout, quit: mQuit})
}

type menuItems struct {
	config, logs, help, about, quit *systray.MenuItem
}

func (u *UI) handleEvents(m menuItems) {
	for {
		select {
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mRefresh.ClickedCh:
			if err := u.app.RefreshDevices(); err != nil {
				u.log.Warn().Err(err).Msg("Refresh failed")
			}
		case <-u.mList.ClickedCh:
			u.app.ShowDeviceList()
		case <-m.config.ClickedCh:
			u.editConfig()
		case <-m.logs.ClickedCh:
			u.openLogs()
		case <-m.help.ClickedCh:
			u.showTroubleshooting()
		case <-m.about.ClickedCh:
			u.showAbout()
		case <-m.quit.ClickedCh:
			if u.onQuit != nil {
				u.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

func (u *UI) watchSlot(i int) {
	for range u.slots[i].ClickedCh {
		u.slotsMu.Lock()
		idx := u.slotDevice[i]
		u.slotsMu.Unlock()
		if idx == audio.NoDevice {
			continue
		}
		// SetDevice reports failures to the user itself.
		_ = u.app.SetDevice(idx)
	}
}

// SetStatus updates the tray title.
func (u *UI) SetStatus(s ui.Status) {
	systray.SetTitle(s.Title())
}

// ShowDevices redraws the microphone submenu.
func (u *UI) ShowDevices(menu ui.DeviceMenu) {
	if u.mDevices == nil {
		return
	}
	u.mCurrent.SetTitle(menu.Header)
	if menu.Placeholder != "" {
		u.mNone.SetTitle(menu.Placeholder)
		u.mNone.Show()
	} else {
		u.mNone.Hide()
	}

	entries := assignSlots(menu.Entries, deviceSlots)
	if len(entries) < len(menu.Entries) {
		u.log.Warn().Int("devices", len(menu.Entries)).Int("shown", len(entries)).Msg("Too many microphones for menu")
	}

	u.slotsMu.Lock()
	defer u.slotsMu.Unlock()
	for i, item := range u.slots {
		if i >= len(entries) {
			u.slotDevice[i] = audio.NoDevice
			item.Uncheck()
			item.Hide()
			continue
		}
		e := entries[i]
		u.slotDevice[i] = e.Index
		item.SetTitle(e.Title)
		if e.Current {
			item.Check()
		} else {
			item.Uncheck()
		}
		item.Show()
	}
}

// ShowMode updates the mode item.
func (u *UI) ShowMode(mode string) {
	if u.mMode == nil {
		return
	}
	u.mMode.SetTitle(modeTitle(mode))
}

func (u *UI) toggleMode() {
	oldMode := u.app.Mode()
	newMode := nextMode(oldMode)
	if err := u.app.SetMode(newMode); err != nil {
		u.log.Error().Err(err).Msg("Failed to save mode")
	}
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) openLogs() {
	path := logging.Path()
	if err := u.open(path); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
		u.show(ui.Notice{Title: "Open Logs", Message: "Logs are written to " + path})
	}
}

func (u *UI) editConfig() {
	path := u.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	u.log.Info().Str("path", path).Msg("Opening config file")
	if err := u.open(path); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open config file")
		u.show(ui.Notice{
			Title:   "Config Error",
			Message: fmt.Sprintf("Could not open %s:\n%v", path, err),
			Alert:   true,
		})
	}
}

func (u *UI) showTroubleshooting() {
	u.show(ui.Notice{Title: "Troubleshooting Tips", Message: troubleshootingTips, Alert: true})
}

func (u *UI) showAbout() {
	u.show(ui.Notice{
		Title:   "About Dictation Tray",
		Message: fmt.Sprintf("Dictation Tray %s (%s)\nLocal voice dictation", u.version, u.commit),
		Alert:   true,
	})
}

func (u *UI) show(n ui.Notice) {
	if u.notify == nil {
		return
	}
	if err := u.notify.Notify(n); err != nil {
		u.log.Warn().Err(err).Msg("Failed to show notification")
	}
}

func (u *UI) onExit() {
	u.log.Info().Msg("Tray exited")
}

func modeTitle(mode string) string {
	if mode == config.ModeToggle {
		return "Mode: Toggle"
	}
	return "Mode: Push-to-Talk"
}

func nextMode(mode string) string {
	if mode == config.ModeToggle {
		return config.ModePushToTalk
	}
	return config.ModeToggle
}

// assignSlots returns the entries that fit into n slots, always keeping the
// current device visible.
func assignSlots(entries []ui.DeviceEntry, n int) []ui.DeviceEntry {
	if len(entries) <= n {
		return entries
	}
	out := append([]ui.DeviceEntry(nil), entries[:n]...)
	for _, e := range entries[n:] {
		if e.Current {
			out[n-1] = e
			break
		}
	}
	return out
}

func startOpen(path string) error {
	cmd := openCommand(runtime.GOOS, path)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

func openCommand(goos, path string) *exec.Cmd {
	switch goos {
	case "darwin":
		return exec.Command("open", path)
	case "windows":
		return exec.Command("cmd", "/c", "start", "", path)
	default:
		return exec.Command("xdg-open", path)
	}
}
