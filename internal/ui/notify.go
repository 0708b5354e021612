package ui

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// Notice is a user-facing message. Alerts need the user's attention;
// everything else is an informational notification.
type Notice struct {
	Title    string
	Subtitle string
	Message  string
	Alert    bool
}

func (n Notice) body() string {
	if n.Subtitle == "" {
		return n.Message
	}
	return n.Subtitle + "\n" + n.Message
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(n Notice) error
}

// DesktopNotifier shows notices with native desktop notifications.
type DesktopNotifier struct {
	icon  string
	quiet atomic.Bool
	log   zerolog.Logger

	notify func(title, message, icon string) error
	alert  func(title, message, icon string) error
}

var _ Notifier = (*DesktopNotifier)(nil)

// NewDesktopNotifier creates a notifier. When quiet is set informational
// notices are only logged; alerts are always shown.
func NewDesktopNotifier(icon string, quiet bool, log zerolog.Logger) *DesktopNotifier {
	d := &DesktopNotifier{
		icon:   icon,
		log:    log.With().Str("component", "notify").Logger(),
		notify: beeep.Notify,
		alert:  beeep.Alert,
	}
	d.quiet.Store(quiet)
	return d
}

// SetQuiet toggles informational notifications.
func (d *DesktopNotifier) SetQuiet(quiet bool) {
	d.quiet.Store(quiet)
}

func (d *DesktopNotifier) Notify(n Notice) error {
	ev := d.log.Info()
	if n.Alert {
		ev = d.log.Warn()
	}
	ev.Str("title", n.Title).Str("message", n.Message).Msg("Notice")

	if n.Alert {
		return d.alert(n.Title, n.body(), d.icon)
	}
	if d.quiet.Load() {
		return nil
	}
	return d.notify(n.Title, n.body(), d.icon)
}
