// Package hotkey registers a global push-to-talk key.
package hotkey

import (
	"errors"

	"github.com/petems/dictation-tray/internal/hotkey/keymap"
)

// ErrUnsupported is returned on platforms without a global hotkey backend.
var ErrUnsupported = errors.New("global hotkeys are not supported on this platform")

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

// Parse validates accel and returns its parsed form.
func Parse(accel string) (keymap.Accelerator, error) {
	return keymap.Parse(accel)
}
