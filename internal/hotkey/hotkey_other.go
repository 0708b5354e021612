//go:build !linux && !darwin

package hotkey

import "github.com/rs/zerolog"

// New reports ErrUnsupported; the tray menu still works without a hotkey.
func New(log zerolog.Logger) (Manager, error) {
	return nil, ErrUnsupported
}
