package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoDeviceAvailable is returned when no input device can be selected.
	ErrNoDeviceAvailable = errors.New("no audio input device available")

	// ErrDeviceInvalidated is returned when a device vanished or its index
	// now refers to a different device.
	ErrDeviceInvalidated = errors.New("audio device no longer available")
)

// DeviceQueryError reports a failed device enumeration.
type DeviceQueryError struct {
	Backend string
	Err     error
}

func (e *DeviceQueryError) Error() string {
	return fmt.Sprintf("query %s devices: %v", e.Backend, e.Err)
}

func (e *DeviceQueryError) Unwrap() error { return e.Err }

// StreamOpenError reports a failure to open or start a capture stream.
// DeviceRelated is set when the failure points at the device itself
// (unplugged, busy, wrong channel count) rather than at the host.
type StreamOpenError struct {
	Device        Device
	DeviceRelated bool
	Err           error
}

func (e *StreamOpenError) Error() string {
	return fmt.Sprintf("open stream on %q (index %d): %v", e.Device.Name, e.Device.Index, e.Err)
}

func (e *StreamOpenError) Unwrap() error { return e.Err }

// IsDeviceRelated reports whether err warrants switching to another device.
func IsDeviceRelated(err error) bool {
	if errors.Is(err, ErrDeviceInvalidated) {
		return true
	}
	var se *StreamOpenError
	if errors.As(err, &se) {
		return se.DeviceRelated
	}
	return false
}

// deviceErrorHints are fragments of backend error messages that identify a
// device-side failure when the backend does not expose a typed error.
var deviceErrorHints = []string{
	"invalid device",
	"device unavailable",
	"invalid number of channels",
	"unanticipated host error",
	"audio hardware not running",
	"-9986",
	"no such entity",
	"entity killed",
}

// LooksDeviceRelated matches msg against known device failure messages.
func LooksDeviceRelated(msg string) bool {
	msg = strings.ToLower(msg)
	for _, h := range deviceErrorHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}
