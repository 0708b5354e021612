// Package audio holds the input-device model shared by the catalog backends,
// the device monitor and the recording session.
package audio

import (
	"context"
	"slices"
	"time"
)

// Index identifies a device within one enumeration epoch. It is only
// meaningful for the snapshot that produced it and must be re-validated
// against a fresh scan before a stream is opened on it.
type Index int

// NoDevice is the sentinel for "no device selected".
const NoDevice Index = -1

// Device represents an audio input device.
type Device struct {
	Index            Index
	Name             string
	MaxInputChannels int
}

// Valid reports whether d refers to an actual device.
func (d Device) Valid() bool {
	return d.Index != NoDevice
}

// Catalog enumerates input-capable devices.
type Catalog interface {
	Scan(ctx context.Context) (Snapshot, error)
}

// StreamConfig describes the capture format requested from a backend.
type StreamConfig struct {
	SampleRate int
	Channels   int
}

// Opener opens capture streams on catalog devices.
type Opener interface {
	Open(ctx context.Context, dev Device, cfg StreamConfig) (Stream, error)
}

// Stream is an open capture stream bound to one device for its whole life.
// Samples delivers mono float32 chunks and is closed once the stream stops.
type Stream interface {
	Device() Device
	Start() error
	Stop() error
	Samples() <-chan []float32
	Close() error
}

// Recording is the captured audio of one session.
type Recording struct {
	Samples    []float32
	SampleRate int
	Device     Device
}

// Duration returns the length of the recording.
func (r *Recording) Duration() time.Duration {
	if r == nil || r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(r.SampleRate)
}

// Snapshot is an immutable, ordered list of input devices captured by one
// scan. The order is the backend's natural enumeration order.
type Snapshot struct {
	devices []Device
}

// NewSnapshot builds a snapshot from devs, keeping only input-capable
// entries. The slice is copied.
func NewSnapshot(devs []Device) Snapshot {
	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			out = append(out, d)
		}
	}
	return Snapshot{devices: out}
}

// Devices returns a copy of the devices in enumeration order.
func (s Snapshot) Devices() []Device {
	return slices.Clone(s.devices)
}

// Len returns the number of devices.
func (s Snapshot) Len() int {
	return len(s.devices)
}

// Lookup returns the device with the given index.
func (s Snapshot) Lookup(idx Index) (Device, bool) {
	for _, d := range s.devices {
		if d.Index == idx {
			return d, true
		}
	}
	return Device{}, false
}

// Contains reports whether the snapshot still holds dev with the same name
// at the same index.
func (s Snapshot) Contains(dev Device) bool {
	got, ok := s.Lookup(dev.Index)
	return ok && got.Name == dev.Name
}

// Equal compares two snapshots as sets of (index, name) pairs.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.devices) != len(o.devices) {
		return false
	}
	seen := make(map[Device]int, len(s.devices))
	for _, d := range s.devices {
		seen[Device{Index: d.Index, Name: d.Name}]++
	}
	for _, d := range o.devices {
		k := Device{Index: d.Index, Name: d.Name}
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}
