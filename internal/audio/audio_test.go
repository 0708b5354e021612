package audio

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSnapshotDropsOutputOnlyDevices(t *testing.T) {
	snap := NewSnapshot([]Device{
		{Index: 0, Name: "Speakers", MaxInputChannels: 0},
		{Index: 1, Name: "USB Mic", MaxInputChannels: 1},
		{Index: 2, Name: "Built-in", MaxInputChannels: 2},
	})

	require.Equal(t, 2, snap.Len())
	devs := snap.Devices()
	require.Equal(t, "USB Mic", devs[0].Name)
	require.Equal(t, "Built-in", devs[1].Name)
}

func TestSnapshotDevicesIsACopy(t *testing.T) {
	snap := NewSnapshot([]Device{{Index: 0, Name: "Mic", MaxInputChannels: 1}})
	devs := snap.Devices()
	devs[0].Name = "changed"

	got, ok := snap.Lookup(0)
	require.True(t, ok)
	require.Equal(t, "Mic", got.Name)
}

func TestSnapshotContainsChecksName(t *testing.T) {
	snap := NewSnapshot([]Device{{Index: 3, Name: "Headset", MaxInputChannels: 1}})

	require.True(t, snap.Contains(Device{Index: 3, Name: "Headset"}))
	require.False(t, snap.Contains(Device{Index: 3, Name: "Other"}))
	require.False(t, snap.Contains(Device{Index: 4, Name: "Headset"}))
}

func TestSnapshotEqualIgnoresOrder(t *testing.T) {
	a := NewSnapshot([]Device{
		{Index: 0, Name: "A", MaxInputChannels: 1},
		{Index: 1, Name: "B", MaxInputChannels: 2},
	})
	b := NewSnapshot([]Device{
		{Index: 1, Name: "B", MaxInputChannels: 1},
		{Index: 0, Name: "A", MaxInputChannels: 1},
	})
	c := NewSnapshot([]Device{
		{Index: 0, Name: "A", MaxInputChannels: 1},
		{Index: 1, Name: "C", MaxInputChannels: 1},
	})

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(Snapshot{}))
	require.True(t, Snapshot{}.Equal(NewSnapshot(nil)))
}

func TestIsDeviceRelated(t *testing.T) {
	dev := Device{Index: 1, Name: "Mic"}

	require.True(t, IsDeviceRelated(&StreamOpenError{Device: dev, DeviceRelated: true, Err: errors.New("boom")}))
	require.False(t, IsDeviceRelated(&StreamOpenError{Device: dev, Err: errors.New("boom")}))
	require.True(t, IsDeviceRelated(fmt.Errorf("verify: %w", ErrDeviceInvalidated)))
	require.False(t, IsDeviceRelated(errors.New("out of memory")))
}

func TestLooksDeviceRelated(t *testing.T) {
	require.True(t, LooksDeviceRelated("Invalid device"))
	require.True(t, LooksDeviceRelated("Error opening stream: [-9986] Internal PortAudio error"))
	require.True(t, LooksDeviceRelated("Audio Hardware Not Running"))
	require.False(t, LooksDeviceRelated("Insufficient memory"))
}

func TestRecordingDuration(t *testing.T) {
	rec := &Recording{Samples: make([]float32, 8000), SampleRate: 16000}
	require.Equal(t, 500*time.Millisecond, rec.Duration())

	var nilRec *Recording
	require.Zero(t, nilRec.Duration())
}
