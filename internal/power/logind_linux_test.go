//go:build linux

package power

import (
	"testing"

	"github.com/godbus/dbus"
	"github.com/stretchr/testify/require"
)

func TestDecodeSleepSignal(t *testing.T) {
	ev, ok := decodeSleepSignal(&dbus.Signal{Name: prepareForSleep, Body: []interface{}{true}})
	require.True(t, ok)
	require.Equal(t, WillSleep, ev)

	ev, ok = decodeSleepSignal(&dbus.Signal{Name: prepareForSleep, Body: []interface{}{false}})
	require.True(t, ok)
	require.Equal(t, DidWake, ev)

	_, ok = decodeSleepSignal(&dbus.Signal{Name: "org.freedesktop.DBus.NameAcquired", Body: []interface{}{"x"}})
	require.False(t, ok)

	_, ok = decodeSleepSignal(&dbus.Signal{Name: prepareForSleep})
	require.False(t, ok)

	_, ok = decodeSleepSignal(nil)
	require.False(t, ok)
}
