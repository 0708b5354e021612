package logging

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	require.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	require.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn")

	log.Info().Msg("hidden")
	require.Zero(t, buf.Len())

	log.Warn().Str("device", "Yeti X").Msg("shown")
	require.Contains(t, buf.String(), `"device":"Yeti X"`)
	require.Contains(t, buf.String(), `"message":"shown"`)
}

func TestPathUsesXDGStateHome(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG paths are linux only")
	}
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	require.Equal(t, "/tmp/state/dictation-tray/dictation-tray.log", Path())
}
