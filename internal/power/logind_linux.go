//go:build linux

package power

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus"
	"github.com/rs/zerolog"
)

const (
	prepareForSleep = "org.freedesktop.login1.Manager.PrepareForSleep"
	sleepMatchRule  = "type='signal',interface='org.freedesktop.login1.Manager',member='PrepareForSleep'"
)

// NewSource listens for logind PrepareForSleep signals, falling back to
// clock-gap detection when the system bus is unreachable.
func NewSource(log zerolog.Logger) Source {
	return &logindSource{
		log:      log.With().Str("component", "power").Logger(),
		fallback: NewGapDetector(5*time.Second, 10*time.Second, log),
	}
}

type logindSource struct {
	log      zerolog.Logger
	fallback Source
}

func (s *logindSource) Events(ctx context.Context) (<-chan Event, error) {
	conn, err := connectSystemBus()
	if err != nil {
		s.log.Warn().Err(err).Msg("logind unavailable, using clock-gap sleep detection")
		return s.fallback.Events(ctx)
	}

	if call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, sleepMatchRule); call.Err != nil {
		conn.Close()
		s.log.Warn().Err(call.Err).Msg("logind match rule rejected, using clock-gap sleep detection")
		return s.fallback.Events(ctx)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	out := make(chan Event, 2)
	go func() {
		defer close(out)
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				ev, ok := decodeSleepSignal(sig)
				if !ok {
					continue
				}
				s.log.Info().Stringer("event", ev).Msg("Power event")
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func connectSystemBus() (*dbus.Conn, error) {
	conn, err := dbus.SystemBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("authenticate system bus: %w", err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("system bus hello: %w", err)
	}
	return conn, nil
}

// decodeSleepSignal maps PrepareForSleep(true) to WillSleep and
// PrepareForSleep(false) to DidWake.
func decodeSleepSignal(sig *dbus.Signal) (Event, bool) {
	if sig == nil || sig.Name != prepareForSleep || len(sig.Body) == 0 {
		return 0, false
	}
	start, ok := sig.Body[0].(bool)
	if !ok {
		return 0, false
	}
	if start {
		return WillSleep, true
	}
	return DidWake, true
}
