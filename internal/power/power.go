// Package power reports system sleep and wake transitions.
package power

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event is a power transition.
type Event int

const (
	// WillSleep is sent before the system suspends.
	WillSleep Event = iota
	// DidWake is sent after the system resumes.
	DidWake
)

func (e Event) String() string {
	switch e {
	case WillSleep:
		return "sleep"
	case DidWake:
		return "wake"
	default:
		return "unknown"
	}
}

// Source delivers power events until ctx is cancelled, then closes the
// returned channel.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}

// GapDetector infers a suspend from wall-clock jumps. A tick that arrives
// much later than scheduled means the process was frozen, which is reported
// as a WillSleep immediately followed by DidWake.
type GapDetector struct {
	Interval  time.Duration
	Threshold time.Duration
	Now       func() time.Time
	Tick      func(d time.Duration) (<-chan time.Time, func())
	Log       zerolog.Logger
}

// NewGapDetector checks every interval and reports gaps above threshold.
func NewGapDetector(interval, threshold time.Duration, log zerolog.Logger) *GapDetector {
	return &GapDetector{
		Interval:  interval,
		Threshold: threshold,
		Now:       time.Now,
		Tick: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		Log: log.With().Str("component", "power").Logger(),
	}
}

func (g *GapDetector) Events(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 2)
	tick, stop := g.Tick(g.Interval)

	go func() {
		defer close(out)
		defer stop()

		last := g.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				now := g.Now()
				gap := now.Sub(last)
				last = now
				if gap < g.Interval+g.Threshold {
					continue
				}
				g.Log.Info().Dur("gap", gap).Msg("Clock gap detected, assuming system slept")
				for _, ev := range []Event{WillSleep, DidWake} {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}
