// Package recorder runs one capture session at a time on the device chosen
// by the monitor, falling back to another device when opening fails.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/monitor"
)

var (
	ErrAlreadyRecording    = errors.New("recording already in progress")
	ErrNotRecording        = errors.New("not recording")
	ErrRecordingInProgress = errors.New("cannot change microphone while recording is in progress")
)

const DefaultMaxAttempts = 2

// Monitor is the part of the device monitor a session depends on.
type Monitor interface {
	Rescan(ctx context.Context) (monitor.State, error)
	Fallback(ctx context.Context, failed audio.Device) (audio.Device, error)
	Select(ctx context.Context, idx audio.Index) (audio.Device, error)
	Pin() (release func())
}

// Options configures a Session.
type Options struct {
	Monitor     Monitor
	Opener      audio.Opener
	Stream      audio.StreamConfig
	MaxAttempts int
	Logger      zerolog.Logger
}

// Session owns the capture stream lifecycle.
type Session struct {
	mon         Monitor
	opener      audio.Opener
	cfg         audio.StreamConfig
	maxAttempts int
	log         zerolog.Logger

	mu      sync.Mutex
	state   State
	stream  audio.Stream
	bound   audio.Device
	buf     *audio.Buffer
	drained chan struct{}
	unpin   func()
}

// New creates an idle session.
func New(opts Options) *Session {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Stream.SampleRate <= 0 {
		opts.Stream.SampleRate = 16000
	}
	if opts.Stream.Channels <= 0 {
		opts.Stream.Channels = 1
	}
	return &Session{
		mon:         opts.Monitor,
		opener:      opts.Opener,
		cfg:         opts.Stream,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger.With().Str("component", "recorder").Logger(),
		state:       StateIdle,
		bound:       audio.Device{Index: audio.NoDevice},
	}
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bound returns the device the live stream was opened on.
func (s *Session) Bound() audio.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Begin forces a rescan, then opens and starts a stream on the selected
// device. Device-related open failures move to the next best device, up to
// the attempt limit. A call while a session is active is rejected without
// side effects.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() {
		return ErrAlreadyRecording
	}
	s.transition(EventArm)

	st, err := s.mon.Rescan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.transition(EventAbort)
			return ctx.Err()
		}
		s.log.Warn().Err(err).Msg("Pre-recording scan failed, using last known device")
	}

	dev := st.Current
	if !dev.Valid() {
		s.transition(EventFail)
		return audio.ErrNoDeviceAvailable
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		stream, err := s.open(ctx, dev)
		if err == nil {
			s.bind(stream)
			s.transition(EventOpened)
			s.log.Info().Str("device", dev.Name).Int("index", int(dev.Index)).Int("attempt", attempt).Msg("Recording started")
			return nil
		}

		lastErr = err
		related := audio.IsDeviceRelated(err)
		s.log.Error().Err(err).
			Str("device", dev.Name).
			Int("attempt", attempt).
			Bool("device_related", related).
			Msg("Failed to open capture stream")

		if ctx.Err() != nil {
			s.transition(EventAbort)
			return ctx.Err()
		}
		if !related || attempt == s.maxAttempts {
			break
		}

		next, ferr := s.mon.Fallback(ctx, dev)
		if ferr != nil {
			lastErr = fmt.Errorf("%w (fallback: %w)", err, ferr)
			break
		}
		s.log.Warn().Str("from", dev.Name).Str("to", next.Name).Msg("Falling back to another microphone")
		dev = next
	}

	s.transition(EventFail)
	return fmt.Errorf("start recording: %w", lastErr)
}

func (s *Session) open(ctx context.Context, dev audio.Device) (audio.Stream, error) {
	stream, err := s.opener.Open(ctx, dev, s.cfg)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		var se *audio.StreamOpenError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &audio.StreamOpenError{Device: dev, DeviceRelated: audio.LooksDeviceRelated(err.Error()), Err: err}
	}
	return stream, nil
}

func (s *Session) bind(stream audio.Stream) {
	s.stream = stream
	s.bound = stream.Device()
	s.buf = audio.NewBuffer(s.cfg.SampleRate, 30)
	s.drained = make(chan struct{})
	s.unpin = s.mon.Pin()

	buf, drained := s.buf, s.drained
	go func() {
		defer close(drained)
		for chunk := range stream.Samples() {
			buf.Append(chunk)
		}
	}()
}

// End stops the stream and returns the captured audio. It returns a nil
// recording and no error when nothing was captured.
func (s *Session) End() (*audio.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return nil, ErrNotRecording
	}

	dev := s.bound
	samples := s.teardown()
	s.transition(EventStop)

	if len(samples) == 0 {
		s.log.Info().Str("device", dev.Name).Msg("Recording stopped with no audio")
		return nil, nil
	}
	rec := &audio.Recording{Samples: samples, SampleRate: s.cfg.SampleRate, Device: dev}
	s.log.Info().Str("device", dev.Name).Dur("duration", rec.Duration()).Msg("Recording stopped")
	return rec, nil
}

// Abort discards an in-progress recording.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.teardown()
	s.transition(EventAbort)
}

func (s *Session) teardown() []float32 {
	if err := s.stream.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stop capture stream")
	}
	<-s.drained
	if err := s.stream.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close capture stream")
	}
	s.unpin()

	samples := s.buf.Take()
	s.stream, s.buf, s.drained, s.unpin = nil, nil, nil, nil
	s.bound = audio.Device{Index: audio.NoDevice}
	return samples
}

// SwitchDevice makes idx the selected device. It is rejected while a
// session is arming or recording.
func (s *Session) SwitchDevice(ctx context.Context, idx audio.Index) (audio.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() {
		return audio.Device{}, ErrRecordingInProgress
	}
	dev, err := s.mon.Select(ctx, idx)
	if errors.Is(err, monitor.ErrSelectionPinned) {
		return dev, ErrRecordingInProgress
	}
	return dev, err
}

func (s *Session) transition(ev Event) {
	next, err := Transition(s.state, ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Recorder state machine rejected event")
		return
	}
	s.state = next
}
