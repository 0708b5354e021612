// Package portaudio implements the device catalog and capture streams on
// top of PortAudio.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/audio"
)

const framesPerBuffer = 512

// Host owns the PortAudio library state. PortAudio only notices hotplugged
// devices after Terminate/Initialize, which is unsafe while a stream is
// open, so the host tracks open streams and only re-initialises when none
// are live.
type Host struct {
	log zerolog.Logger

	mu     sync.Mutex
	inited bool
	open   int
}

// New initialises PortAudio.
func New(log zerolog.Logger) (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Host{log: log.With().Str("component", "portaudio").Logger(), inited: true}, nil
}

// Scan enumerates input devices. The PortAudio device index is used as the
// device Index.
func (h *Host) Scan(ctx context.Context) (audio.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return audio.Snapshot{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.open == 0 {
		if err := h.reinitLocked(); err != nil {
			return audio.Snapshot{}, &audio.DeviceQueryError{Backend: "portaudio", Err: err}
		}
	} else {
		h.log.Debug().Int("open_streams", h.open).Msg("Skipping re-init while streams are open")
	}

	infos, err := pa.Devices()
	if err != nil {
		return audio.Snapshot{}, &audio.DeviceQueryError{Backend: "portaudio", Err: err}
	}

	devs := make([]audio.Device, 0, len(infos))
	for i, d := range infos {
		devs = append(devs, audio.Device{
			Index:            audio.Index(i),
			Name:             d.Name,
			MaxInputChannels: d.MaxInputChannels,
		})
	}
	return audio.NewSnapshot(devs), nil
}

func (h *Host) reinitLocked() error {
	if h.inited {
		if err := pa.Terminate(); err != nil {
			h.log.Warn().Err(err).Msg("PortAudio terminate failed")
		}
		h.inited = false
	}
	if err := pa.Initialize(); err != nil {
		return err
	}
	h.inited = true
	return nil
}

// Open re-validates dev against the live device list and opens a blocking
// input stream on it.
func (h *Host) Open(ctx context.Context, dev audio.Device, cfg audio.StreamConfig) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	infos, err := pa.Devices()
	if err != nil {
		return nil, &audio.StreamOpenError{Device: dev, Err: &audio.DeviceQueryError{Backend: "portaudio", Err: err}}
	}
	i := int(dev.Index)
	if i < 0 || i >= len(infos) || infos[i].Name != dev.Name || infos[i].MaxInputChannels == 0 {
		return nil, &audio.StreamOpenError{
			Device:        dev,
			DeviceRelated: true,
			Err:           audio.ErrDeviceInvalidated,
		}
	}
	info := infos[i]

	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels > info.MaxInputChannels {
		channels = info.MaxInputChannels
	}

	buffer := make([]float32, framesPerBuffer*channels)
	stream, err := pa.OpenStream(pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, buffer)
	if err != nil {
		return nil, &audio.StreamOpenError{Device: dev, DeviceRelated: deviceRelated(err), Err: err}
	}

	h.open++
	return &captureStream{
		host:     h,
		dev:      dev,
		stream:   stream,
		buffer:   buffer,
		channels: channels,
		out:      make(chan []float32, 64),
		done:     make(chan struct{}),
	}, nil
}

// Close terminates PortAudio.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.inited {
		return nil
	}
	h.inited = false
	return pa.Terminate()
}

func (h *Host) release() {
	h.mu.Lock()
	h.open--
	h.mu.Unlock()
}

type captureStream struct {
	host     *Host
	dev      audio.Device
	stream   *pa.Stream
	buffer   []float32
	channels int
	out      chan []float32

	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
	closed   bool
}

func (s *captureStream) Device() audio.Device { return s.dev }

func (s *captureStream) Samples() <-chan []float32 { return s.out }

func (s *captureStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return &audio.StreamOpenError{Device: s.dev, DeviceRelated: deviceRelated(err), Err: err}
	}
	s.started = true

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

// readLoop reads blocking buffers until Stop and forwards mono copies.
func (s *captureStream) readLoop() {
	defer s.wg.Done()
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				s.host.log.Debug().Str("device", s.dev.Name).Msg("Input overflowed")
				continue
			}
			s.host.log.Error().Err(err).Str("device", s.dev.Name).Msg("Capture read failed")
			return
		}

		samples := audio.DownmixInterleaved(s.buffer, s.channels, framesPerBuffer)
		select {
		case s.out <- samples:
		case <-s.done:
			return
		}
	}
}

func (s *captureStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if !s.started {
			close(s.out)
			return
		}
		s.wg.Wait()
		err = s.stream.Stop()
	})
	return err
}

func (s *captureStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	stopErr := s.Stop()
	closeErr := s.stream.Close()
	s.host.release()
	return errors.Join(stopErr, closeErr)
}

// deviceRelated classifies PortAudio failures that point at the device.
func deviceRelated(err error) bool {
	switch {
	case errors.Is(err, pa.InvalidDevice),
		errors.Is(err, pa.DeviceUnavailable),
		errors.Is(err, pa.InvalidChannelCount),
		errors.Is(err, pa.BadIODeviceCombination):
		return true
	}
	var hostErr pa.UnanticipatedHostError
	if errors.As(err, &hostErr) {
		return true
	}
	return audio.LooksDeviceRelated(err.Error())
}
