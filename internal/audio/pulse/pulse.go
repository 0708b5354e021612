// Package pulse implements the device catalog and capture streams against a
// PulseAudio (or PipeWire-pulse) server.
package pulse

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/audio"
)

const chunkSizeBytes = 1024

// Backend lists Pulse sources and records from them. Each scan and each
// stream uses its own client connection so a restarted server is picked up
// on the next call.
type Backend struct {
	appName string
	log     zerolog.Logger
}

// New returns a Pulse backend identifying itself as appName.
func New(appName string, log zerolog.Logger) *Backend {
	return &Backend{appName: appName, log: log.With().Str("component", "pulse").Logger()}
}

func (b *Backend) connect() (*pulse.Client, error) {
	return pulse.NewClient(
		pulse.ClientApplicationName(b.appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
}

// Scan lists capture sources, skipping monitors of output sinks. The Pulse
// source index is used as the device Index.
func (b *Backend) Scan(ctx context.Context) (audio.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return audio.Snapshot{}, err
	}

	client, err := b.connect()
	if err != nil {
		return audio.Snapshot{}, &audio.DeviceQueryError{Backend: "pulse", Err: err}
	}
	defer client.Close()

	var sources proto.GetSourceInfoListReply
	if err := client.RawRequest(&proto.GetSourceInfoList{}, &sources); err != nil {
		return audio.Snapshot{}, &audio.DeviceQueryError{Backend: "pulse", Err: err}
	}

	devs := make([]audio.Device, 0, len(sources))
	for _, src := range sources {
		if src == nil || src.MonitorSourceIndex != proto.Undefined {
			continue
		}
		devs = append(devs, audio.Device{
			Index:            audio.Index(src.SourceIndex),
			Name:             sourceName(src),
			MaxInputChannels: int(src.Channels),
		})
	}
	return audio.NewSnapshot(devs), nil
}

// sourceName prefers the human readable description.
func sourceName(src *proto.GetSourceInfoReply) string {
	if src.Properties != nil {
		if desc, ok := src.Properties["device.description"]; ok && desc.String() != "" {
			return desc.String()
		}
	}
	if src.Device != "" {
		return src.Device
	}
	return src.SourceName
}

// Open re-resolves dev by index, checks its name and starts a mono
// signed 16-bit record stream.
func (b *Backend) Open(ctx context.Context, dev audio.Device, cfg audio.StreamConfig) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := b.connect()
	if err != nil {
		return nil, &audio.StreamOpenError{Device: dev, Err: fmt.Errorf("connect pulse server: %w", err)}
	}

	var info proto.GetSourceInfoReply
	err = client.RawRequest(&proto.GetSourceInfo{SourceIndex: uint32(dev.Index)}, &info)
	if err != nil || sourceName(&info) != dev.Name {
		client.Close()
		return nil, &audio.StreamOpenError{Device: dev, DeviceRelated: true, Err: audio.ErrDeviceInvalidated}
	}

	source, err := client.SourceByID(info.SourceName)
	if err != nil {
		client.Close()
		return nil, &audio.StreamOpenError{Device: dev, DeviceRelated: true, Err: fmt.Errorf("resolve source %q: %w", info.SourceName, err)}
	}

	s := &captureStream{
		dev:    dev,
		client: client,
		out:    make(chan []float32, 128),
		stopCh: make(chan struct{}),
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(s.onPCM), proto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(rate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("dictation"),
	)
	if err != nil {
		client.Close()
		return nil, &audio.StreamOpenError{Device: dev, DeviceRelated: audio.LooksDeviceRelated(err.Error()), Err: err}
	}
	s.stream = stream
	return s, nil
}

type captureStream struct {
	dev    audio.Device
	client *pulse.Client
	stream *pulse.RecordStream

	out    chan []float32
	stopCh chan struct{}

	mu       sync.Mutex
	stopped  bool
	closed   bool
	inflight sync.WaitGroup
	pending  []byte
}

func (s *captureStream) Device() audio.Device { return s.dev }

func (s *captureStream) Samples() <-chan []float32 { return s.out }

func (s *captureStream) Start() error {
	s.stream.Start()
	if err := s.stream.Error(); err != nil {
		return &audio.StreamOpenError{Device: s.dev, DeviceRelated: true, Err: err}
	}
	return nil
}

// onPCM converts whole samples and forwards them. An odd trailing byte is
// kept for the next callback.
func (s *captureStream) onPCM(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.inflight.Add(1)
	s.pending = append(s.pending, buf...)
	whole := len(s.pending) &^ 1
	samples := audio.Int16ToFloat32(s.pending[:whole])
	s.pending = append(s.pending[:0], s.pending[whole:]...)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case s.out <- samples:
	case <-s.stopCh:
		return 0, io.EOF
	}
	return len(buf), nil
}

func (s *captureStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.stream.Stop()
	s.inflight.Wait()
	close(s.out)
	return nil
}

func (s *captureStream) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Close()
	s.client.Close()
	return nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
