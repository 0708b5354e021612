// Package audiotest provides in-memory catalog and stream fakes.
package audiotest

import (
	"context"
	"sync"

	"github.com/petems/dictation-tray/internal/audio"
)

// Devices builds input devices named names, indexed by position.
func Devices(names ...string) []audio.Device {
	out := make([]audio.Device, len(names))
	for i, n := range names {
		out[i] = audio.Device{Index: audio.Index(i), Name: n, MaxInputChannels: 1}
	}
	return out
}

// Catalog is a scripted audio.Catalog.
type Catalog struct {
	mu      sync.Mutex
	devices []audio.Device
	err     error
	scans   int
	gate    chan struct{}
	entered chan struct{}
}

// NewCatalog returns a catalog that reports devs.
func NewCatalog(devs ...audio.Device) *Catalog {
	return &Catalog{devices: devs}
}

// Set replaces the devices reported by later scans.
func (c *Catalog) Set(devs ...audio.Device) {
	c.mu.Lock()
	c.devices = devs
	c.mu.Unlock()
}

// Fail makes later scans return err until cleared with Fail(nil).
func (c *Catalog) Fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Block makes the next scans wait until Release is called. Entered
// receives once per blocked scan.
func (c *Catalog) Block() (entered <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
	c.entered = make(chan struct{}, 16)
	return c.entered
}

// Release unblocks scans held by Block.
func (c *Catalog) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate != nil {
		close(c.gate)
		c.gate = nil
	}
}

// Scans returns the number of completed or in-flight scans.
func (c *Catalog) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

func (c *Catalog) Scan(ctx context.Context) (audio.Snapshot, error) {
	c.mu.Lock()
	c.scans++
	gate, entered := c.gate, c.entered
	c.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return audio.Snapshot{}, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return audio.Snapshot{}, &audio.DeviceQueryError{Backend: "fake", Err: c.err}
	}
	return audio.NewSnapshot(c.devices), nil
}

// Opener is a scripted audio.Opener.
type Opener struct {
	mu       sync.Mutex
	failures map[audio.Index]error
	opened   []audio.Device
	streams  []*Stream
	chunks   [][]float32
}

// NewOpener returns an opener whose streams emit chunks on Start.
func NewOpener(chunks ...[]float32) *Opener {
	return &Opener{failures: map[audio.Index]error{}, chunks: chunks}
}

// FailOn makes opening idx return err.
func (o *Opener) FailOn(idx audio.Index, err error) {
	o.mu.Lock()
	o.failures[idx] = err
	o.mu.Unlock()
}

// Opened returns the devices Open was called with, in order.
func (o *Opener) Opened() []audio.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]audio.Device(nil), o.opened...)
}

// Streams returns the streams handed out so far.
func (o *Opener) Streams() []*Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Stream(nil), o.streams...)
}

func (o *Opener) Open(_ context.Context, dev audio.Device, _ audio.StreamConfig) (audio.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, dev)
	if err := o.failures[dev.Index]; err != nil {
		return nil, err
	}
	s := &Stream{dev: dev, chunks: o.chunks, out: make(chan []float32, len(o.chunks)+1)}
	o.streams = append(o.streams, s)
	return s, nil
}

// Stream is a fake capture stream.
type Stream struct {
	mu      sync.Mutex
	dev     audio.Device
	chunks  [][]float32
	out     chan []float32
	started bool
	stopped bool
	closed  bool
}

func (s *Stream) Device() audio.Device { return s.dev }

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	for _, c := range s.chunks {
		s.out <- c
	}
	return nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.out)
	}
	return nil
}

func (s *Stream) Samples() <-chan []float32 { return s.out }

func (s *Stream) Close() error {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
