package audio

import "sync"

// Buffer accumulates captured samples. It is safe for one writer and
// concurrent readers.
type Buffer struct {
	mu      sync.Mutex
	samples []float32
}

// NewBuffer preallocates room for seconds of audio at rate.
func NewBuffer(rate, seconds int) *Buffer {
	return &Buffer{samples: make([]float32, 0, rate*seconds)}
}

// Append copies chunk into the buffer.
func (b *Buffer) Append(chunk []float32) {
	b.mu.Lock()
	b.samples = append(b.samples, chunk...)
	b.mu.Unlock()
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Take returns the buffered samples and resets the buffer.
func (b *Buffer) Take() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.samples
	b.samples = nil
	return out
}

// DownmixInterleaved averages interleaved multi-channel frames to mono.
// Mono input is copied so callers may reuse their read buffer.
func DownmixInterleaved(in []float32, channels, frames int) []float32 {
	if channels <= 1 {
		out := make([]float32, frames)
		copy(out, in[:frames])
		return out
	}
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		base := f * channels
		for c := 0; c < channels; c++ {
			sum += in[base+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// Int16ToFloat32 converts little-endian signed 16-bit PCM to float32.
func Int16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(v) / 32768
	}
	return out
}
