package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// ErrEmptyRecording is returned when there is nothing to write.
var ErrEmptyRecording = errors.New("recording has no samples")

// WriteTempWAV writes rec as 16-bit mono PCM into dir (os.TempDir when
// empty) and returns the file path. The caller removes the file.
func WriteTempWAV(dir string, rec *Recording) (string, error) {
	if rec == nil || len(rec.Samples) == 0 {
		return "", ErrEmptyRecording
	}
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "dictation-"+uuid.NewString()+".wav")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create wav: %w", err)
	}

	if err := encodeWAV(f, rec); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close wav: %w", err)
	}
	return path, nil
}

func encodeWAV(f *os.File, rec *Recording) error {
	enc := wav.NewEncoder(f, rec.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  rec.SampleRate,
		},
		Data:           make([]int, len(rec.Samples)),
		SourceBitDepth: 16,
	}
	for i, s := range rec.Samples {
		buf.Data[i] = floatToInt16(s)
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

func floatToInt16(s float32) int {
	v := math.Round(float64(s) * 32767)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int(v)
}
