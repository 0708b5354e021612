//go:build !linux

package power

import (
	"time"

	"github.com/rs/zerolog"
)

// NewSource returns a clock-gap detector.
func NewSource(log zerolog.Logger) Source {
	return NewGapDetector(5*time.Second, 10*time.Second, log)
}
