// Package inject places transcribed text into the focused application.
package inject

import (
	"context"
	"errors"
)

// ErrPasteUnavailable means the paste chord could not be sent. The text is
// left on the clipboard for the user to paste by hand.
var ErrPasteUnavailable = errors.New("paste unavailable, text left on clipboard")

// Injector defines the interface for text injection
type Injector interface {
	Paste(ctx context.Context, text string) error
}

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// Keyboard sends the platform paste chord.
type Keyboard interface {
	PasteChord() error
}
