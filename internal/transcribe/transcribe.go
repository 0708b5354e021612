// Package transcribe turns a recorded WAV file into text, either through the
// whisper.cpp command line tool or the OpenAI transcription API.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/config"
)

var (
	ErrNotFound      = errors.New("transcription engine not found")
	ErrTimeout       = errors.New("transcription timed out")
	ErrEmpty         = errors.New("transcription produced no text")
	ErrAPIKeyMissing = errors.New("OPENAI_API_KEY environment variable not set")
)

// ExitError reports a non-zero exit of the transcription process.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("transcription exited with code %d: %s", e.Code, Excerpt(e.Stderr, 200))
}

// Request describes one transcription job.
type Request struct {
	Path     string
	Timeout  time.Duration
	Threads  int
	Language string
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// New builds the engine named in cfg. apiKey is only used by the OpenAI
// engine.
func New(cfg config.TranscriberConfig, apiKey string, log zerolog.Logger) (Transcriber, error) {
	switch cfg.Engine {
	case config.EngineOpenAI:
		return NewOpenAI(apiKey, cfg.OpenAIModel, log)
	case config.EngineWhisperCLI, "":
		return NewWhisperCLI(cfg.Binary, ModelPath(config.ModelsPath(), cfg.Model), log), nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q", cfg.Engine)
	}
}

// RequestFor fills a Request from config for the file at path.
func RequestFor(cfg config.TranscriberConfig, path string) Request {
	return Request{
		Path:     path,
		Timeout:  cfg.Timeout(),
		Threads:  cfg.Threads,
		Language: cfg.Language,
	}
}

// Excerpt shortens s to at most n bytes for user-facing messages, cutting
// on a character boundary.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
