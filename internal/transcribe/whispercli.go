package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// runner executes a command and returns its stdout and stderr. Replaced in
// tests.
type runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// WhisperCLI runs the whisper.cpp command line tool once per request.
type WhisperCLI struct {
	binary string
	run    runner
	log    zerolog.Logger

	mu    sync.RWMutex
	model string
}

var _ Transcriber = (*WhisperCLI)(nil)

// NewWhisperCLI returns an engine invoking binary with the model file at
// modelPath.
func NewWhisperCLI(binary, modelPath string, log zerolog.Logger) *WhisperCLI {
	if binary == "" {
		binary = "whisper-cli"
	}
	return &WhisperCLI{
		binary: binary,
		model:  modelPath,
		run:    execRunner,
		log:    log.With().Str("component", "whisper-cli").Logger(),
	}
}

// SetModel points the engine at another model file.
func (w *WhisperCLI) SetModel(path string) {
	w.mu.Lock()
	w.model = path
	w.mu.Unlock()
}

// Model returns the model file in use.
func (w *WhisperCLI) Model() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.model
}

func (w *WhisperCLI) args(req Request) []string {
	args := []string{"-m", w.Model(), "-f", req.Path}
	if req.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(req.Threads))
	}
	if req.Language != "" {
		args = append(args, "-l", req.Language)
	}
	return append(args, "--no-timestamps")
}

// Transcribe runs whisper-cli and returns its trimmed stdout. The process is
// killed when the request timeout elapses.
func (w *WhisperCLI) Transcribe(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	w.log.Debug().Str("file", req.Path).Dur("timeout", req.Timeout).Int("threads", req.Threads).Msg("Transcribing")

	stdout, stderr, err := w.run(ctx, w.binary, w.args(req)...)
	if err != nil {
		switch {
		case timedOut(ctx):
			return "", fmt.Errorf("%w after %s", ErrTimeout, req.Timeout)
		case errors.Is(err, exec.ErrNotFound):
			return "", fmt.Errorf("%w: %s", ErrNotFound, w.binary)
		case ctx.Err() != nil:
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitError{Code: exitErr.ExitCode(), Stderr: string(stderr)}
		}
		return "", fmt.Errorf("run %s: %w", w.binary, err)
	}

	text := joinLines(string(stdout))
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func joinLines(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
