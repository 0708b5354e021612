package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/app"
	"github.com/petems/dictation-tray/internal/config"
	"github.com/petems/dictation-tray/internal/transcribe"
	"github.com/petems/dictation-tray/internal/ui"
)

// modelFetcher puts a named model on disk and returns its path.
type modelFetcher interface {
	Ensure(ctx context.Context, dir, model string) (string, error)
}

// modelLoader keeps the whisper-cli engine pointed at a downloaded copy of
// the configured model. It does nothing for other engines.
type modelLoader struct {
	engine *transcribe.WhisperCLI
	dl     modelFetcher
	dir    string
	exec   app.Executor
	notify ui.Notifier
	log    zerolog.Logger

	mu      sync.Mutex
	current string
	wg      sync.WaitGroup
}

func newModelLoader(stt transcribe.Transcriber, exec app.Executor, notify ui.Notifier, log zerolog.Logger) *modelLoader {
	engine, _ := stt.(*transcribe.WhisperCLI)
	return &modelLoader{
		engine: engine,
		dl:     transcribe.NewDownloader(log),
		dir:    config.ModelsPath(),
		exec:   exec,
		notify: notify,
		log:    log.With().Str("component", "models").Logger(),
	}
}

// load fetches model in the background and switches the engine to it once
// it is on disk. Repeated calls for the same model are ignored unless the
// previous attempt failed.
func (m *modelLoader) load(ctx context.Context, model string) {
	if m.engine == nil {
		return
	}
	m.mu.Lock()
	if model == m.current {
		m.mu.Unlock()
		return
	}
	m.current = model
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		path, err := m.dl.Ensure(ctx, m.dir, model)
		if err != nil {
			m.forget(model)
			if ctx.Err() != nil {
				return
			}
			m.log.Error().Err(err).Str("model", model).Msg("Model unavailable")
			m.post(ui.Notice{
				Title:   "Model Unavailable",
				Message: fmt.Sprintf("Could not load Whisper model %q:\n%v", model, err),
				Alert:   true,
			})
			return
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.current != model {
			return
		}
		m.engine.SetModel(path)
		m.log.Info().Str("model", model).Str("path", path).Msg("Model ready")
	}()
}

// forget clears model so the next load of it tries again.
func (m *modelLoader) forget(model string) {
	m.mu.Lock()
	if m.current == model {
		m.current = ""
	}
	m.mu.Unlock()
}

func (m *modelLoader) post(n ui.Notice) {
	err := m.exec.Post(func() {
		if err := m.notify.Notify(n); err != nil {
			m.log.Warn().Err(err).Msg("Failed to show notification")
		}
	})
	if err != nil {
		m.log.Debug().Err(err).Msg("Dropped notification")
	}
}

func (m *modelLoader) wait() {
	m.wg.Wait()
}
