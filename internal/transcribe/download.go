package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Model download URLs (Hugging Face)
var modelURLs = map[string]string{
	"base.en":        "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin",
	"small.en":       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.en.bin",
	"medium.en":      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.en.bin",
	"large-v3":       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
	"large-v3-turbo": "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo.bin",
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ModelPath maps a model name such as "base.en" to its file under dir.
// Values that already look like a file path are returned unchanged.
func ModelPath(dir, model string) string {
	if strings.ContainsRune(model, os.PathSeparator) || strings.HasSuffix(model, ".bin") {
		return model
	}
	return filepath.Join(dir, model+".bin")
}

// Downloader fetches whisper.cpp models on first use.
type Downloader struct {
	client httpDoer
	urls   map[string]string
	log    zerolog.Logger
}

// NewDownloader returns a Downloader using the default HTTP client.
func NewDownloader(log zerolog.Logger) *Downloader {
	return &Downloader{
		client: http.DefaultClient,
		urls:   modelURLs,
		log:    log.With().Str("component", "models").Logger(),
	}
}

// Ensure returns the local path for model, downloading it into dir when it
// is a known model that is not present yet.
func (d *Downloader) Ensure(ctx context.Context, dir, model string) (string, error) {
	path := ModelPath(dir, model)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat model: %w", err)
	}

	url, ok := d.urls[model]
	if !ok {
		return "", fmt.Errorf("%w: model %q is not at %s and has no download URL", ErrNotFound, model, path)
	}
	if err := d.download(ctx, model, url, path); err != nil {
		return "", err
	}
	return path, nil
}

// progressWriter logs download progress at most every 2 seconds.
type progressWriter struct {
	total      int64
	downloaded int64
	lastLog    time.Time
	model      string
	log        zerolog.Logger
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.downloaded += int64(n)

	now := time.Now()
	if now.Sub(pw.lastLog) >= 2*time.Second || pw.downloaded >= pw.total {
		pw.lastLog = now
		pw.log.Info().
			Str("model", pw.model).
			Float64("percent", float64(pw.downloaded)/float64(pw.total)*100).
			Float64("downloaded_mb", float64(pw.downloaded)/1024/1024).
			Float64("total_mb", float64(pw.total)/1024/1024).
			Msg("Downloading model")
	}

	return n, nil
}

func (d *Downloader) download(ctx context.Context, model, url, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	d.log.Info().Str("model", model).Str("url", url).Msg("Starting model download")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download model: HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	var writer io.Writer = out
	if resp.ContentLength > 0 {
		writer = io.MultiWriter(out, &progressWriter{
			total:   resp.ContentLength,
			model:   model,
			lastLog: time.Now(),
			log:     d.log,
		})
	} else {
		d.log.Warn().Str("model", model).Msg("Content-Length not provided, progress tracking unavailable")
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to move model file: %w", err)
	}

	d.log.Info().Str("model", model).Str("path", destPath).Msg("Model downloaded successfully")
	return nil
}
