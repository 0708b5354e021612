package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/petems/dictation-tray/internal/config"
)

type call struct {
	name string
	args []string
}

func fakeRunner(stdout, stderr string, err error, calls *[]call) runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		return []byte(stdout), []byte(stderr), err
	}
}

func TestWhisperCLIArgsAndOutput(t *testing.T) {
	var calls []call
	w := NewWhisperCLI("whisper-cli", "/models/base.en.bin", zerolog.Nop())
	w.run = fakeRunner("\n  Hello there.\n  General Kenobi.  \n", "", nil, &calls)

	text, err := w.Transcribe(context.Background(), Request{Path: "/tmp/a.wav", Threads: 4, Timeout: time.Second})
	require.NoError(t, err)
	require.Equal(t, "Hello there. General Kenobi.", text)

	require.Len(t, calls, 1)
	require.Equal(t, "whisper-cli", calls[0].name)
	require.Equal(t, []string{"-m", "/models/base.en.bin", "-f", "/tmp/a.wav", "-t", "4", "--no-timestamps"}, calls[0].args)
}

func TestWhisperCLIPassesLanguage(t *testing.T) {
	var calls []call
	w := NewWhisperCLI("", "m.bin", zerolog.Nop())
	w.run = fakeRunner("hola", "", nil, &calls)

	_, err := w.Transcribe(context.Background(), Request{Path: "a.wav", Language: "es"})
	require.NoError(t, err)
	require.Equal(t, "whisper-cli", calls[0].name)
	require.Equal(t, []string{"-m", "m.bin", "-f", "a.wav", "-l", "es", "--no-timestamps"}, calls[0].args)
}

func TestWhisperCLISetModel(t *testing.T) {
	var calls []call
	w := NewWhisperCLI("whisper-cli", "base.bin", zerolog.Nop())
	w.run = fakeRunner("ok", "", nil, &calls)

	w.SetModel("/models/small.en.bin")
	require.Equal(t, "/models/small.en.bin", w.Model())

	_, err := w.Transcribe(context.Background(), Request{Path: "a.wav"})
	require.NoError(t, err)
	require.Equal(t, "/models/small.en.bin", calls[0].args[1])
}

func TestWhisperCLIEmptyOutput(t *testing.T) {
	var calls []call
	w := NewWhisperCLI("whisper-cli", "m.bin", zerolog.Nop())
	w.run = fakeRunner("  \n\n", "", nil, &calls)

	_, err := w.Transcribe(context.Background(), Request{Path: "a.wav"})
	require.ErrorIs(t, err, ErrEmpty)
}

func TestWhisperCLIMissingBinary(t *testing.T) {
	var calls []call
	w := NewWhisperCLI("/nope/whisper-cli", "m.bin", zerolog.Nop())
	w.run = fakeRunner("", "", &exec.Error{Name: "/nope/whisper-cli", Err: exec.ErrNotFound}, &calls)

	_, err := w.Transcribe(context.Background(), Request{Path: "a.wav"})
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "/nope/whisper-cli")
}

func TestWhisperCLITimeout(t *testing.T) {
	w := NewWhisperCLI("whisper-cli", "m.bin", zerolog.Nop())
	w.run = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, errors.New("signal: killed")
	}

	_, err := w.Transcribe(context.Background(), Request{Path: "a.wav", Timeout: 10 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestWhisperCLIExitError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	w := NewWhisperCLI("sh", "m.bin", zerolog.Nop())
	w.run = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return execRunner(ctx, "sh", "-c", "echo 'failed to load model' >&2; exit 3")
	}

	_, err := w.Transcribe(context.Background(), Request{Path: "a.wav"})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.Code)
	require.Contains(t, exitErr.Stderr, "failed to load model")
}

func TestExcerpt(t *testing.T) {
	require.Equal(t, "abc", Excerpt("  abc \n", 10))
	require.Equal(t, "ab...", Excerpt("abcdef", 2))
	require.Equal(t, "h...", Excerpt("héllo", 2))
	require.Equal(t, "hé...", Excerpt("héllo", 3))
	require.True(t, utf8.ValidString(Excerpt("日本語のテキスト", 4)))
}

type fakeAudioClient struct {
	req  openai.AudioRequest
	resp openai.AudioResponse
	err  error
	wait bool
}

func (f *fakeAudioClient) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.req = req
	if f.wait {
		<-ctx.Done()
		return openai.AudioResponse{}, ctx.Err()
	}
	return f.resp, f.err
}

func TestOpenAITranscribe(t *testing.T) {
	client := &fakeAudioClient{resp: openai.AudioResponse{Text: " hello world \n"}}
	o := newOpenAI(client, "", zerolog.Nop())

	text, err := o.Transcribe(context.Background(), Request{Path: "a.wav", Language: "auto"})
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
	require.Equal(t, openai.Whisper1, client.req.Model)
	require.Equal(t, "a.wav", client.req.FilePath)
	require.Empty(t, client.req.Language)
}

func TestOpenAIEmptyAndErrors(t *testing.T) {
	o := newOpenAI(&fakeAudioClient{}, "whisper-1", zerolog.Nop())
	_, err := o.Transcribe(context.Background(), Request{Path: "a.wav"})
	require.ErrorIs(t, err, ErrEmpty)

	o = newOpenAI(&fakeAudioClient{err: &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}}, "whisper-1", zerolog.Nop())
	_, err = o.Transcribe(context.Background(), Request{Path: "a.wav"})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 401, exitErr.Code)

	o = newOpenAI(&fakeAudioClient{wait: true}, "whisper-1", zerolog.Nop())
	_, err = o.Transcribe(context.Background(), Request{Path: "a.wav", Timeout: 10 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestNewSelectsEngine(t *testing.T) {
	cfg := config.Default().Transcriber

	tr, err := New(cfg, "", zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &WhisperCLI{}, tr)

	cfg.Engine = config.EngineOpenAI
	_, err = New(cfg, "", zerolog.Nop())
	require.ErrorIs(t, err, ErrAPIKeyMissing)

	tr, err = New(cfg, "sk-test", zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &OpenAI{}, tr)

	cfg.Engine = "vosk"
	_, err = New(cfg, "", zerolog.Nop())
	require.Error(t, err)
}

func TestModelPath(t *testing.T) {
	require.Equal(t, filepath.Join("models", "base.en.bin"), ModelPath("models", "base.en"))
	require.Equal(t, "custom.bin", ModelPath("models", "custom.bin"))
	abs := filepath.Join(string(os.PathSeparator)+"opt", "ggml-small")
	require.Equal(t, abs, ModelPath("models", abs))
}

func TestDownloaderEnsure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/base.en" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "model-bytes")
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(zerolog.Nop())
	d.client = srv.Client()
	d.urls = map[string]string{"base.en": srv.URL + "/base.en", "tiny": srv.URL + "/tiny"}

	path, err := d.Ensure(context.Background(), dir, "base.en")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "model-bytes", string(data))
	require.NoFileExists(t, path+".tmp")

	_, err = d.Ensure(context.Background(), dir, "tiny")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "HTTP 404"))

	_, err = d.Ensure(context.Background(), dir, "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDownloaderSkipsExistingModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.en.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	d := NewDownloader(zerolog.Nop())
	d.urls = nil

	got, err := d.Ensure(context.Background(), dir, "base.en")
	require.NoError(t, err)
	require.Equal(t, path, got)
}
