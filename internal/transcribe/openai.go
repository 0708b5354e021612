package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// audioTranscriber is implemented by *openai.Client.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

var _ audioTranscriber = (*openai.Client)(nil)

// OpenAI transcribes through the OpenAI audio API.
type OpenAI struct {
	client audioTranscriber
	model  string
	log    zerolog.Logger
}

var _ Transcriber = (*OpenAI)(nil)

// NewOpenAI creates an engine authenticated with apiKey.
func NewOpenAI(apiKey, model string, log zerolog.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyMissing
	}
	return newOpenAI(openai.NewClient(apiKey), model, log), nil
}

func newOpenAI(client audioTranscriber, model string, log zerolog.Logger) *OpenAI {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAI{
		client: client,
		model:  model,
		log:    log.With().Str("component", "openai").Logger(),
	}
}

// Transcribe uploads the file and returns the recognised text.
func (o *OpenAI) Transcribe(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	areq := openai.AudioRequest{
		Model:    o.model,
		FilePath: req.Path,
		Format:   openai.AudioResponseFormatText,
	}
	if req.Language != "" && req.Language != "auto" {
		areq.Language = req.Language
	}

	resp, err := o.client.CreateTranscription(ctx, areq)
	if err != nil {
		if timedOut(ctx) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, req.Timeout)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyError(err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ExitError{Code: apiErr.HTTPStatusCode, Stderr: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusGatewayTimeout {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return &ExitError{Code: reqErr.HTTPStatusCode, Stderr: err.Error()}
	}
	return fmt.Errorf("openai transcription: %w", err)
}
