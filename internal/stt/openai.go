package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/subtitler/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI calls an OpenAI-compatible /audio/transcriptions endpoint through
// the official SDK. Retries are disabled: a failed segment fails the job.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(cfg config.OpenAIConfig, timeout time.Duration) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: cfg.Model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Recognize(ctx context.Context, audioPath, language string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(o.model),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	res, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}
	return res.Text, nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, apiErr.StatusCode, msg)
		}
		return fmt.Errorf("%w: status %d: %s", ErrRejected, apiErr.StatusCode, msg)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

var _ Recognizer = (*OpenAI)(nil)
