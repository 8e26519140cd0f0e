// Package stt holds the speech-to-text providers. Every provider accepts one
// audio file per call; callers are responsible for keeping files under the
// configured payload ceiling.
package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/subtitler/internal/config"
	"github.com/kiranshivaraju/subtitler/internal/media"
)

var (
	ErrProviderUnavailable = errors.New("stt provider unavailable")
	ErrTimeout             = errors.New("stt request timeout")
	ErrRejected            = errors.New("stt provider rejected request")
)

// Recognizer turns one audio file into text.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, audioPath, language string) (string, error)
}

// NewRecognizer constructs the provider named by cfg.Provider.
// Called once at server startup.
func NewRecognizer(cfg config.STTConfig, tools config.ToolsConfig, runner media.Runner) (Recognizer, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.OpenAI, cfg.Timeout), nil
	case "whispercpp":
		return NewWhisperCPP(cfg.WhisperCPP, tools.FFmpegPath, cfg.Timeout, runner), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q: must be one of openai, whispercpp", cfg.Provider)
	}
}
