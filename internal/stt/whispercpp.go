package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/subtitler/internal/config"
	"github.com/kiranshivaraju/subtitler/internal/media"
)

// WhisperCPP transcribes locally with a whisper.cpp binary. Input is first
// resampled to the mono 16 kHz PCM WAV whisper.cpp expects.
type WhisperCPP struct {
	binary     string
	model      string
	ffmpegPath string
	timeout    time.Duration
	runner     media.Runner
	remove     func(string) error
}

func NewWhisperCPP(cfg config.WhisperCPPConfig, ffmpegPath string, timeout time.Duration, runner media.Runner) *WhisperCPP {
	return &WhisperCPP{
		binary:     cfg.BinaryPath,
		model:      cfg.ModelPath,
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		runner:     runner,
		remove:     os.Remove,
	}
}

func (w *WhisperCPP) Name() string { return "whispercpp" }

func (w *WhisperCPP) Recognize(ctx context.Context, audioPath, language string) (string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	wav := strings.TrimSuffix(audioPath, ".mp3") + ".whisper.wav"
	defer func() {
		if err := w.remove(wav); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove whisper input failed", "path", wav, "error", err)
		}
	}()

	if _, err := w.runner.Run(ctx, w.ffmpegPath, buildResampleArgs(audioPath, wav)...); err != nil {
		return "", w.wrap(ctx, "resample", err)
	}

	res, err := w.runner.Run(ctx, w.binary, buildWhisperArgs(w.model, wav, language)...)
	if err != nil {
		return "", w.wrap(ctx, "whisper", fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr)))
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (w *WhisperCPP) wrap(ctx context.Context, step string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, step, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrRejected, step, err)
}

func buildResampleArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs prints plain text without timestamps to stdout.
func buildWhisperArgs(modelPath, audioPath, language string) []string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = "auto"
	}
	return []string{
		"-m", modelPath,
		"-f", audioPath,
		"-l", lang,
		"-nt",
		"-np",
	}
}

var _ Recognizer = (*WhisperCPP)(nil)
