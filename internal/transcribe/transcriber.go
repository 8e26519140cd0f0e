// Package transcribe keeps every speech-to-text call under the provider's
// payload ceiling by splitting and re-encoding oversized audio.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kiranshivaraju/subtitler/internal/config"
	"github.com/kiranshivaraju/subtitler/internal/media"
	"github.com/kiranshivaraju/subtitler/internal/stt"
)

// Separator joins per-segment transcripts.
const Separator = "\n\n"

// Splitter cuts audio into bounded-duration segments.
type Splitter interface {
	Split(ctx context.Context, file string, maxSeconds float64) ([]media.Segment, error)
}

// Reducer re-encodes audio at a lower bitrate.
type Reducer interface {
	Reduce(ctx context.Context, src, dst, bitrate string) error
}

type Options struct {
	CeilingBytes   int64
	SegmentSeconds float64
	ReducedBitrate string
	Language       string
}

// OptionsFromConfig maps the STT config section onto transcriber options.
func OptionsFromConfig(cfg config.STTConfig) Options {
	return Options{
		CeilingBytes:   cfg.CeilingBytes,
		SegmentSeconds: cfg.SegmentSeconds,
		ReducedBitrate: cfg.ReducedBitrate,
		Language:       cfg.Language,
	}
}

type Transcriber struct {
	recognizer stt.Recognizer
	splitter   Splitter
	reducer    Reducer
	opts       Options

	stat   func(name string) (os.FileInfo, error)
	remove func(name string) error
}

func New(recognizer stt.Recognizer, splitter Splitter, reducer Reducer, opts Options) *Transcriber {
	return NewForTests(recognizer, splitter, reducer, opts, os.Stat, os.Remove)
}

// NewForTests constructs a transcriber with injectable file-system functions.
func NewForTests(
	recognizer stt.Recognizer,
	splitter Splitter,
	reducer Reducer,
	opts Options,
	stat func(name string) (os.FileInfo, error),
	remove func(name string) error,
) *Transcriber {
	return &Transcriber{
		recognizer: recognizer,
		splitter:   splitter,
		reducer:    reducer,
		opts:       opts,
		stat:       stat,
		remove:     remove,
	}
}

// Transcribe returns the text of file. The caller owns file; every
// intermediate file created here is removed before returning.
func (t *Transcriber) Transcribe(ctx context.Context, file string) (string, error) {
	size, err := t.size(file)
	if err != nil {
		return "", err
	}
	if size <= t.opts.CeilingBytes {
		return t.recognize(ctx, file)
	}

	slog.Info("audio over ceiling, splitting",
		"file", file, "bytes", size, "ceiling", t.opts.CeilingBytes)

	segments, err := t.splitter.Split(ctx, file, t.opts.SegmentSeconds)
	if err != nil {
		return "", fmt.Errorf("split: %w", err)
	}

	texts := make([]string, 0, len(segments))
	for i, seg := range segments {
		text, err := t.transcribeSegment(ctx, seg)
		if err != nil {
			t.discard(segments[i+1:])
			return "", fmt.Errorf("segment %d of %d: %w", i+1, len(segments), err)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, Separator), nil
}

// transcribeSegment sends one segment, re-encoding it once if it is still
// over the ceiling. The segment and its reduced copy are removed on return.
func (t *Transcriber) transcribeSegment(ctx context.Context, seg media.Segment) (string, error) {
	if seg.Temporary {
		defer t.removeQuietly(seg.Path)
	}

	size, err := t.size(seg.Path)
	if err != nil {
		return "", err
	}
	if size <= t.opts.CeilingBytes {
		return t.recognize(ctx, seg.Path)
	}

	small := strings.TrimSuffix(seg.Path, ".mp3") + "_small.mp3"
	defer t.removeQuietly(small)

	if err := t.reducer.Reduce(ctx, seg.Path, small, t.opts.ReducedBitrate); err != nil {
		return "", fmt.Errorf("reduce bitrate: %w", err)
	}
	if reduced, err := t.size(small); err == nil && reduced > t.opts.CeilingBytes {
		slog.Warn("reduced segment still over ceiling", "file", small, "bytes", reduced)
	}
	return t.recognize(ctx, small)
}

func (t *Transcriber) recognize(ctx context.Context, file string) (string, error) {
	text, err := t.recognizer.Recognize(ctx, file, t.opts.Language)
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.recognizer.Name(), err)
	}
	return text, nil
}

func (t *Transcriber) size(file string) (int64, error) {
	info, err := t.stat(file)
	if err != nil {
		return 0, fmt.Errorf("stat audio: %w", err)
	}
	return info.Size(), nil
}

func (t *Transcriber) discard(segments []media.Segment) {
	for _, seg := range segments {
		if seg.Temporary {
			t.removeQuietly(seg.Path)
		}
	}
}

func (t *Transcriber) removeQuietly(path string) {
	if err := t.remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove intermediate audio failed", "path", path, "error", err)
	}
}
