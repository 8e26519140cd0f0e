package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Transcoder drives ffmpeg in the three shapes the pipeline needs.
type Transcoder struct {
	runner           Runner
	path             string
	transcodeTimeout time.Duration
	splitTimeout     time.Duration

	stat func(name string) (os.FileInfo, error)
}

func NewTranscoder(runner Runner, ffmpegPath string, transcodeTimeout, splitTimeout time.Duration) *Transcoder {
	return &Transcoder{
		runner:           runner,
		path:             ffmpegPath,
		transcodeTimeout: transcodeTimeout,
		splitTimeout:     splitTimeout,
		stat:             os.Stat,
	}
}

// NewTranscoderForTests constructs a transcoder with an injectable stat.
func NewTranscoderForTests(runner Runner, ffmpegPath string, stat func(string) (os.FileInfo, error)) *Transcoder {
	return &Transcoder{
		runner:           runner,
		path:             ffmpegPath,
		transcodeTimeout: time.Minute,
		splitTimeout:     time.Minute,
		stat:             stat,
	}
}

// Normalize converts src to a high quality mp3 at dst, dropping any video
// stream. Sources that are already mp3 are copied byte for byte, or left
// alone when src and dst are the same file.
func (t *Transcoder) Normalize(ctx context.Context, src, dst string) error {
	if strings.EqualFold(filepath.Ext(src), ".mp3") {
		if filepath.Clean(src) == filepath.Clean(dst) {
			return nil
		}
		return copyFile(src, dst)
	}
	args := append(baseArgs(src), "-vn", "-acodec", "libmp3lame", "-q:a", "2", dst)
	return t.encode(ctx, t.transcodeTimeout, dst, args)
}

// Segment extracts [start, start+length) of src into dst. A window running
// past the end of the input is clamped by ffmpeg.
func (t *Transcoder) Segment(ctx context.Context, src, dst string, start, length float64) error {
	args := append(baseArgs(src),
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-acodec", "libmp3lame", "-q:a", "4",
		dst,
	)
	return t.encode(ctx, t.splitTimeout, dst, args)
}

// Reduce re-encodes src at a fixed bitrate such as "64k".
func (t *Transcoder) Reduce(ctx context.Context, src, dst, bitrate string) error {
	args := append(baseArgs(src), "-acodec", "libmp3lame", "-b:a", bitrate, dst)
	return t.encode(ctx, t.splitTimeout, dst, args)
}

func (t *Transcoder) encode(ctx context.Context, timeout time.Duration, dst string, args []string) error {
	if _, err := RunTool(ctx, t.runner, timeout, t.path, args...); err != nil {
		return err
	}
	info, err := t.stat(dst)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output at %s: %w", dst, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced empty output at %s", dst)
	}
	return nil
}

func baseArgs(src string) []string {
	return []string{"-hide_banner", "-nostdin", "-y", "-i", src}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
