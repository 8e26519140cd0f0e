// Package acquire produces a local media file for a job, either by fetching a
// remote link with yt-dlp or by checking an uploaded working copy.
package acquire

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

// UntitledPlaceholder is the title used when metadata cannot be resolved.
const UntitledPlaceholder = "Untitled"

// ErrNoAudio is returned when an acquisition finishes without a usable file.
var ErrNoAudio = errors.New("no media file produced")

// Remote fetches media for remote links.
type Remote interface {
	ResolveTitle(ctx context.Context, sourceRef string) string
	Fetch(ctx context.Context, sourceRef, destBase string) (string, error)
}

// YTDLP implements Remote with the yt-dlp command line tool.
type YTDLP struct {
	runner          media.Runner
	path            string
	titleTimeout    time.Duration
	downloadTimeout time.Duration
}

func NewYTDLP(runner media.Runner, tools config.ToolsConfig) *YTDLP {
	return &YTDLP{
		runner:          runner,
		path:            tools.YTDLPPath,
		titleTimeout:    tools.ProbeTimeout,
		downloadTimeout: tools.DownloadTimeout,
	}
}

// ResolveTitle is best-effort: any failure yields UntitledPlaceholder.
func (y *YTDLP) ResolveTitle(ctx context.Context, sourceRef string) string {
	res, err := media.RunTool(ctx, y.runner, y.titleTimeout, y.path,
		"--skip-download", "--no-playlist", "--no-warnings",
		"--print", "title",
		sourceRef,
	)
	if err != nil {
		slog.Warn("resolve title failed", "source", sourceRef, "error", err)
		return UntitledPlaceholder
	}
	title := strings.TrimSpace(lastLine(res.Stdout))
	if title == "" {
		return UntitledPlaceholder
	}
	return title
}

// Fetch downloads the best audio stream to destBase plus whatever extension
// the site serves, and returns the final path.
func (y *YTDLP) Fetch(ctx context.Context, sourceRef, destBase string) (string, error) {
	res, err := media.RunTool(ctx, y.runner, y.downloadTimeout, y.path,
		"-f", "bestaudio/best",
		"--no-playlist", "--no-progress", "--no-warnings",
		"-o", destBase+".%(ext)s",
		"--print", "after_move:filepath",
		sourceRef,
	)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", sourceRef, err)
	}

	path := strings.TrimSpace(lastLine(res.Stdout))
	if path == "" {
		return "", fmt.Errorf("download %s: %w", sourceRef, ErrNoAudio)
	}
	if err := CheckLocal(path); err != nil {
		return "", fmt.Errorf("download %s: %w", sourceRef, err)
	}
	return path, nil
}

// CheckLocal verifies that path is a non-empty regular file.
func CheckLocal(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoAudio, err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty or not a regular file", ErrNoAudio, path)
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}

var _ Remote = (*YTDLP)(nil)
