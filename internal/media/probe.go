package media

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// Prober reads media durations with ffprobe.
type Prober struct {
	runner  Runner
	path    string
	timeout time.Duration
}

func NewProber(runner Runner, ffprobePath string, timeout time.Duration) *Prober {
	return &Prober{runner: runner, path: ffprobePath, timeout: timeout}
}

// Duration returns the length of the file in seconds. Any failure yields 0,
// which callers must treat as unknown.
func (p *Prober) Duration(ctx context.Context, file string) float64 {
	res, err := RunTool(ctx, p.runner, p.timeout, p.path,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		file,
	)
	if err != nil {
		slog.Warn("probe failed", "file", file, "error", err)
		return 0
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		slog.Warn("probe returned no usable duration", "file", file, "output", strings.TrimSpace(res.Stdout))
		return 0
	}
	return d
}
