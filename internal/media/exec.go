// Package media wraps the external audio tools: ffprobe for inspection and
// ffmpeg for normalization, segment extraction and bitrate reduction.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrToolTimeout is returned when an external tool exceeds its time budget.
var ErrToolTimeout = errors.New("external tool timed out")

// CommandResult is the captured output of one process execution.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// CommandError describes a failed external command.
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited %d", e.Command, e.ExitCode)
	if tail := stderrTail(e.Stderr); tail != "" {
		msg += ": " + tail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// RunTool runs one command under its own timeout. A deadline hit is reported
// as ErrToolTimeout so callers can tell it from an ordinary tool failure.
func RunTool(ctx context.Context, r Runner, timeout time.Duration, name string, args ...string) (CommandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := r.Run(ctx, name, args...)
	if err == nil {
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrToolTimeout, timeout)
	}
	return res, &CommandError{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
		Err:      err,
	}
}

// stderrTail keeps the last non-empty line of tool output, which is where
// ffmpeg and yt-dlp put the actual error.
func stderrTail(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
