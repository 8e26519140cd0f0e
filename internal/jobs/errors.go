package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrQueueFull       = errors.New("job queue is full")
	ErrRunnerClosed    = errors.New("job runner is shut down")
	ErrEmptyTranscript = errors.New("transcription returned no text")
)

// MaxReasonRunes bounds the failure reason stored on a job, counted in
// characters so non-Latin messages keep their full length.
const MaxReasonRunes = 200

type Stage string

const (
	StageAcquire    Stage = "acquire"
	StageNormalize  Stage = "normalize"
	StageTranscribe Stage = "transcribe"
	StagePersist    Stage = "persist"
)

// StageError tags a pipeline failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// FailureReason is the human readable reason stored on a failed job.
func FailureReason(err error) string {
	if err == nil {
		return "unknown error"
	}
	return truncateRunes(err.Error(), MaxReasonRunes)
}

// truncateRunes keeps the first n runes of s.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
