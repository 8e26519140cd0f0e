// Package jobs runs transcription jobs: the per-job pipeline, its progress
// reporter and the bounded worker pool that executes it.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/acquire"
	"github.com/kiranshivaraju/subtitler/internal/notify"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

// Checkpoints written along the way. Uploads skip the title and download steps.
const (
	ProgressStarted     = 5
	ProgressTitled      = 10
	ProgressDownloading = 15
	ProgressAcquired    = 30
	ProgressNormalizing = 40
	ProgressNormalized  = 50
	ProgressTranscribe  = 60
	ProgressTranscribed = 95
	ProgressDone        = 100
)

// Task is one job handed to the pipeline. LocalPath is set for uploads and
// points at the working copy inside the download directory.
type Task struct {
	JobID     uuid.UUID
	Kind      models.SourceKind
	SourceRef string
	Title     string
	LocalPath string
}

// Executor runs one task to completion.
type Executor interface {
	Run(ctx context.Context, task Task)
}

type Normalizer interface {
	Normalize(ctx context.Context, src, dst string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, file string) (string, error)
}

type PipelineConfig struct {
	DownloadDir   string
	PublicURL     string
	NotifyTimeout time.Duration
}

// Pipeline takes a job from its source to a persisted transcript.
type Pipeline struct {
	store       store.Store
	reporter    Reporter
	remote      acquire.Remote
	normalizer  Normalizer
	transcriber Transcriber
	notifier    notify.Notifier
	cfg         PipelineConfig

	checkLocal func(path string) error
	glob       func(pattern string) ([]string, error)
	remove     func(path string) error
}

func NewPipeline(
	st store.Store,
	reporter Reporter,
	remote acquire.Remote,
	normalizer Normalizer,
	transcriber Transcriber,
	notifier notify.Notifier,
	cfg PipelineConfig,
) *Pipeline {
	return &Pipeline{
		store:       st,
		reporter:    reporter,
		remote:      remote,
		normalizer:  normalizer,
		transcriber: transcriber,
		notifier:    notifier,
		cfg:         cfg,
		checkLocal:  acquire.CheckLocal,
		glob:        filepath.Glob,
		remove:      os.Remove,
	}
}

// Run executes task and always leaves the job in a terminal state, unless
// the job record itself has gone away.
func (p *Pipeline) Run(ctx context.Context, task Task) {
	logger := slog.With("job_id", task.JobID, "source_kind", task.Kind)
	start := time.Now()
	title := task.Title

	// Set once the job reached a terminal status; a later panic must not
	// overwrite it.
	finalized := false

	defer p.cleanup(logger, task)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in pipeline", "error", r, "finalized", finalized)
			if finalized {
				return
			}
			p.fail(ctx, logger, task, title, fmt.Errorf("panic: %v", r))
		}
	}()

	text, err := p.execute(ctx, logger, task, &title)
	if err == nil {
		err = p.complete(ctx, task.JobID, text)
	}
	if err != nil {
		finalized = true
		p.fail(ctx, logger, task, title, err)
		return
	}
	finalized = true

	logger.Info("job completed",
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	p.notify(ctx, logger, p.message(notify.KindCompleted, task, title, ""))
}

func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, task Task, title *string) (string, error) {
	id := task.JobID
	p.reporter.Progress(ctx, id, ProgressStarted)

	var source string
	switch task.Kind {
	case models.SourceRemote:
		*title = p.remote.ResolveTitle(ctx, task.SourceRef)
		p.reporter.Title(ctx, id, *title, ProgressTitled)

		p.reporter.Progress(ctx, id, ProgressDownloading)
		path, err := p.remote.Fetch(ctx, task.SourceRef, filepath.Join(p.cfg.DownloadDir, id.String()+"_audio"))
		if err != nil {
			return "", stageErr(StageAcquire, err)
		}
		source = path
	case models.SourceUpload:
		if err := p.checkLocal(task.LocalPath); err != nil {
			return "", stageErr(StageAcquire, err)
		}
		source = task.LocalPath
	default:
		return "", stageErr(StageAcquire, fmt.Errorf("unknown source kind %q", task.Kind))
	}
	p.reporter.Progress(ctx, id, ProgressAcquired)
	logger.Info("source acquired", "path", source)

	p.reporter.Progress(ctx, id, ProgressNormalizing)
	audio := filepath.Join(p.cfg.DownloadDir, id.String()+".mp3")
	if err := p.normalizer.Normalize(ctx, source, audio); err != nil {
		return "", stageErr(StageNormalize, err)
	}
	p.reporter.Progress(ctx, id, ProgressNormalized)

	p.reporter.Progress(ctx, id, ProgressTranscribe)
	text, err := p.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return "", stageErr(StageTranscribe, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", stageErr(StageTranscribe, ErrEmptyTranscript)
	}
	p.reporter.Progress(ctx, id, ProgressTranscribed)

	return text, nil
}

// complete is the single success write. Its failure sends the job down the
// failure path.
func (p *Pipeline) complete(ctx context.Context, id uuid.UUID, text string) error {
	ctx = context.WithoutCancel(ctx)
	err := p.store.UpdateJob(ctx, id,
		store.WithStatus(models.JobStatusCompleted),
		store.WithProgress(ProgressDone),
		store.WithSubtitle(text),
	)
	if err != nil {
		return stageErr(StagePersist, err)
	}
	p.reporter.Finish(ctx, id, models.JobStatusCompleted, ProgressDone)
	return nil
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, task Task, title string, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := FailureReason(cause)
	logger.Error("job failed", "error", cause)

	err := p.store.UpdateJob(ctx, task.JobID,
		store.WithStatus(models.JobStatusError),
		store.WithErrorMessage(reason),
		store.WithProgress(0),
	)
	if err != nil {
		logger.Warn("failure write failed", "error", err)
	}
	p.reporter.Finish(ctx, task.JobID, models.JobStatusError, 0)
	p.notify(ctx, logger, p.message(notify.KindFailed, task, title, reason))
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, msg notify.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.NotifyTimeout)
	defer cancel()

	if err := p.notifier.Notify(ctx, msg); err != nil {
		logger.Warn("notification failed", "kind", msg.Kind, "error", err)
	}
}

func (p *Pipeline) message(kind notify.Kind, task Task, title, reason string) notify.Message {
	msg := notify.Message{
		Kind:   kind,
		JobID:  task.JobID,
		Title:  title,
		Source: task.SourceRef,
		Upload: task.Kind == models.SourceUpload,
		Reason: reason,
	}
	if msg.Upload {
		msg.Source = task.Title
	}
	if kind == notify.KindCompleted {
		msg.DetailURL = DetailURL(p.cfg.PublicURL, task.JobID)
	}
	return msg
}

// cleanup removes every file in the download directory that belongs to the
// job. Missing files are fine.
func (p *Pipeline) cleanup(logger *slog.Logger, task Task) {
	paths, err := p.glob(filepath.Join(p.cfg.DownloadDir, task.JobID.String()+"*"))
	if err != nil {
		logger.Warn("listing job files failed", "error", err)
	}
	if task.LocalPath != "" {
		paths = append(paths, task.LocalPath)
	}

	for _, path := range paths {
		if err := p.remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove temp file failed", "path", path, "error", err)
		}
	}
}

// DetailURL is the public page for one job.
func DetailURL(publicURL string, id uuid.UUID) string {
	return strings.TrimRight(publicURL, "/") + "/detail/" + id.String()
}

var _ Executor = (*Pipeline)(nil)
