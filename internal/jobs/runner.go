package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

// Runner executes submitted jobs on a fixed pool of workers fed by a bounded
// queue. Submissions past the queue capacity are rejected.
type Runner struct {
	store store.Store
	exec  Executor
	queue chan Task

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(st store.Store, exec Executor, workers, queueSize int) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:  st,
		exec:   exec,
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work(i)
	}
	return r
}

func (r *Runner) work(worker int) {
	defer r.wg.Done()
	for task := range r.queue {
		r.runOne(worker, task)
	}
}

func (r *Runner) runOne(worker int, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in worker", "worker", worker, "job_id", task.JobID, "error", rec)
		}
	}()
	r.exec.Run(r.ctx, task)
}

// Submit creates a pending record for task and queues it. The job id is
// assigned here unless the caller already chose one.
func (r *Runner) Submit(ctx context.Context, task Task) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrRunnerClosed
	}

	if task.JobID == uuid.Nil {
		task.JobID = uuid.New()
	}
	now := time.Now().UTC()
	job := &models.Job{
		ID:         task.JobID,
		SourceKind: task.Kind,
		SourceRef:  task.SourceRef,
		Title:      task.Title,
		Status:     models.JobStatusPending,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	select {
	case r.queue <- task:
		slog.Info("job queued", "job_id", job.ID, "source_kind", job.SourceKind, "queued", len(r.queue))
		return job, nil
	default:
		if err := r.store.DeleteJob(context.WithoutCancel(ctx), job.ID); err != nil {
			slog.Warn("removing rejected job failed", "job_id", job.ID, "error", err)
		}
		return nil, ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued and running jobs. When
// ctx expires first, running jobs are cancelled and Shutdown returns without
// waiting for them.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
