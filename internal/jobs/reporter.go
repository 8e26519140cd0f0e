package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/cache"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

// Reporter is the advisory progress channel. Implementations never fail the
// caller: write errors are logged and dropped.
type Reporter interface {
	Progress(ctx context.Context, jobID uuid.UUID, percent int)
	Title(ctx context.Context, jobID uuid.UUID, title string, percent int)
	// Finish mirrors a terminal outcome already persisted by the caller and
	// releases per-job state.
	Finish(ctx context.Context, jobID uuid.UUID, status models.JobStatus, percent int)
}

type snapshot struct {
	percent int
	title   string
}

// StoreReporter writes checkpoints to the record store and mirrors them into
// the cache. Progress never moves backwards for a job.
type StoreReporter struct {
	store store.Store
	cache cache.Cache

	mu   sync.Mutex
	jobs map[uuid.UUID]snapshot
}

// NewStoreReporter creates a reporter. ca may be nil.
func NewStoreReporter(st store.Store, ca cache.Cache) *StoreReporter {
	return &StoreReporter{store: st, cache: ca, jobs: make(map[uuid.UUID]snapshot)}
}

func (r *StoreReporter) Progress(ctx context.Context, jobID uuid.UUID, percent int) {
	snap, ok := r.advance(jobID, percent, nil)
	if !ok {
		return
	}
	r.write(ctx, jobID, snap, store.WithStatus(models.JobStatusProcessing), store.WithProgress(percent))
}

func (r *StoreReporter) Title(ctx context.Context, jobID uuid.UUID, title string, percent int) {
	snap, ok := r.advance(jobID, percent, &title)
	if !ok {
		return
	}
	r.write(ctx, jobID, snap,
		store.WithStatus(models.JobStatusProcessing), store.WithProgress(percent), store.WithTitle(title))
}

func (r *StoreReporter) Finish(ctx context.Context, jobID uuid.UUID, status models.JobStatus, percent int) {
	r.mu.Lock()
	snap := r.jobs[jobID]
	delete(r.jobs, jobID)
	r.mu.Unlock()

	r.mirror(ctx, jobID, status, percent, snap.title)
}

// advance records percent if it does not move the job backwards.
func (r *StoreReporter) advance(jobID uuid.UUID, percent int, title *string) (snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.jobs[jobID]
	if percent < snap.percent {
		slog.Warn("dropping backwards progress", "job_id", jobID, "from", snap.percent, "to", percent)
		return snap, false
	}
	snap.percent = percent
	if title != nil {
		snap.title = *title
	}
	r.jobs[jobID] = snap
	return snap, true
}

func (r *StoreReporter) write(ctx context.Context, jobID uuid.UUID, snap snapshot, opts ...store.JobUpdateOption) {
	if err := r.store.UpdateJob(ctx, jobID, opts...); err != nil {
		slog.Warn("progress write failed", "job_id", jobID, "progress", snap.percent, "error", err)
	}
	r.mirror(ctx, jobID, models.JobStatusProcessing, snap.percent, snap.title)
}

func (r *StoreReporter) mirror(ctx context.Context, jobID uuid.UUID, status models.JobStatus, percent int, title string) {
	if r.cache == nil {
		return
	}
	err := r.cache.SetJobProgress(ctx, jobID, cache.Progress{
		Percent:   percent,
		Phase:     string(status),
		Title:     title,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("progress cache write failed", "job_id", jobID, "error", err)
	}
}

var _ Reporter = (*StoreReporter)(nil)
