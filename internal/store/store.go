package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrJobFinalized is returned when a lifecycle write targets a job that is
// already completed or failed.
var ErrJobFinalized = errors.New("job already finalized")

// Store is the data access interface. All job record operations go through here.
// There are no transactions; concurrent writers to one record are last-write-wins.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// JobFilter narrows ListJobs. Results are always ordered by created_at descending.
type JobFilter struct {
	Status models.JobStatus
	Page   int
	Limit  int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Normalized returns f with the pagination defaults and bounds applied.
func (f JobFilter) Normalized() JobFilter {
	f.normalize()
	return f
}

// normalize clamps pagination and returns the row offset.
func (f *JobFilter) normalize() int {
	if f.Limit <= 0 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return (f.Page - 1) * f.Limit
}

// JobUpdate is the resolved set of fields an UpdateJob call writes. Nil
// fields are left untouched.
type JobUpdate struct {
	Status       *models.JobStatus
	Progress     *int
	Title        *string
	Subtitle     *string
	ErrorMessage *string
}

// Lifecycle reports whether the update belongs to the pipeline rather than
// to user edits. Lifecycle writes are refused once a job is terminal.
func (u JobUpdate) Lifecycle() bool {
	return u.Status != nil || u.Progress != nil || u.Subtitle != nil || u.ErrorMessage != nil
}

func (u JobUpdate) empty() bool {
	return !u.Lifecycle() && u.Title == nil
}

type JobUpdateOption func(*JobUpdate)

// ResolveJobUpdate applies opts to an empty JobUpdate.
func ResolveJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithStatus(status models.JobStatus) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Status = &status
	}
}

func WithProgress(progress int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Progress = &progress
	}
}

func WithTitle(title string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Title = &title
	}
}

func WithSubtitle(text string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Subtitle = &text
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorMessage = &msg
	}
}
