package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

// MemoryStore is an in-process Store. It keeps the same finalization rules as
// PostgresStore and is used for STORE_BACKEND=memory and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.RLock()
	matched := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		matched = append(matched, cloneJob(j))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	offset := filter.normalize()
	if offset >= total {
		return []*models.Job{}, total, nil
	}
	end := offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id uuid.UUID, opts ...JobUpdateOption) error {
	u := ResolveJobUpdate(opts...)
	if u.empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if u.Lifecycle() && j.Status.Terminal() {
		return ErrJobFinalized
	}

	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.Progress != nil {
		j.Progress = *u.Progress
	}
	if u.Title != nil {
		j.Title = *u.Title
	}
	if u.Subtitle != nil {
		text := *u.Subtitle
		j.Subtitle = &text
	}
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		j.ErrorMessage = &msg
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	if j.Subtitle != nil {
		text := *j.Subtitle
		c.Subtitle = &text
	}
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
