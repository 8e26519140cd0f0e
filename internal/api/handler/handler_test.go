package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/api/handler"
	"github.com/kiranshivaraju/subtitler/internal/cache"
	"github.com/kiranshivaraju/subtitler/internal/jobs"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- fake Submitter ---

// fakeSubmitter creates the pending record like the real runner but never
// executes anything.
type fakeSubmitter struct {
	store store.Store
	err   error

	mu    sync.Mutex
	tasks []jobs.Task
}

func (f *fakeSubmitter) Submit(ctx context.Context, task jobs.Task) (*models.Job, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
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
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return job, f.store.CreateJob(ctx, job)
}

func (f *fakeSubmitter) submitted() []jobs.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]jobs.Task(nil), f.tasks...)
}

// --- fake Cache ---

type fakeCache struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]cache.Progress
	deleted   []uuid.UUID
	err       error
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshots: make(map[uuid.UUID]cache.Progress)}
}

func (c *fakeCache) Ping(context.Context) error { return nil }
func (c *fakeCache) CountRequest(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (c *fakeCache) DeleteJobProgress(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeCache) SetJobProgress(_ context.Context, id uuid.UUID, p cache.Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[id] = p
	return nil
}

func (c *fakeCache) GetJobProgress(_ context.Context, id uuid.UUID) (cache.Progress, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return cache.Progress{}, false, c.err
	}
	p, ok := c.snapshots[id]
	return p, ok, nil
}

// --- helpers ---

type testEnv struct {
	store     *store.MemoryStore
	cache     *fakeCache
	submitter *fakeSubmitter
	cfg       handler.JobsConfig
	router    http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	env := &testEnv{
		store:     st,
		cache:     newFakeCache(),
		submitter: &fakeSubmitter{store: st},
		cfg: handler.JobsConfig{
			MediaDir:       t.TempDir(),
			DownloadDir:    t.TempDir(),
			MaxUploadBytes: 1 << 20,
		},
	}
	h := handler.NewJobs(env.submitter, env.store, env.cache, env.cfg)

	r := chi.NewRouter()
	r.Post("/api/v1/jobs", h.Submit)
	r.Post("/api/v1/uploads", h.Upload)
	r.Get("/api/v1/jobs", h.List)
	r.Get("/api/v1/jobs/{jobID}", h.Get)
	r.Get("/api/v1/jobs/{jobID}/progress", h.Progress)
	r.Patch("/api/v1/jobs/{jobID}", h.UpdateTitle)
	r.Delete("/api/v1/jobs/{jobID}", h.Delete)
	r.Get("/detail/{jobID}", handler.NewDetailHandler(env.store))
	env.router = r
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, j *models.Job) *models.Job {
	t.Helper()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	j.UpdatedAt = j.CreatedAt
	if j.Status == "" {
		j.Status = models.JobStatusPending
	}
	if j.SourceKind == "" {
		j.SourceKind = models.SourceRemote
	}
	require.NoError(t, e.store.CreateJob(context.Background(), j))
	return j
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Data
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Error.Code
}

func strPtr(s string) *string { return &s }

var errBoom = errors.New("boom")
