package jobs_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/cache"
	"github.com/kiranshivaraju/subtitler/internal/jobs"
	"github.com/kiranshivaraju/subtitler/internal/notify"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

// recordingStore wraps MemoryStore and records every update it receives.
// failUpdate, when set, can reject individual updates.
type recordingStore struct {
	*store.MemoryStore

	mu         sync.Mutex
	updates    []store.JobUpdate
	failUpdate func(u store.JobUpdate) error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *recordingStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...store.JobUpdateOption) error {
	u := store.ResolveJobUpdate(opts...)
	s.mu.Lock()
	s.updates = append(s.updates, u)
	fail := s.failUpdate
	s.mu.Unlock()

	if fail != nil {
		if err := fail(u); err != nil {
			return err
		}
	}
	return s.MemoryStore.UpdateJob(ctx, id, opts...)
}

// progressWhileProcessing returns the progress values written with the
// processing status, in order.
func (s *recordingStore) progressWhileProcessing() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, u := range s.updates {
		if u.Status != nil && *u.Status == models.JobStatusProcessing && u.Progress != nil {
			out = append(out, *u.Progress)
		}
	}
	return out
}

func (s *recordingStore) terminalWrites() []store.JobUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.JobUpdate
	for _, u := range s.updates {
		if u.Status != nil && u.Status.Terminal() {
			out = append(out, u)
		}
	}
	return out
}

func (s *recordingStore) seed(task jobs.Task) {
	now := time.Now().UTC()
	_ = s.MemoryStore.CreateJob(context.Background(), &models.Job{
		ID:         task.JobID,
		SourceKind: task.Kind,
		SourceRef:  task.SourceRef,
		Title:      task.Title,
		Status:     models.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// fakeRemote writes a source file on Fetch.
type fakeRemote struct {
	title    string
	fetchErr error
	fetched  []string
}

func (f *fakeRemote) ResolveTitle(context.Context, string) string { return f.title }

func (f *fakeRemote) Fetch(_ context.Context, _ string, destBase string) (string, error) {
	f.fetched = append(f.fetched, destBase)
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	path := destBase + ".webm"
	return path, os.WriteFile(path, []byte("webm"), 0o644)
}

// fakeNormalizer writes dst.
type fakeNormalizer struct {
	err   error
	calls int
}

func (f *fakeNormalizer) Normalize(_ context.Context, _, dst string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("mp3"), 0o644)
}

type fakeTranscriber struct {
	TranscribeFunc func(ctx context.Context, file string) (string, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, file string) (string, error) {
	return f.TranscribeFunc(ctx, file)
}

func transcriberReturning(text string, err error) *fakeTranscriber {
	return &fakeTranscriber{TranscribeFunc: func(context.Context, string) (string, error) {
		return text, err
	}}
}

type recordingNotifier struct {
	mu      sync.Mutex
	msgs    []notify.Message
	err     error
	panicOn notify.Kind
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
	if n.panicOn != "" && msg.Kind == n.panicOn {
		panic("notifier blew up")
	}
	return n.err
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.msgs...)
}

// fakeCache records progress snapshots; every other method is a no-op.
type fakeCache struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]cache.Progress
	err       error
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshots: make(map[uuid.UUID]cache.Progress)}
}

func (c *fakeCache) Ping(context.Context) error                         { return nil }
func (c *fakeCache) DeleteJobProgress(context.Context, uuid.UUID) error { return nil }
func (c *fakeCache) CountRequest(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}

func (c *fakeCache) SetJobProgress(_ context.Context, id uuid.UUID, p cache.Progress) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[id] = p
	return nil
}

func (c *fakeCache) GetJobProgress(_ context.Context, id uuid.UUID) (cache.Progress, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.snapshots[id]
	return p, ok, nil
}

var errBoom = errors.New("boom")
