package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/jobs"
	"github.com/kiranshivaraju/subtitler/internal/media"
	"github.com/kiranshivaraju/subtitler/internal/notify"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/internal/stt/mock"
	"github.com/kiranshivaraju/subtitler/internal/transcribe"
	"github.com/kiranshivaraju/subtitler/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	dir      string
	store    *recordingStore
	cache    *fakeCache
	remote   *fakeRemote
	norm     jobs.Normalizer
	tr       jobs.Transcriber
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		dir:      t.TempDir(),
		store:    newRecordingStore(),
		cache:    newFakeCache(),
		remote:   &fakeRemote{title: "Lecture 7"},
		norm:     &fakeNormalizer{},
		tr:       transcriberReturning("first part\n\nsecond part", nil),
		notifier: &recordingNotifier{},
	}
}

func (h *harness) pipeline() *jobs.Pipeline {
	return jobs.NewPipeline(
		h.store,
		jobs.NewStoreReporter(h.store, h.cache),
		h.remote,
		h.norm,
		h.tr,
		h.notifier,
		jobs.PipelineConfig{
			DownloadDir:   h.dir,
			PublicURL:     "https://stt.example.com/",
			NotifyTimeout: time.Second,
		},
	)
}

func (h *harness) remoteTask() jobs.Task {
	task := jobs.Task{
		JobID:     uuid.New(),
		Kind:      models.SourceRemote,
		SourceRef: "https://www.youtube.com/watch?v=abc",
	}
	h.store.seed(task)
	return task
}

func (h *harness) uploadTask(t *testing.T, ext string) jobs.Task {
	t.Helper()
	id := uuid.New()
	local := filepath.Join(h.dir, id.String()+ext)
	require.NoError(t, os.WriteFile(local, []byte("upload bytes"), 0o644))
	task := jobs.Task{
		JobID:     id,
		Kind:      models.SourceUpload,
		SourceRef: "/media/" + id.String() + ext,
		Title:     "lecture" + ext,
		LocalPath: local,
	}
	h.store.seed(task)
	return task
}

func (h *harness) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (h *harness) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temporary files may remain")
}

// --- success paths ---

func TestPipeline_RemoteSuccess(t *testing.T) {
	h := newHarness(t)
	task := h.remoteTask()

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, "Lecture 7", j.Title)
	require.NotNil(t, j.Subtitle)
	assert.Equal(t, "first part\n\nsecond part", *j.Subtitle)
	assert.Nil(t, j.ErrorMessage)
	assert.Equal(t, "completed", j.WireStatus())

	assert.Equal(t, []int{5, 10, 15, 30, 40, 50, 60, 95}, h.store.progressWhileProcessing())
	require.Len(t, h.store.terminalWrites(), 1)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindCompleted, msgs[0].Kind)
	assert.Equal(t, "Lecture 7", msgs[0].Title)
	assert.Equal(t, task.SourceRef, msgs[0].Source)
	assert.False(t, msgs[0].Upload)
	assert.Equal(t, "https://stt.example.com/detail/"+task.JobID.String(), msgs[0].DetailURL)

	require.Len(t, h.remote.fetched, 1)
	assert.Equal(t, filepath.Join(h.dir, task.JobID.String()+"_audio"), h.remote.fetched[0])

	snap, ok, _ := h.cache.GetJobProgress(context.Background(), task.JobID)
	require.True(t, ok)
	assert.Equal(t, "completed", snap.Phase)
	assert.Equal(t, 100, snap.Percent)
	assert.Equal(t, "Lecture 7", snap.Title)

	h.assertNoTempFiles(t)
}

func TestPipeline_UploadSuccessSkipsTitleAndDownload(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, ".mp4")

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Equal(t, "lecture.mp4", j.Title)
	assert.Equal(t, []int{5, 30, 40, 50, 60, 95}, h.store.progressWhileProcessing())
	assert.Empty(t, h.remote.fetched)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Upload)
	assert.Equal(t, "lecture.mp4", msgs[0].Source)

	h.assertNoTempFiles(t)
}

// An mp3 upload under the ceiling is transcribed once with no ffmpeg work.
func TestPipeline_MP3UploadUnderCeilingTranscribedOnce(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, ".mp3")

	var ffmpegCalls int
	runner := runnerFunc(func(context.Context, string, ...string) (media.CommandResult, error) {
		ffmpegCalls++
		return media.CommandResult{}, nil
	})
	transcoder := media.NewTranscoder(runner, "ffmpeg", time.Second, time.Second)
	splitter := media.NewSplitter(media.NewProber(runner, "ffprobe", time.Second), transcoder)
	rec := mock.NewMockRecognizer()
	h.norm = transcoder
	h.tr = transcribe.New(rec, splitter, transcoder, transcribe.Options{
		CeilingBytes:   24 * 1024 * 1024,
		SegmentSeconds: 600,
		ReducedBitrate: "64k",
		Language:       "ko",
	})

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	require.Equal(t, models.JobStatusCompleted, j.Status, "error: %v", j.ErrorMessage)
	assert.Len(t, rec.Calls(), 1)
	assert.Zero(t, ffmpegCalls)
	h.assertNoTempFiles(t)
}

type runnerFunc func(ctx context.Context, name string, args ...string) (media.CommandResult, error)

func (f runnerFunc) Run(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
	return f(ctx, name, args...)
}

// --- failure paths ---

// Recognition fails on segment 2 of 3.
func TestPipeline_SegmentFailure(t *testing.T) {
	h := newHarness(t)
	task := h.remoteTask()

	rec := mock.NewMockRecognizer()
	rec.RecognizeFunc = func(_ context.Context, path, _ string) (string, error) {
		if strings.HasSuffix(path, "_chunk_1.mp3") {
			return "", errors.New("quota exceeded")
		}
		return "ok", nil
	}
	splitter := &writingSplitter{count: 3}
	h.tr = transcribe.New(rec, splitter, nil, transcribe.Options{
		CeilingBytes:   2,
		SegmentSeconds: 600,
	})

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusError, j.Status)
	assert.Equal(t, 0, j.Progress)
	assert.Nil(t, j.Subtitle, "no subtitle is ever written")
	require.NotNil(t, j.ErrorMessage)
	assert.Contains(t, *j.ErrorMessage, "quota exceeded")
	assert.True(t, strings.HasPrefix(j.WireStatus(), "error:"))

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindFailed, msgs[0].Kind)
	assert.Contains(t, msgs[0].Reason, "quota exceeded")
	assert.Empty(t, msgs[0].DetailURL)

	for _, u := range h.store.terminalWrites() {
		assert.Nil(t, u.Subtitle)
	}
	h.assertNoTempFiles(t)
}

// writingSplitter produces count one-byte segment files next to the input.
type writingSplitter struct{ count int }

func (s *writingSplitter) Split(_ context.Context, file string, maxSeconds float64) ([]media.Segment, error) {
	base := strings.TrimSuffix(file, filepath.Ext(file))
	var segs []media.Segment
	for i := 0; i < s.count; i++ {
		p := base + "_chunk_" + strconv.Itoa(i) + ".mp3"
		if err := os.WriteFile(p, []byte("s"), 0o644); err != nil {
			return nil, err
		}
		segs = append(segs, media.Segment{Index: i, Path: p, Start: float64(i) * maxSeconds, Duration: maxSeconds, Temporary: true})
	}
	return segs, nil
}

func TestPipeline_AcquireFailureTruncatesReason(t *testing.T) {
	h := newHarness(t)
	h.remote.fetchErr = errors.New(strings.Repeat("가", 300))
	task := h.remoteTask()

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusError, j.Status)
	require.NotNil(t, j.ErrorMessage)
	assert.Equal(t, jobs.MaxReasonRunes, utf8.RuneCountInString(*j.ErrorMessage))
	assert.Equal(t, "acquire: "+strings.Repeat("가", jobs.MaxReasonRunes-len("acquire: ")), *j.ErrorMessage)
	assert.True(t, utf8.ValidString(*j.ErrorMessage))
	assert.Equal(t, 0, j.Progress)
	assert.Len(t, h.notifier.messages(), 1)
	h.assertNoTempFiles(t)
}

func TestPipeline_UploadMissingWorkingCopy(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, ".mkv")
	require.NoError(t, os.Remove(task.LocalPath))

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusError, j.Status)
	assert.Contains(t, *j.ErrorMessage, "acquire")
}

func TestPipeline_NormalizeFailure(t *testing.T) {
	h := newHarness(t)
	h.norm = &fakeNormalizer{err: errors.New("ffmpeg exited 1: Invalid data found")}
	task := h.remoteTask()

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusError, j.Status)
	assert.Equal(t, "normalize: ffmpeg exited 1: Invalid data found", *j.ErrorMessage)
	h.assertNoTempFiles(t)
}

func TestPipeline_EmptyTranscriptFails(t *testing.T) {
	h := newHarness(t)
	h.tr = transcriberReturning("  \n", nil)
	task := h.remoteTask()

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusError, j.Status)
	assert.Contains(t, *j.ErrorMessage, jobs.ErrEmptyTranscript.Error())
	assert.Nil(t, j.Subtitle)
}

func TestPipeline_PanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.tr = &fakeTranscriber{TranscribeFunc: func(context.Context, string) (string, error) {
		panic("nil map")
	}}
	task := h.remoteTask()

	assert.NotPanics(t, func() { h.pipeline().Run(context.Background(), task) })

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusError, j.Status)
	assert.Equal(t, "panic: nil map", *j.ErrorMessage)
	assert.Len(t, h.notifier.messages(), 1)
	h.assertNoTempFiles(t)
}

func TestPipeline_PersistFailureTakesErrorPath(t *testing.T) {
	h := newHarness(t)
	h.store.failUpdate = func(u store.JobUpdate) error {
		if u.Subtitle != nil {
			return errors.New("connection reset")
		}
		return nil
	}
	task := h.remoteTask()

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusError, j.Status)
	assert.Equal(t, "persist: connection reset", *j.ErrorMessage)
	assert.Nil(t, j.Subtitle)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindFailed, msgs[0].Kind)
	h.assertNoTempFiles(t)
}

// --- best-effort side channels ---

func TestPipeline_ProgressWriteFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t)
	h.store.failUpdate = func(u store.JobUpdate) error {
		if u.Status != nil && *u.Status == models.JobStatusProcessing {
			return errBoom
		}
		return nil
	}
	h.cache.err = errBoom
	task := h.remoteTask()

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
}

func TestPipeline_NotificationFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("telegram unreachable")
	task := h.remoteTask()

	h.pipeline().Run(context.Background(), task)

	assert.Equal(t, models.JobStatusCompleted, h.job(t, task.JobID).Status)
	assert.Len(t, h.notifier.messages(), 1)
}

func TestPipeline_NotifierPanicAfterCompletionKeepsCompleted(t *testing.T) {
	h := newHarness(t)
	h.notifier.panicOn = notify.KindCompleted
	task := h.remoteTask()

	h.pipeline().Run(context.Background(), task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Nil(t, j.ErrorMessage)
	require.Len(t, h.store.terminalWrites(), 1)

	snap, ok := h.cache.snapshots[task.JobID]
	require.True(t, ok)
	assert.Equal(t, "completed", snap.Phase)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindCompleted, msgs[0].Kind)
	h.assertNoTempFiles(t)
}

func TestPipeline_CancelledContextStillRecordsFailure(t *testing.T) {
	h := newHarness(t)
	h.tr = &fakeTranscriber{TranscribeFunc: func(ctx context.Context, _ string) (string, error) {
		return "", ctx.Err()
	}}
	task := h.remoteTask()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.pipeline().Run(ctx, task)

	j := h.job(t, task.JobID)
	assert.Equal(t, models.JobStatusError, j.Status)
	assert.Contains(t, *j.ErrorMessage, "context canceled")
}

func TestDetailURL(t *testing.T) {
	id := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	assert.Equal(t, "http://localhost:9899/detail/55555555-5555-5555-5555-555555555555",
		jobs.DetailURL("http://localhost:9899/", id))
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "unknown error", jobs.FailureReason(nil))
	assert.Equal(t, "short", jobs.FailureReason(errors.New("short")))

	exact := strings.Repeat("a", jobs.MaxReasonRunes)
	assert.Equal(t, exact, jobs.FailureReason(errors.New(exact)))

	mixed := strings.Repeat("a", 199) + "한국어"
	assert.Equal(t, strings.Repeat("a", 199)+"한", jobs.FailureReason(errors.New(mixed)))

	korean := jobs.FailureReason(errors.New(strings.Repeat("오", 300)))
	assert.Equal(t, jobs.MaxReasonRunes, utf8.RuneCountInString(korean))
	assert.Equal(t, strings.Repeat("오", 200), korean)
}

func TestStageError(t *testing.T) {
	var se *jobs.StageError
	err := fmtStage(jobs.StageTranscribe, errBoom)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, jobs.StageTranscribe, se.Stage)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "transcribe: boom", err.Error())
}

func fmtStage(stage jobs.Stage, err error) error {
	return &jobs.StageError{Stage: stage, Err: err}
}
