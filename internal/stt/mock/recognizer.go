package mock

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/kiranshivaraju/subtitler/internal/stt"
)

// MockRecognizer satisfies stt.Recognizer for testing. Calls records every
// audio path passed to Recognize, in order.
type MockRecognizer struct {
	Name_         string
	RecognizeFunc func(ctx context.Context, audioPath, language string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockRecognizer) Name() string { return m.Name_ }

func (m *MockRecognizer) Recognize(ctx context.Context, audioPath, language string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, audioPath)
	m.mu.Unlock()

	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(ctx, audioPath, language)
	}
	return "", nil
}

func (m *MockRecognizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// NewMockRecognizer returns a MockRecognizer that echoes the file's base name.
func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{
		Name_: "mock",
		RecognizeFunc: func(_ context.Context, audioPath, _ string) (string, error) {
			return "text of " + filepath.Base(audioPath), nil
		},
	}
}

// NewFailingRecognizer returns a MockRecognizer that always returns err.
func NewFailingRecognizer(err error) *MockRecognizer {
	return &MockRecognizer{
		Name_: "mock-failing",
		RecognizeFunc: func(_ context.Context, _, _ string) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutRecognizer returns a MockRecognizer that blocks until ctx is done.
func NewTimeoutRecognizer() *MockRecognizer {
	return &MockRecognizer{
		Name_: "mock-timeout",
		RecognizeFunc: func(ctx context.Context, _, _ string) (string, error) {
			<-ctx.Done()
			return "", stt.ErrTimeout
		},
	}
}

var _ stt.Recognizer = (*MockRecognizer)(nil)
