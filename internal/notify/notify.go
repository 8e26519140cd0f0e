// Package notify delivers job outcome messages. Delivery is best-effort:
// callers log failures and carry on.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Kind string

const (
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Message describes one finished job. Source is the remote link, or the
// original file name when Upload is set.
type Message struct {
	Kind      Kind      `json:"kind"`
	JobID     uuid.UUID `json:"job_id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Upload    bool      `json:"upload"`
	DetailURL string    `json:"detail_url,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }
