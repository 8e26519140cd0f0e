package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the slice of a NATS connection the notifier uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes job outcomes as JSON on <prefix>.completed and
// <prefix>.failed.
type NATS struct {
	pub    Publisher
	prefix string
}

func NewNATS(pub Publisher, subjectPrefix string) *NATS {
	return &NATS{pub: pub, prefix: subjectPrefix}
}

// ConnectNATS dials the server and keeps reconnecting forever.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("subtitler"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

type natsEvent struct {
	Message
	OccurredAt time.Time `json:"occurred_at"`
}

func (n *NATS) Subject(kind Kind) string {
	return n.prefix + "." + string(kind)
}

func (n *NATS) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(natsEvent{Message: msg, OccurredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := n.pub.Publish(n.Subject(msg.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", n.Subject(msg.Kind), err)
	}
	return nil
}

var _ Notifier = (*NATS)(nil)
