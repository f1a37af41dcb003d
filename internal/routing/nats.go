package routing

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsRouter publishes to NATS JetStream subjects. Deduplication is
// broker-side: every publish carries the dedup key as its message ID, and
// JetStream drops messages whose ID was seen within the stream's
// duplicate-tracking window.
type NatsRouter struct {
	js       nats.JetStreamContext
	subjects map[Destination]string
}

// NewNatsRouter creates a router over an established JetStream context.
// subjects maps each destination to its stream subject.
func NewNatsRouter(js nats.JetStreamContext, subjects map[Destination]string) (*NatsRouter, error) {
	for _, dest := range []Destination{ProcessingQueue, AlertSink, OperationsChannel} {
		if subjects[dest] == "" {
			return nil, fmt.Errorf("routing: no subject configured for destination %q", dest)
		}
	}
	return &NatsRouter{js: js, subjects: subjects}, nil
}

// Publish sends payload to the destination's subject with the dedup key as
// the JetStream message ID.
func (r *NatsRouter) Publish(ctx context.Context, dest Destination, payload []byte, dedupKey string) error {
	subject, ok := r.subjects[dest]
	if !ok {
		return fmt.Errorf("routing: unknown destination %q", dest)
	}

	_, err := r.js.Publish(subject, payload,
		nats.Context(ctx),
		nats.MsgId(DedupKey(dest, dedupKey)),
	)
	if err != nil {
		return fmt.Errorf("routing: publish to %s: %w", subject, err)
	}
	return nil
}
