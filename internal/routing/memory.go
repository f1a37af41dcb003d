package routing

import (
	"context"
	"fmt"
	"sync"
)

// Message is one delivered message, observable in tests.
type Message struct {
	Payload  []byte
	DedupKey string
}

// MemoryBroker is an in-process Router with its own dedup table. It is
// the observer used by tests and the default broker for single-node runs.
type MemoryBroker struct {
	mu       sync.Mutex
	messages map[Destination][]Message
	seen     map[string]bool
	failWith error // injected failure, for tests
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		messages: make(map[Destination][]Message),
		seen:     make(map[string]bool),
	}
}

// Publish delivers payload to dest unless the dedup key was seen before.
func (b *MemoryBroker) Publish(_ context.Context, dest Destination, payload []byte, dedupKey string) error {
	if !dest.Valid() {
		return fmt.Errorf("routing: unknown destination %q", dest)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failWith != nil {
		return b.failWith
	}

	key := DedupKey(dest, dedupKey)
	if b.seen[key] {
		return nil
	}
	b.seen[key] = true
	b.messages[dest] = append(b.messages[dest], Message{Payload: payload, DedupKey: dedupKey})
	return nil
}

// Messages returns the messages delivered to dest. For testing.
func (b *MemoryBroker) Messages(dest Destination) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.messages[dest]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// FailWith makes every subsequent Publish return err. Pass nil to restore
// normal delivery. For testing.
func (b *MemoryBroker) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}
