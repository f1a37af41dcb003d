package routing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryBroker_DuplicateSuppression(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	if err := broker.Publish(ctx, ProcessingQueue, []byte(`{"a":1}`), "corr-1"); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := broker.Publish(ctx, ProcessingQueue, []byte(`{"a":1}`), "corr-1"); err != nil {
		t.Fatalf("duplicate Publish error: %v", err)
	}

	msgs := broker.Messages(ProcessingQueue)
	if len(msgs) != 1 {
		t.Fatalf("len(messages) = %d, want exactly 1 after duplicate publish", len(msgs))
	}
}

func TestMemoryBroker_DedupScopedPerDestination(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	// The same key may legitimately appear on different destinations.
	if err := broker.Publish(ctx, ProcessingQueue, []byte(`{}`), "corr-1"); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := broker.Publish(ctx, AlertSink, []byte(`{}`), "corr-1"); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	if n := len(broker.Messages(ProcessingQueue)); n != 1 {
		t.Errorf("processing queue has %d messages, want 1", n)
	}
	if n := len(broker.Messages(AlertSink)); n != 1 {
		t.Errorf("alert sink has %d messages, want 1", n)
	}
}

func TestMemoryBroker_UnknownDestination(t *testing.T) {
	broker := NewMemoryBroker()

	err := broker.Publish(context.Background(), Destination("nowhere"), []byte(`{}`), "corr-1")
	if err == nil {
		t.Fatal("Publish to unknown destination returned nil error")
	}
}

// countingRouter counts deliveries without deduplicating, standing in for
// a broker with no native dedup support.
type countingRouter struct {
	calls int
}

func (r *countingRouter) Publish(_ context.Context, _ Destination, _ []byte, _ string) error {
	r.calls++
	return nil
}

func TestDedupRouter_SuppressesSecondPublish(t *testing.T) {
	inner := &countingRouter{}
	router := NewDedupRouter(inner, NewMemoryDedupStore(), time.Hour)
	ctx := context.Background()

	if err := router.Publish(ctx, AlertSink, []byte(`{}`), "corr-1"); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := router.Publish(ctx, AlertSink, []byte(`{}`), "corr-1"); err != nil {
		t.Fatalf("duplicate Publish error: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("inner publish count = %d, want 1", inner.calls)
	}
}

func TestDedupRouter_FailedPublishNotMarked(t *testing.T) {
	broker := NewMemoryBroker()
	store := NewMemoryDedupStore()
	router := NewDedupRouter(broker, store, time.Hour)
	ctx := context.Background()

	broker.FailWith(context.DeadlineExceeded)
	if err := router.Publish(ctx, ProcessingQueue, []byte(`{}`), "corr-1"); err == nil {
		t.Fatal("Publish with failing broker returned nil error")
	}
	if store.Len() != 0 {
		t.Fatalf("dedup store has %d entries after failed publish, want 0", store.Len())
	}

	// The retry after a failure must deliver.
	broker.FailWith(nil)
	if err := router.Publish(ctx, ProcessingQueue, []byte(`{}`), "corr-1"); err != nil {
		t.Fatalf("retry Publish error: %v", err)
	}
	if n := len(broker.Messages(ProcessingQueue)); n != 1 {
		t.Errorf("delivered %d messages, want 1", n)
	}
}

func TestMemoryDedupStore_TTLExpiry(t *testing.T) {
	store := NewMemoryDedupStore()
	ctx := context.Background()

	if err := store.Mark(ctx, "k", time.Millisecond); err != nil {
		t.Fatalf("Mark error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	seen, err := store.Seen(ctx, "k")
	if err != nil {
		t.Fatalf("Seen error: %v", err)
	}
	if seen {
		t.Error("Seen = true after TTL expiry, want false")
	}
}

func TestRedisDedupStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisDedupStore(client)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "pub:alert-sink:corr-1")
	if err != nil {
		t.Fatalf("Seen error: %v", err)
	}
	if seen {
		t.Fatal("Seen = true before Mark")
	}

	if err := store.Mark(ctx, "pub:alert-sink:corr-1", time.Hour); err != nil {
		t.Fatalf("Mark error: %v", err)
	}

	seen, err = store.Seen(ctx, "pub:alert-sink:corr-1")
	if err != nil {
		t.Fatalf("Seen error: %v", err)
	}
	if !seen {
		t.Error("Seen = false after Mark, want true")
	}

	// TTL is enforced broker-side.
	mr.FastForward(2 * time.Hour)
	seen, err = store.Seen(ctx, "pub:alert-sink:corr-1")
	if err != nil {
		t.Fatalf("Seen error: %v", err)
	}
	if seen {
		t.Error("Seen = true after TTL expiry, want false")
	}
}
