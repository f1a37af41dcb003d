// Package routing publishes workflow outcomes to the downstream
// destinations: the processing queue for clean transactions, the alert
// sink for policy violations, and the operations channel for processing
// failures. Every publish carries a dedup key so a crash-induced retry
// never produces a second visible message.
package routing

import (
	"context"
	"fmt"
)

// Destination names one of the three outbound channels.
type Destination string

const (
	ProcessingQueue   Destination = "processing-queue"
	AlertSink         Destination = "alert-sink"
	OperationsChannel Destination = "operations-channel"
)

// Valid reports whether d is a known destination.
func (d Destination) Valid() bool {
	switch d {
	case ProcessingQueue, AlertSink, OperationsChannel:
		return true
	}
	return false
}

// Router publishes a payload to a destination. Implementations guarantee
// that two publishes with the same (destination, dedupKey) pair result in
// exactly one observable message at that destination.
type Router interface {
	Publish(ctx context.Context, dest Destination, payload []byte, dedupKey string) error
}

// DedupKey builds the key under which duplicate publishes collapse.
func DedupKey(dest Destination, key string) string {
	return fmt.Sprintf("pub:%s:%s", dest, key)
}
