package queue

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps transport-level failures against the queue store so
// callers can distinguish them from an empty queue.
var ErrStoreUnavailable = errors.New("queue store unavailable")

// Queue names for the four pipeline stages plus the terminal dead-letter queue.
const (
	QueueDiscovery  = "discovery"
	QueueValidation = "validation"
	QueueEnrichment = "enrichment"
	QueueExport     = "export"
	QueueDeadLetter = "dead-letter"
)

// ProcessingQueue returns the shadow queue a task sits in between take and ack.
func ProcessingQueue(queue string) string {
	return queue + ":processing"
}

// StageQueues lists the four stage queues in pipeline order.
func StageQueues() []string {
	return []string{QueueDiscovery, QueueValidation, QueueEnrichment, QueueExport}
}

// Store is the shared queue/index contract. Implementations must make every
// mutation a single atomic operation; no caller holds a lock across a network
// call. Injected at construction time, never a package singleton.
type Store interface {
	// Push appends a payload to the tail of a named queue.
	Push(ctx context.Context, queue string, payload []byte) error

	// Move atomically takes one payload from the head of `from` and appends it
	// to `to`, returning it. An empty queue returns (nil, nil).
	Move(ctx context.Context, from, to string) ([]byte, error)

	// Ack removes a payload from a queue, typically a processing queue.
	Ack(ctx context.Context, queue string, payload []byte) error

	// Depth reports the number of payloads in a queue.
	Depth(ctx context.Context, queue string) (int64, error)

	SetAdd(ctx context.Context, set, member string) error
	SetRemove(ctx context.Context, set, member string) error
	SetContains(ctx context.Context, set, member string) (bool, error)
	SetMembers(ctx context.Context, set string) ([]string, error)

	// MarkOnce sets a key with a TTL if and only if it is not already set, and
	// reports whether this call claimed it. Used for dedup reservations.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Incr increments a counter, applying the TTL when the counter is created.
	Incr(ctx context.Context, counter string, ttl time.Duration) (int64, error)
	Counter(ctx context.Context, counter string) (int64, error)

	CacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// CacheGet reports whether the key was present.
	CacheGet(ctx context.Context, key string, value interface{}) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
