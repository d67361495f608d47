// Package memory provides an in-process queue.Store used by tests and local
// development runs without a Redis instance.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hunter-swarm/backend/internal/queue"
)

type Store struct {
	mu       sync.Mutex
	queues   map[string][][]byte
	sets     map[string]map[string]struct{}
	marks    map[string]time.Time
	counters map[string]int64
	cache    map[string][]byte

	// FailNext makes the next n queue operations fail with
	// queue.ErrStoreUnavailable, for failure-injection tests.
	failNext int
}

var _ queue.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		queues:   make(map[string][][]byte),
		sets:     make(map[string]map[string]struct{}),
		marks:    make(map[string]time.Time),
		counters: make(map[string]int64),
		cache:    make(map[string][]byte),
	}
}

func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Store) failing() bool {
	if s.failNext > 0 {
		s.failNext--
		return true
	}
	return false
}

func (s *Store) Push(ctx context.Context, queueName string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing() {
		return fmt.Errorf("%w: push to %s", queue.ErrStoreUnavailable, queueName)
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.queues[queueName] = append(s.queues[queueName], cp)
	return nil
}

func (s *Store) Move(ctx context.Context, from, to string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing() {
		return nil, fmt.Errorf("%w: move %s -> %s", queue.ErrStoreUnavailable, from, to)
	}

	q := s.queues[from]
	if len(q) == 0 {
		return nil, nil
	}

	payload := q[0]
	s.queues[from] = q[1:]
	s.queues[to] = append(s.queues[to], payload)
	return payload, nil
}

func (s *Store) Ack(ctx context.Context, queueName string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing() {
		return fmt.Errorf("%w: ack on %s", queue.ErrStoreUnavailable, queueName)
	}

	q := s.queues[queueName]
	for i, p := range q {
		if bytes.Equal(p, payload) {
			s.queues[queueName] = append(q[:i:i], q[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) Depth(ctx context.Context, queueName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing() {
		return 0, fmt.Errorf("%w: depth of %s", queue.ErrStoreUnavailable, queueName)
	}
	return int64(len(s.queues[queueName])), nil
}

// Items returns a copy of a queue's contents, oldest first. Test helper.
func (s *Store) Items(queueName string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[queueName]
	out := make([][]byte, len(q))
	copy(out, q)
	return out
}

func (s *Store) SetAdd(ctx context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sets[set] == nil {
		s.sets[set] = make(map[string]struct{})
	}
	s.sets[set][member] = struct{}{}
	return nil
}

func (s *Store) SetRemove(ctx context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sets[set], member)
	return nil
}

func (s *Store) SetContains(ctx context.Context, set, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sets[set][member]
	return ok, nil
}

func (s *Store) SetMembers(ctx context.Context, set string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]string, 0, len(s.sets[set]))
	for m := range s.sets[set] {
		members = append(members, m)
	}
	return members, nil
}

func (s *Store) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.marks[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	s.marks[key] = time.Now().Add(ttl)
	return true, nil
}

func (s *Store) Incr(ctx context.Context, counter string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[counter]++
	return s.counters[counter], nil
}

func (s *Store) Counter(ctx context.Context, counter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters[counter], nil
}

func (s *Store) CacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = data
	return nil
}

func (s *Store) CacheGet(ctx context.Context, key string, value interface{}) (bool, error) {
	s.mu.Lock()
	data, ok := s.cache[key]
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
