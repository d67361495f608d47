package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/internal/queue/memory"
)

func enqueue(t *testing.T, store *memory.Store, queueName string, task models.HuntingTask) {
	t.Helper()
	payload, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, store.Push(context.Background(), queueName, payload))
}

func drainUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func depth(t *testing.T, store *memory.Store, queueName string) int64 {
	t.Helper()
	n, err := store.Depth(context.Background(), queueName)
	require.NoError(t, err)
	return n
}

func TestDistributorRunsTaskAndForwardsFollowOns(t *testing.T) {
	store := memory.New()

	var handled atomic.Int32
	d := NewDistributor(store, []Stage{{
		Queue:   queue.QueueDiscovery,
		Next:    queue.QueueValidation,
		Workers: 1,
		Handler: func(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
			handled.Add(1)
			return []models.HuntingTask{{ID: "follow-on", Type: models.TaskTypeValidate}}, nil
		},
	}}, Config{PollInterval: 5 * time.Millisecond})

	enqueue(t, store, queue.QueueDiscovery, models.HuntingTask{ID: "t1", Type: models.TaskTypeDiscover})

	d.Start(context.Background())
	defer d.Stop(context.Background())

	drainUntil(t, func() bool { return depth(t, store, queue.QueueValidation) == 1 })
	drainUntil(t, func() bool {
		return depth(t, store, queue.ProcessingQueue(queue.QueueDiscovery)) == 0
	})

	assert.Equal(t, int32(1), handled.Load())

	processed, failed := d.Stats()
	assert.Equal(t, uint64(1), processed)
	assert.Equal(t, uint64(0), failed)
}

func TestDistributorRetriesThenDeadLetters(t *testing.T) {
	store := memory.New()

	var attempts atomic.Int32
	d := NewDistributor(store, []Stage{{
		Queue:   queue.QueueDiscovery,
		Workers: 1,
		Handler: func(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
			attempts.Add(1)
			return nil, errors.New("source down")
		},
	}}, Config{MaxAttempts: 3, PollInterval: 5 * time.Millisecond})

	enqueue(t, store, queue.QueueDiscovery, models.HuntingTask{ID: "t1", Type: models.TaskTypeDiscover})

	d.Start(context.Background())
	defer d.Stop(context.Background())

	drainUntil(t, func() bool { return depth(t, store, queue.QueueDeadLetter) == 1 })

	assert.Equal(t, int32(3), attempts.Load(), "a task is attempted exactly max times")
	assert.Equal(t, int64(0), depth(t, store, queue.QueueDiscovery))
	assert.Equal(t, int64(0), depth(t, store, queue.ProcessingQueue(queue.QueueDiscovery)))

	var dead models.HuntingTask
	require.NoError(t, json.Unmarshal(store.Items(queue.QueueDeadLetter)[0], &dead))
	assert.Equal(t, "t1", dead.ID)
	assert.Equal(t, models.TaskStatusDeadLetter, dead.Status)
	assert.Equal(t, 3, dead.Attempts)
}

func TestDistributorRecoversAfterTransientFailure(t *testing.T) {
	store := memory.New()

	var attempts atomic.Int32
	d := NewDistributor(store, []Stage{{
		Queue:   queue.QueueDiscovery,
		Workers: 1,
		Handler: func(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("flaky")
			}
			return nil, nil
		},
	}}, Config{MaxAttempts: 3, PollInterval: 5 * time.Millisecond})

	enqueue(t, store, queue.QueueDiscovery, models.HuntingTask{ID: "t1"})

	d.Start(context.Background())
	defer d.Stop(context.Background())

	drainUntil(t, func() bool {
		processed, _ := d.Stats()
		return processed == 1
	})

	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int64(0), depth(t, store, queue.QueueDeadLetter))
}

func TestDistributorDeadLettersMalformedPayloads(t *testing.T) {
	store := memory.New()

	d := NewDistributor(store, []Stage{{
		Queue:   queue.QueueDiscovery,
		Workers: 1,
		Handler: func(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
			t.Error("handler must not run for malformed payloads")
			return nil, nil
		},
	}}, Config{PollInterval: 5 * time.Millisecond})

	require.NoError(t, store.Push(context.Background(), queue.QueueDiscovery, []byte("{not json")))

	d.Start(context.Background())
	defer d.Stop(context.Background())

	drainUntil(t, func() bool { return depth(t, store, queue.QueueDeadLetter) == 1 })
	assert.Equal(t, int64(0), depth(t, store, queue.ProcessingQueue(queue.QueueDiscovery)))
}

func TestDistributorDeferredTaskKeepsAttempts(t *testing.T) {
	store := memory.New()

	var calls atomic.Int32
	released := make(chan struct{})
	d := NewDistributor(store, []Stage{{
		Queue:   queue.QueueDiscovery,
		Workers: 1,
		Handler: func(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
			assert.Equal(t, 0, task.Attempts, "deferral must not consume an attempt")
			if calls.Add(1) < 3 {
				return nil, ErrTaskDeferred
			}
			close(released)
			return nil, nil
		},
	}}, Config{MaxAttempts: 3, PollInterval: 5 * time.Millisecond})

	enqueue(t, store, queue.QueueDiscovery, models.HuntingTask{ID: "t1"})

	d.Start(context.Background())
	defer d.Stop(context.Background())

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("deferred task was never retried")
	}

	drainUntil(t, func() bool { return depth(t, store, queue.ProcessingQueue(queue.QueueDiscovery)) == 0 })
	assert.Equal(t, int64(0), depth(t, store, queue.QueueDeadLetter))
}

func TestDistributorStoreReadFailureLeavesTaskRetrievable(t *testing.T) {
	store := memory.New()

	var handled atomic.Int32
	d := NewDistributor(store, []Stage{{
		Queue:   queue.QueueDiscovery,
		Workers: 1,
		Handler: func(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
			handled.Add(1)
			return nil, nil
		},
	}}, Config{PollInterval: 2 * time.Millisecond})

	enqueue(t, store, queue.QueueDiscovery, models.HuntingTask{ID: "t1"})
	store.FailNext(2)

	d.Start(context.Background())
	defer d.Stop(context.Background())

	drainUntil(t, func() bool { return handled.Load() == 1 })
}

func TestDistributorStopWaitsForInFlightTask(t *testing.T) {
	store := memory.New()

	started := make(chan struct{})
	var finished atomic.Bool
	d := NewDistributor(store, []Stage{{
		Queue:   queue.QueueDiscovery,
		Workers: 1,
		Handler: func(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil, nil
		},
	}}, Config{PollInterval: 5 * time.Millisecond})

	enqueue(t, store, queue.QueueDiscovery, models.HuntingTask{ID: "t1"})

	d.Start(context.Background())
	<-started

	require.NoError(t, d.Stop(context.Background()))
	assert.True(t, finished.Load(), "stop returns only after the in-flight task completes")
	assert.Equal(t, int64(0), depth(t, store, queue.ProcessingQueue(queue.QueueDiscovery)))
}

func TestDistributorStopIsIdempotent(t *testing.T) {
	d := NewDistributor(memory.New(), nil, Config{PollInterval: 5 * time.Millisecond})
	d.Start(context.Background())

	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
}
