package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/metrics"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/pkg/logger"
)

// ErrMalformedTask marks payloads that cannot be decoded into a HuntingTask.
// They go straight to the dead-letter queue; retrying cannot fix them.
var ErrMalformedTask = errors.New("malformed task")

// ErrTaskDeferred tells the distributor to return the task to the tail of its
// origin queue without consuming a retry attempt. Used when a task's hunter is
// paused: its work stays queued, not discarded.
var ErrTaskDeferred = errors.New("task deferred")

// Handler processes one task to completion and returns any follow-on tasks for
// the stage's output queue. Handlers know nothing about queue names.
type Handler func(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error)

// Stage wires one queue to its worker pool. Next is the output queue for
// follow-on tasks; empty for the terminal stage. Only the orchestrator knows
// the full topology.
type Stage struct {
	Queue   string
	Next    string
	Workers int
	Handler Handler
}

type Config struct {
	MaxAttempts  int
	PollInterval time.Duration
}

// Distributor runs one bounded worker pool per stage. Each worker takes one
// task with an atomic move into the stage's processing queue, runs it to
// completion, and acknowledges it, so no task is ever visible in two queues
// at once and none is dropped between take and ack.
type Distributor struct {
	store        queue.Store
	stages       []Stage
	maxAttempts  int
	pollInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	processedTotal atomic.Uint64
	failedTotal    atomic.Uint64
}

// Stats reports how many tasks completed and how many failed processing since
// startup. Read by the health collector.
func (d *Distributor) Stats() (processed, failed uint64) {
	return d.processedTotal.Load(), d.failedTotal.Load()
}

func NewDistributor(store queue.Store, stages []Stage, cfg Config) *Distributor {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	return &Distributor{
		store:        store,
		stages:       stages,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: cfg.PollInterval,
	}
}

func (d *Distributor) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true

	for _, stage := range d.stages {
		for i := 0; i < stage.Workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx, stage)
		}
	}

	logger.Info("Task distributor started", zap.Int("stages", len(d.stages)))
}

// Stop signals all workers to cease consuming and waits for in-flight tasks,
// bounded by the context deadline. Cooperative: workers finish their current
// task before exiting.
func (d *Distributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Task distributor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue marshals a task onto a named queue.
func (d *Distributor) Enqueue(ctx context.Context, queueName string, task models.HuntingTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return d.store.Push(ctx, queueName, payload)
}

func (d *Distributor) worker(ctx context.Context, stage Stage) {
	defer d.wg.Done()

	processing := queue.ProcessingQueue(stage.Queue)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := d.store.Move(ctx, stage.Queue, processing)
		if err != nil {
			// Store unavailable. The task, if any, was never taken, so it
			// stays retrievable. Back off and try again.
			logger.Warn("Queue store read failed",
				zap.String("queue", stage.Queue),
				zap.Error(err),
			)
			metrics.TasksProcessed.WithLabelValues(stage.Queue, "store_error").Inc()
			d.sleep(ctx, d.pollInterval*4)
			continue
		}

		if payload == nil {
			d.sleep(ctx, d.pollInterval)
			continue
		}

		d.process(ctx, stage, processing, payload)
	}
}

func (d *Distributor) process(ctx context.Context, stage Stage, processing string, payload []byte) {
	// Once a task is taken it runs to completion: the ack and any follow-on
	// pushes must survive a shutdown signal arriving mid-task.
	finishCtx := context.WithoutCancel(ctx)

	var task models.HuntingTask
	if err := json.Unmarshal(payload, &task); err != nil {
		logger.Error("Dead-lettering malformed task payload",
			zap.String("queue", stage.Queue),
			zap.Error(err),
		)
		d.deadLetter(finishCtx, stage.Queue, payload)
		d.ack(finishCtx, processing, payload)
		metrics.TasksProcessed.WithLabelValues(stage.Queue, "malformed").Inc()
		return
	}

	task.Status = models.TaskStatusProcessing

	next, err := stage.Handler(ctx, task)
	if errors.Is(err, ErrTaskDeferred) {
		if pushErr := d.store.Push(finishCtx, stage.Queue, payload); pushErr != nil {
			logger.Warn("Failed to defer task, leaving it in processing",
				zap.String("task_id", task.ID),
				zap.Error(pushErr),
			)
			return
		}
		d.ack(finishCtx, processing, payload)
		metrics.TasksProcessed.WithLabelValues(stage.Queue, "deferred").Inc()
		return
	}
	if err != nil {
		d.failedTotal.Add(1)
		d.handleFailure(finishCtx, stage, processing, payload, task, err)
		return
	}
	d.processedTotal.Add(1)

	for _, n := range next {
		if stage.Next == "" {
			break
		}
		if err := d.Enqueue(finishCtx, stage.Next, n); err != nil {
			// The current task stays in the processing queue for recovery
			// rather than ack'ing away work we failed to hand off.
			logger.Error("Failed to enqueue follow-on task",
				zap.String("queue", stage.Next),
				zap.String("task_id", n.ID),
				zap.Error(err),
			)
			metrics.TasksProcessed.WithLabelValues(stage.Queue, "handoff_error").Inc()
			return
		}
	}

	d.ack(finishCtx, processing, payload)
	metrics.TasksProcessed.WithLabelValues(stage.Queue, "success").Inc()
}

// handleFailure requeues the failed task to the tail of its origin stage with
// attempts incremented, or dead-letters it once attempts reach the cap.
// Attempts is the sole authority for the retry/DLQ decision.
func (d *Distributor) handleFailure(ctx context.Context, stage Stage, processing string, payload []byte, task models.HuntingTask, taskErr error) {
	task.Attempts++

	if task.Attempts >= d.maxAttempts {
		task.Status = models.TaskStatusDeadLetter
		requeued, err := json.Marshal(task)
		if err != nil {
			requeued = payload
		}
		d.deadLetter(ctx, stage.Queue, requeued)
		d.ack(ctx, processing, payload)
		logger.Error("Task exhausted retries, dead-lettered",
			zap.String("task_id", task.ID),
			zap.String("queue", stage.Queue),
			zap.Int("attempts", task.Attempts),
			zap.Error(taskErr),
		)
		metrics.TasksProcessed.WithLabelValues(stage.Queue, "dead_letter").Inc()
		return
	}

	task.Status = models.TaskStatusFailed
	requeued, err := json.Marshal(task)
	if err != nil {
		requeued = payload
	}

	// Tail requeue keeps one flaky task from blocking the rest of the stage.
	if err := d.store.Push(ctx, stage.Queue, requeued); err != nil {
		logger.Error("Failed to requeue task, leaving it in processing",
			zap.String("task_id", task.ID),
			zap.String("queue", stage.Queue),
			zap.Error(err),
		)
		metrics.TasksProcessed.WithLabelValues(stage.Queue, "store_error").Inc()
		return
	}

	d.ack(ctx, processing, payload)
	logger.Warn("Task failed, requeued for retry",
		zap.String("task_id", task.ID),
		zap.String("queue", stage.Queue),
		zap.Int("attempts", task.Attempts),
		zap.Error(taskErr),
	)
	metrics.TasksProcessed.WithLabelValues(stage.Queue, "retry").Inc()
}

func (d *Distributor) deadLetter(ctx context.Context, stage string, payload []byte) {
	if err := d.store.Push(ctx, queue.QueueDeadLetter, payload); err != nil {
		logger.Error("Failed to push to dead-letter queue", zap.Error(err))
		return
	}
	metrics.TasksDeadLettered.WithLabelValues(stage).Inc()
}

func (d *Distributor) ack(ctx context.Context, processing string, payload []byte) {
	if err := d.store.Ack(ctx, processing, payload); err != nil {
		logger.Warn("Failed to ack task", zap.String("queue", processing), zap.Error(err))
	}
}

func (d *Distributor) sleep(ctx context.Context, duration time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
}
