package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/metrics"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/pkg/logger"
)

// Source exposes the counters the collector reads. It is a pure read surface:
// the collector never mutates pipeline state through it.
type Source interface {
	HunterCounts() (active, total int)
	PipelineStats() (processed, failed uint64)
}

type Config struct {
	Interval            time.Duration
	QueueDepthThreshold int64
	ErrorRateThreshold  float64
	CriticalAfter       int
}

// Collector polls queue depths and pipeline counters on a fixed interval and
// classifies system status. A monitoring read error yields the last known
// snapshot; it never propagates into the serving path.
type Collector struct {
	store  queue.Store
	source Source
	cfg    Config

	mu                  sync.Mutex
	snapshot            models.HealthSnapshot
	consecutiveDegraded int
	cancel              context.CancelFunc
	done                chan struct{}
}

func NewCollector(store queue.Store, source Source, cfg Config) *Collector {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.QueueDepthThreshold == 0 {
		cfg.QueueDepthThreshold = 5000
	}
	if cfg.ErrorRateThreshold == 0 {
		cfg.ErrorRateThreshold = 0.10
	}
	if cfg.CriticalAfter == 0 {
		cfg.CriticalAfter = 3
	}

	return &Collector{
		store:  store,
		source: source,
		cfg:    cfg,
		snapshot: models.HealthSnapshot{
			Status:      models.StatusHealthy,
			QueueDepths: map[string]int64{},
			CheckedAt:   time.Now().UTC(),
		},
	}
}

func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		c.poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.poll(ctx)
			}
		}
	}()

	logger.Info("Health collector started", zap.Duration("interval", c.cfg.Interval))
}

func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Snapshot returns the latest health view.
func (c *Collector) Snapshot() models.HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshot
	depths := make(map[string]int64, len(snap.QueueDepths))
	for k, v := range snap.QueueDepths {
		depths[k] = v
	}
	snap.QueueDepths = depths
	return snap
}

func (c *Collector) poll(ctx context.Context) {
	depths := make(map[string]int64)
	readFailed := false

	for _, name := range append(queue.StageQueues(), queue.QueueDeadLetter) {
		depth, err := c.store.Depth(ctx, name)
		if err != nil {
			logger.Warn("Health poll could not read queue depth", zap.String("queue", name), zap.Error(err))
			readFailed = true
			continue
		}
		depths[name] = depth
		metrics.QueueDepth.WithLabelValues(name).Set(float64(depth))
	}

	if readFailed {
		// Keep the previous snapshot rather than reporting partial numbers.
		return
	}

	active, total := c.source.HunterCounts()
	processed, failed := c.source.PipelineStats()

	errorRate := 0.0
	if processed+failed > 0 {
		errorRate = float64(failed) / float64(processed+failed)
	}

	degraded := errorRate > c.cfg.ErrorRateThreshold
	for _, name := range queue.StageQueues() {
		if depths[name] > c.cfg.QueueDepthThreshold {
			degraded = true
		}
	}
	if depths[queue.QueueDeadLetter] > c.cfg.QueueDepthThreshold {
		degraded = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if degraded {
		c.consecutiveDegraded++
	} else {
		c.consecutiveDegraded = 0
	}

	status := models.StatusHealthy
	switch {
	case c.consecutiveDegraded >= c.cfg.CriticalAfter:
		status = models.StatusCritical
	case degraded:
		status = models.StatusDegraded
	}

	c.snapshot = models.HealthSnapshot{
		Status:        status,
		QueueDepths:   depths,
		ActiveHunters: active,
		TotalHunters:  total,
		ErrorRate:     errorRate,
		DeadLettered:  depths[queue.QueueDeadLetter],
		CheckedAt:     time.Now().UTC(),
	}

	metrics.HealthStatus.Set(statusValue(status))

	if status != models.StatusHealthy {
		logger.Warn("System health degraded",
			zap.String("status", status),
			zap.Float64("error_rate", errorRate),
			zap.Any("queue_depths", depths),
		)
	}
}

func statusValue(status string) float64 {
	switch status {
	case models.StatusDegraded:
		return 1
	case models.StatusCritical:
		return 2
	default:
		return 0
	}
}
