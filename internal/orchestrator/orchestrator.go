package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/aggregator"
	"github.com/hunter-swarm/backend/internal/enricher"
	"github.com/hunter-swarm/backend/internal/health"
	"github.com/hunter-swarm/backend/internal/hunter"
	"github.com/hunter-swarm/backend/internal/metrics"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/pipeline"
	"github.com/hunter-swarm/backend/internal/quality"
	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/internal/validator"
	"github.com/hunter-swarm/backend/pkg/logger"
)

// ErrStartup marks initialization failures. The orchestrator releases every
// partially created resource before surfacing it; there is no half-started
// state.
var ErrStartup = errors.New("orchestrator startup failed")

// ActiveHunterSet is the store set holding ids of hunters allowed to fetch.
const ActiveHunterSet = "active-hunters"

// Event is a completion or error notification emitted by the pipeline and
// consumed over a bounded channel; backpressure and shutdown ordering stay
// explicit instead of hiding in callback fan-out.
type Event struct {
	Type     string    `json:"type"`
	HunterID string    `json:"hunter_id,omitempty"`
	Source   string    `json:"source,omitempty"`
	Count    int       `json:"count,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// HunterFactory builds a hunter from its config. Injected so tests can supply
// stub hunters.
type HunterFactory func(cfg models.HunterConfig) (hunter.Hunter, error)

type Config struct {
	Hunters             []models.HunterConfig
	SourceBaseURLs      map[string]string
	DiscoveryWorkers    int
	ValidationWorkers   int
	EnrichmentWorkers   int
	ExportWorkers       int
	MaxAttempts         int
	PollInterval        time.Duration
	ShutdownTimeout     time.Duration
	ExportCheckInterval time.Duration
	Health              health.Config
}

// Orchestrator owns the hunter pool and the pipeline topology. It is the only
// component that knows which queue feeds which stage; everything else sees
// just its own input and output.
type Orchestrator struct {
	cfg        Config
	store      queue.Store
	validator  *validator.Validator
	enricher   *enricher.Enricher
	scorer     *quality.Scorer
	aggregator *aggregator.Aggregator
	factory    HunterFactory

	mu      sync.Mutex
	hunters map[string]hunter.Hunter
	running bool
	stopped bool

	distributor *pipeline.Distributor
	collector   *health.Collector
	runCancel   context.CancelFunc
	loopWG      sync.WaitGroup

	events      chan Event
	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
}

func New(
	store queue.Store,
	v *validator.Validator,
	e *enricher.Enricher,
	s *quality.Scorer,
	a *aggregator.Aggregator,
	factory HunterFactory,
	cfg Config,
) *Orchestrator {
	if factory == nil {
		baseURLs := cfg.SourceBaseURLs
		factory = func(hc models.HunterConfig) (hunter.Hunter, error) {
			return hunter.New(hc, baseURLs)
		}
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ExportCheckInterval == 0 {
		cfg.ExportCheckInterval = time.Minute
	}

	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		validator:   v,
		enricher:    e,
		scorer:      s,
		aggregator:  a,
		factory:     factory,
		hunters:     make(map[string]hunter.Hunter),
		events:      make(chan Event, 256),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Start initializes the hunter pool, wires the four queue processors, seeds
// each hunter's source list as discovery tasks, and begins metrics and health
// collection. Any failure releases partial resources and returns ErrStartup.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("%w: already started", ErrStartup)
	}

	if err := o.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: queue store unreachable: %v", ErrStartup, err)
	}

	for _, hc := range o.cfg.Hunters {
		h, err := o.factory(hc)
		if err != nil {
			o.releaseHuntersLocked(ctx)
			return fmt.Errorf("%w: failed to create %s hunter: %v", ErrStartup, hc.Type, err)
		}
		o.hunters[h.ID()] = h
		if hc.Enabled {
			if err := o.store.SetAdd(ctx, ActiveHunterSet, h.ID()); err != nil {
				o.releaseHuntersLocked(ctx)
				return fmt.Errorf("%w: failed to activate hunter: %v", ErrStartup, err)
			}
		}
		metrics.ActiveHunters.WithLabelValues(h.Type()).Inc()
	}

	o.distributor = pipeline.NewDistributor(o.store, []pipeline.Stage{
		{Queue: queue.QueueDiscovery, Next: queue.QueueValidation, Workers: o.cfg.DiscoveryWorkers, Handler: o.handleDiscover},
		{Queue: queue.QueueValidation, Next: queue.QueueEnrichment, Workers: o.cfg.ValidationWorkers, Handler: o.handleValidate},
		{Queue: queue.QueueEnrichment, Next: queue.QueueExport, Workers: o.cfg.EnrichmentWorkers, Handler: o.handleEnrich},
		{Queue: queue.QueueExport, Workers: o.cfg.ExportWorkers, Handler: o.handleExport},
	}, pipeline.Config{
		MaxAttempts:  o.cfg.MaxAttempts,
		PollInterval: o.cfg.PollInterval,
	})

	if err := o.seedTasksLocked(ctx); err != nil {
		o.releaseHuntersLocked(ctx)
		return fmt.Errorf("%w: failed to seed discovery tasks: %v", ErrStartup, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.runCancel = cancel

	o.collector = health.NewCollector(o.store, o, o.cfg.Health)
	o.collector.Start(runCtx)
	o.distributor.Start(runCtx)

	o.loopWG.Add(2)
	go o.eventLoop(runCtx)
	go o.exportLoop(runCtx)

	o.running = true
	o.stopped = false

	logger.Info("Orchestrator started",
		zap.Int("hunters", len(o.hunters)),
		zap.Int("max_attempts", o.cfg.MaxAttempts),
	)

	return nil
}

// Stop signals all queue processors to cease consuming, waits for in-flight
// tasks bounded by the shutdown timeout, releases hunters, and stops
// collection. Idempotent: stopping a stopped orchestrator is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running || o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.stopped = true
	o.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, o.cfg.ShutdownTimeout)
	defer cancel()

	if err := o.distributor.Stop(shutdownCtx); err != nil {
		logger.Warn("Distributor did not drain before shutdown timeout", zap.Error(err))
	}

	o.runCancel()
	o.loopWG.Wait()
	o.collector.Stop()

	o.mu.Lock()
	o.releaseHuntersLocked(ctx)
	o.mu.Unlock()

	logger.Info("Orchestrator stopped")
	return nil
}

func (o *Orchestrator) seedTasksLocked(ctx context.Context) error {
	for _, h := range o.hunters {
		for _, source := range h.Config().Sources {
			task := newTask(models.TaskTypeDiscover, h.ID(), models.Source{Type: h.Type(), ID: source})
			if err := o.distributor.Enqueue(ctx, queue.QueueDiscovery, task); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) releaseHuntersLocked(ctx context.Context) {
	for id, h := range o.hunters {
		h.Close()
		if err := o.store.SetRemove(ctx, ActiveHunterSet, id); err != nil {
			logger.Warn("Failed to remove hunter from active set", zap.String("hunter_id", id), zap.Error(err))
		}
		metrics.ActiveHunters.WithLabelValues(h.Type()).Dec()
		delete(o.hunters, id)
	}
}

// ScaleHunters brings the live count of hunters of a type to exactly target,
// creating or destroying instances. Destroyed hunters finish their current
// fetch before teardown; the pool map itself is mutated only here and under
// the orchestrator's lock.
func (o *Orchestrator) ScaleHunters(ctx context.Context, hunterType string, target int) error {
	if target < 0 {
		return fmt.Errorf("target count must be non-negative")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var existing []hunter.Hunter
	for _, h := range o.hunters {
		if h.Type() == hunterType {
			existing = append(existing, h)
		}
	}

	template, err := o.templateFor(hunterType)
	if err != nil {
		return err
	}

	for len(existing) < target {
		cfg := template
		cfg.ID = ""
		h, err := o.factory(cfg)
		if err != nil {
			return fmt.Errorf("failed to create %s hunter: %w", hunterType, err)
		}
		o.hunters[h.ID()] = h
		if err := o.store.SetAdd(ctx, ActiveHunterSet, h.ID()); err != nil {
			return fmt.Errorf("failed to activate hunter: %w", err)
		}
		metrics.ActiveHunters.WithLabelValues(hunterType).Inc()
		existing = append(existing, h)
	}

	for len(existing) > target {
		h := existing[len(existing)-1]
		existing = existing[:len(existing)-1]

		delete(o.hunters, h.ID())
		if err := o.store.SetRemove(ctx, ActiveHunterSet, h.ID()); err != nil {
			logger.Warn("Failed to deactivate hunter", zap.String("hunter_id", h.ID()), zap.Error(err))
		}
		// Close only releases idle resources; an in-flight Hunt holds its own
		// reference and completes normally.
		h.Close()
		metrics.ActiveHunters.WithLabelValues(hunterType).Dec()
	}

	o.publish(Event{Type: "hunters_scaled", Source: hunterType, Count: target, At: time.Now().UTC()})
	logger.Info("Hunters scaled", zap.String("type", hunterType), zap.Int("target", target))
	return nil
}

func (o *Orchestrator) templateFor(hunterType string) (models.HunterConfig, error) {
	for _, hc := range o.cfg.Hunters {
		if hc.Type == hunterType {
			return hc, nil
		}
	}

	switch hunterType {
	case models.HunterTypeGovernment, models.HunterTypeRegistry,
		models.HunterTypeDirectory, models.HunterTypeSocial:
		return models.HunterConfig{Type: hunterType, RateLimit: 30, Enabled: true}, nil
	default:
		return models.HunterConfig{}, fmt.Errorf("unknown hunter type: %s", hunterType)
	}
}

// PauseHunter removes a hunter from the active set without destroying it. Its
// queued tasks stay queued.
func (o *Orchestrator) PauseHunter(ctx context.Context, id string) error {
	o.mu.Lock()
	_, ok := o.hunters[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown hunter: %s", id)
	}

	if err := o.store.SetRemove(ctx, ActiveHunterSet, id); err != nil {
		return fmt.Errorf("failed to pause hunter: %w", err)
	}

	o.publish(Event{Type: "hunter_paused", HunterID: id, At: time.Now().UTC()})
	logger.Info("Hunter paused", zap.String("hunter_id", id))
	return nil
}

func (o *Orchestrator) ResumeHunter(ctx context.Context, id string) error {
	o.mu.Lock()
	_, ok := o.hunters[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown hunter: %s", id)
	}

	if err := o.store.SetAdd(ctx, ActiveHunterSet, id); err != nil {
		return fmt.Errorf("failed to resume hunter: %w", err)
	}

	o.publish(Event{Type: "hunter_resumed", HunterID: id, At: time.Now().UTC()})
	logger.Info("Hunter resumed", zap.String("hunter_id", id))
	return nil
}

// RestartHunter destroys and recreates a hunter with the same configuration,
// recovering one stuck in a bad internal state.
func (o *Orchestrator) RestartHunter(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	old, ok := o.hunters[id]
	if !ok {
		return fmt.Errorf("unknown hunter: %s", id)
	}

	cfg := old.Config()
	old.Close()

	fresh, err := o.factory(cfg)
	if err != nil {
		delete(o.hunters, id)
		metrics.ActiveHunters.WithLabelValues(cfg.Type).Dec()
		return fmt.Errorf("failed to recreate hunter %s: %w", id, err)
	}

	o.hunters[fresh.ID()] = fresh

	o.publish(Event{Type: "hunter_restarted", HunterID: id, At: time.Now().UTC()})
	logger.Info("Hunter restarted", zap.String("hunter_id", id))
	return nil
}

// Hunters lists the pool's configurations with live activation state.
func (o *Orchestrator) Hunters(ctx context.Context) []models.HunterConfig {
	active, err := o.store.SetMembers(ctx, ActiveHunterSet)
	if err != nil {
		logger.Warn("Failed to read active hunter set", zap.Error(err))
	}
	activeSet := make(map[string]struct{}, len(active))
	for _, id := range active {
		activeSet[id] = struct{}{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	configs := make([]models.HunterConfig, 0, len(o.hunters))
	for id, h := range o.hunters {
		cfg := h.Config()
		_, cfg.Enabled = activeSet[id]
		configs = append(configs, cfg)
	}
	return configs
}

// Progress returns the aggregate discovery view surfaced to the dashboard.
func (o *Orchestrator) Progress(ctx context.Context) models.Progress {
	discovered, err := o.store.Counter(ctx, "stats:discovered")
	if err != nil {
		logger.Warn("Failed to read discovery counter", zap.Error(err))
	}

	accepted, indigenous, rate := o.aggregator.Progress()

	percent := 0.0
	if discovered > 0 {
		percent = float64(accepted) / float64(discovered) * 100
		if percent > 100 {
			percent = 100
		}
	}

	active, _ := o.HunterCounts()

	return models.Progress{
		TotalDiscovered:      discovered,
		IndigenousIdentified: indigenous,
		PercentComplete:      percent,
		ActiveHunters:        active,
		DiscoveryRate:        rate,
	}
}

// SystemHealth returns the collector's latest snapshot. Pure read.
func (o *Orchestrator) SystemHealth() models.HealthSnapshot {
	return o.collector.Snapshot()
}

// ExportBusinesses serves an ad-hoc export; it never mutates pipeline state.
func (o *Orchestrator) ExportBusinesses(ctx context.Context, format string, filter map[string]string) ([]byte, error) {
	return o.aggregator.Export(ctx, format, filter)
}

// HunterCounts implements health.Source.
func (o *Orchestrator) HunterCounts() (active, total int) {
	members, err := o.store.SetMembers(context.Background(), ActiveHunterSet)
	if err != nil {
		logger.Warn("Failed to read active hunter set", zap.Error(err))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	total = len(o.hunters)
	for _, id := range members {
		if _, ok := o.hunters[id]; ok {
			active++
		}
	}
	return active, total
}

// PipelineStats implements health.Source.
func (o *Orchestrator) PipelineStats() (processed, failed uint64) {
	if o.distributor == nil {
		return 0, 0
	}
	return o.distributor.Stats()
}

// Subscribe registers a listener for pipeline events; the returned cancel
// detaches it. Slow listeners miss events rather than blocking the pipeline.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	o.subMu.Lock()
	o.subscribers[ch] = struct{}{}
	o.subMu.Unlock()

	cancel := func() {
		o.subMu.Lock()
		delete(o.subscribers, ch)
		o.subMu.Unlock()
	}
	return ch, cancel
}

func (o *Orchestrator) publish(event Event) {
	select {
	case o.events <- event:
	default:
		logger.Debug("Event channel full, dropping event", zap.String("type", event.Type))
	}
}

func (o *Orchestrator) eventLoop(ctx context.Context) {
	defer o.loopWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-o.events:
			o.subMu.Lock()
			for ch := range o.subscribers {
				select {
				case ch <- event:
				default:
				}
			}
			o.subMu.Unlock()
		}
	}
}

// exportLoop enforces the maximum inter-export interval so enriched records
// never wait longer than the configured bound for a full batch.
func (o *Orchestrator) exportLoop(ctx context.Context) {
	defer o.loopWG.Done()

	ticker := time.NewTicker(o.cfg.ExportCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.aggregator.MaybeExport(ctx); err != nil {
				logger.Warn("Scheduled export check failed", zap.Error(err))
			}
		}
	}
}
