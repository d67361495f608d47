package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/aggregator"
	"github.com/hunter-swarm/backend/internal/api/handlers"
	"github.com/hunter-swarm/backend/internal/enricher"
	"github.com/hunter-swarm/backend/internal/health"
	"github.com/hunter-swarm/backend/internal/metrics"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/orchestrator"
	"github.com/hunter-swarm/backend/internal/quality"
	qredis "github.com/hunter-swarm/backend/internal/queue/redis"
	"github.com/hunter-swarm/backend/internal/storage/sqlite"
	"github.com/hunter-swarm/backend/internal/validator"
	"github.com/hunter-swarm/backend/pkg/config"
	appLogger "github.com/hunter-swarm/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Business Discovery Swarm")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	store, err := qredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer store.Close()

	v := validator.New(store, cfg.Dedup.SeenTTL)

	lookup := enricher.NewHTTPLookup(cfg.Enricher.VerificationURL, cfg.Enricher.LookupTimeout)
	e := enricher.New(lookup, store, cfg.Enricher.CacheTTL)

	scorer := quality.NewScorer(store, cfg.Enricher.QualityCacheTTL)

	agg := aggregator.New(sqliteClient, aggregator.Config{
		BatchSize:    cfg.Export.BatchSize,
		MaxInterval:  cfg.Export.MaxInterval,
		WebhookURL:   cfg.Export.WebhookURL,
		WebhookToken: cfg.Export.WebhookToken,
	})

	orch := orchestrator.New(store, v, e, scorer, agg, nil, orchestrator.Config{
		Hunters:           hunterConfigs(cfg.Hunters),
		SourceBaseURLs:    sourceBaseURLs(),
		DiscoveryWorkers:  cfg.Pipeline.DiscoveryWorkers,
		ValidationWorkers: cfg.Pipeline.ValidationWorkers,
		EnrichmentWorkers: cfg.Pipeline.EnrichmentWorkers,
		ExportWorkers:     cfg.Pipeline.ExportWorkers,
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		PollInterval:      cfg.Pipeline.PollInterval,
		ShutdownTimeout:   cfg.Pipeline.ShutdownTimeout,
		Health: health.Config{
			Interval:            cfg.Health.Interval,
			QueueDepthThreshold: cfg.Health.QueueDepthThreshold,
			ErrorRateThreshold:  cfg.Health.ErrorRateThreshold,
			CriticalAfter:       cfg.Health.CriticalAfter,
		},
	})

	if err := orch.Start(context.Background()); err != nil {
		appLogger.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	swarmHandler := handlers.NewSwarmHandler(orch)
	wsHandler := handlers.NewWebSocketHandler(orch)

	api := app.Group("/api/v1")

	api.Get("/health", swarmHandler.GetHealth)
	api.Get("/progress", swarmHandler.GetProgress)
	api.Get("/hunters", swarmHandler.ListHunters)
	api.Post("/hunters/scale", swarmHandler.ScaleHunters)
	api.Post("/hunters/:id/pause", swarmHandler.PauseHunter)
	api.Post("/hunters/:id/resume", swarmHandler.ResumeHunter)
	api.Post("/hunters/:id/restart", swarmHandler.RestartHunter)
	api.Post("/export", swarmHandler.ExportBusinesses)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/progress", websocket.New(wsHandler.HandleProgress))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer cancel()

	if err := orch.Stop(shutdownCtx); err != nil {
		appLogger.Error("Orchestrator shutdown error", zap.Error(err))
	}

	app.Shutdown()
	appLogger.Info("Stopped")
}

// hunterConfigs replicates each configured hunter definition by its count so
// the orchestrator sees one config per instance.
func hunterConfigs(defs []config.HunterDef) []models.HunterConfig {
	var configs []models.HunterConfig
	for _, def := range defs {
		count := def.Count
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			configs = append(configs, models.HunterConfig{
				Type:      def.Type,
				RateLimit: def.RateLimit,
				Priority:  def.Priority,
				Enabled:   true,
				Sources:   def.Sources,
			})
		}
	}
	return configs
}

func sourceBaseURLs() map[string]string {
	return map[string]string{
		models.HunterTypeGovernment: "https://open.canada.ca/data/api",
		models.HunterTypeRegistry:   "https://registry.ised-isde.canada.ca/api",
		models.HunterTypeDirectory:  "https://www.ccab.com/directory",
		models.HunterTypeSocial:     "https://www.linkedin.com/company",
	}
}
