package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hunter_swarm_queue_depth",
			Help: "Current depth of each pipeline queue",
		},
		[]string{"queue"},
	)

	TasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_swarm_tasks_processed_total",
			Help: "Total pipeline tasks processed by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	TasksDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_swarm_tasks_dead_lettered_total",
			Help: "Total tasks moved to the dead-letter queue",
		},
		[]string{"stage"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hunter_swarm_fetch_duration_seconds",
			Help:    "Source fetch duration by hunter type",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"hunter_type"},
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_swarm_fetch_errors_total",
			Help: "Total failed source fetches by hunter type",
		},
		[]string{"hunter_type"},
	)

	BusinessesDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hunter_swarm_businesses_discovered_total",
			Help: "Total candidate businesses discovered",
		},
	)

	BusinessesValidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_swarm_businesses_validated_total",
			Help: "Total businesses validated by outcome",
		},
		[]string{"outcome"},
	)

	BusinessesEnriched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_swarm_businesses_enriched_total",
			Help: "Total businesses enriched by outcome",
		},
		[]string{"outcome"},
	)

	BusinessesExported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hunter_swarm_businesses_exported_total",
			Help: "Total businesses exported downstream",
		},
	)

	ExportBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_swarm_export_batches_total",
			Help: "Total export batches by outcome",
		},
		[]string{"outcome"},
	)

	ActiveHunters = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hunter_swarm_active_hunters",
			Help: "Live hunters by type",
		},
		[]string{"type"},
	)

	HealthStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hunter_swarm_health_status",
			Help: "System health: 0 healthy, 1 degraded, 2 critical",
		},
	)

	QualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hunter_swarm_quality_score",
			Help:    "Quality scores of accepted businesses",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
)

func Init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(TasksProcessed)
	prometheus.MustRegister(TasksDeadLettered)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(FetchErrors)
	prometheus.MustRegister(BusinessesDiscovered)
	prometheus.MustRegister(BusinessesValidated)
	prometheus.MustRegister(BusinessesEnriched)
	prometheus.MustRegister(BusinessesExported)
	prometheus.MustRegister(ExportBatches)
	prometheus.MustRegister(ActiveHunters)
	prometheus.MustRegister(HealthStatus)
	prometheus.MustRegister(QualityScore)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
