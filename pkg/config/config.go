package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	SQLite   SQLiteConfig
	Pipeline PipelineConfig
	Export   ExportConfig
	Enricher EnricherConfig
	Health   HealthConfig
	Dedup    DedupConfig
	Hunters  []HunterDef
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type PipelineConfig struct {
	DiscoveryWorkers  int
	ValidationWorkers int
	EnrichmentWorkers int
	ExportWorkers     int
	MaxAttempts       int
	PollInterval      time.Duration
	ShutdownTimeout   time.Duration
}

type ExportConfig struct {
	BatchSize    int
	MaxInterval  time.Duration
	WebhookURL   string
	WebhookToken string
}

type EnricherConfig struct {
	VerificationURL string
	LookupTimeout   time.Duration
	CacheTTL        time.Duration
	QualityCacheTTL time.Duration
}

type HealthConfig struct {
	Interval            time.Duration
	QueueDepthThreshold int64
	ErrorRateThreshold  float64
	CriticalAfter       int
}

type DedupConfig struct {
	SeenTTL      time.Duration
	BlacklistTTL time.Duration
}

type HunterDef struct {
	Type      string
	RateLimit int
	Priority  int
	Count     int
	Sources   []string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/hunter-swarm")

	viper.SetEnvPrefix("HUNTER_SWARM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("sqlite.path", "./data/swarm.db")

	viper.SetDefault("pipeline.discoveryWorkers", 4)
	viper.SetDefault("pipeline.validationWorkers", 8)
	viper.SetDefault("pipeline.enrichmentWorkers", 4)
	viper.SetDefault("pipeline.exportWorkers", 2)
	viper.SetDefault("pipeline.maxAttempts", 3)
	viper.SetDefault("pipeline.pollInterval", "500ms")
	viper.SetDefault("pipeline.shutdownTimeout", "30s")

	viper.SetDefault("export.batchSize", 1000)
	viper.SetDefault("export.maxInterval", "1h")
	viper.SetDefault("export.webhookURL", "")
	viper.SetDefault("export.webhookToken", "")

	viper.SetDefault("enricher.verificationURL", "http://localhost:9090")
	viper.SetDefault("enricher.lookupTimeout", "10s")
	viper.SetDefault("enricher.cacheTTL", "168h")
	viper.SetDefault("enricher.qualityCacheTTL", "15m")

	viper.SetDefault("health.interval", "30s")
	viper.SetDefault("health.queueDepthThreshold", 5000)
	viper.SetDefault("health.errorRateThreshold", 0.10)
	viper.SetDefault("health.criticalAfter", 3)

	viper.SetDefault("dedup.seenTTL", "168h")
	viper.SetDefault("dedup.blacklistTTL", "720h")

	viper.SetDefault("hunters", []map[string]interface{}{
		{"type": "government", "rateLimit": 30, "priority": 1, "count": 2, "sources": []string{"gov1"}},
		{"type": "registry", "rateLimit": 30, "priority": 2, "count": 2, "sources": []string{"reg1"}},
		{"type": "directory", "rateLimit": 20, "priority": 3, "count": 1, "sources": []string{"dir1"}},
		{"type": "social", "rateLimit": 10, "priority": 4, "count": 1, "sources": []string{"soc1"}},
	})

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
