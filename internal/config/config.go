// Package config loads service settings from an optional YAML file, a .env
// file and ANALYTICS_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dvloznov/finance-analytics/internal/analytics/anomaly"
)

// Model store backends.
const (
	StoreMemory   = "memory"
	StoreGCS      = "gcs"
	StoreBigQuery = "bigquery"
	StoreMongo    = "mongo"
)

const envPrefix = "ANALYTICS"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	GCP        GCPConfig        `mapstructure:"gcp"`
	ModelStore ModelStoreConfig `mapstructure:"model_store"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GCPConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset"`
}

// ModelStoreConfig selects where fitted models are persisted.
type ModelStoreConfig struct {
	Backend       string `mapstructure:"backend"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type QueueConfig struct {
	Workers    int           `mapstructure:"workers"`
	BufferSize int           `mapstructure:"buffer_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

// EngineConfig holds defaults applied when a request leaves a parameter unset.
type EngineConfig struct {
	Threshold     float64 `mapstructure:"threshold"`
	Contamination float64 `mapstructure:"contamination"`
	Seed          int64   `mapstructure:"seed"`
	ForestTrees   int     `mapstructure:"forest_trees"`
	Clusters      int     `mapstructure:"clusters"`
	MonthsAhead   int     `mapstructure:"months_ahead"`
}

// SchedulerConfig drives the worker's recurring analyses. LookbackMonths
// bounds the transaction window of each scheduled job.
type SchedulerConfig struct {
	Cron           string   `mapstructure:"cron"`
	Organizations  []string `mapstructure:"organizations"`
	LookbackMonths int      `mapstructure:"lookback_months"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.dataset", "finance")
	v.SetDefault("model_store.backend", StoreMemory)
	v.SetDefault("model_store.bucket", "")
	v.SetDefault("model_store.prefix", "models")
	v.SetDefault("model_store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("model_store.mongo_database", "finance_analytics")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.buffer_size", 100)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.backoff", 5*time.Second)
	v.SetDefault("engine.threshold", 2.5)
	v.SetDefault("engine.contamination", 0.1)
	v.SetDefault("engine.seed", 42)
	v.SetDefault("engine.forest_trees", 100)
	v.SetDefault("engine.clusters", 5)
	v.SetDefault("engine.months_ahead", 3)
	v.SetDefault("scheduler.cron", "0 3 * * *")
	v.SetDefault("scheduler.organizations", []string{})
	v.SetDefault("scheduler.lookback_months", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration. A missing .env file is ignored; a configFile that
// cannot be read is an error. An empty configFile skips the YAML layer.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.ModelStore.Backend {
	case StoreMemory:
	case StoreGCS:
		if c.ModelStore.Bucket == "" {
			return fmt.Errorf("Validate: model_store.bucket is required for the gcs backend")
		}
	case StoreBigQuery:
		if c.GCP.ProjectID == "" {
			return fmt.Errorf("Validate: gcp.project_id is required for the bigquery backend")
		}
	case StoreMongo:
		if c.ModelStore.MongoURI == "" {
			return fmt.Errorf("Validate: model_store.mongo_uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("Validate: unknown model store backend %q", c.ModelStore.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("Validate: invalid server.port %d", c.Server.Port)
	}
	if t := c.Engine.Threshold; !(t >= anomaly.MinThreshold && t <= anomaly.MaxThreshold) {
		return fmt.Errorf("Validate: engine.threshold must be between %.1f and %.1f, got %v", anomaly.MinThreshold, anomaly.MaxThreshold, t)
	}
	if err := anomaly.ValidateContamination(c.Engine.Contamination); err != nil {
		return fmt.Errorf("Validate: engine.contamination: %w", err)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
