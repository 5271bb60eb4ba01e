// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AIConfig struct {
	OpenAIKey    string `yaml:"openai_key"`
	OpenAIBase   string `yaml:"openai_base"` // OpenAI-compatible base URL
	GeminiKey    string `yaml:"gemini_key"`
	GeminiURL    string `yaml:"gemini_url"`
	DefaultModel string `yaml:"default_model"`
	// Micro-units per token; used to turn reported usage into spend.
	InputTokenPriceMicros  int64 `yaml:"input_token_price_micros"`
	OutputTokenPriceMicros int64 `yaml:"output_token_price_micros"`
}

type IndexingConfig struct {
	// Concurrency is the analysis window: pages analyzed in parallel per batch.
	Concurrency int `yaml:"concurrency"`
	// BatchDelay spaces consecutive analysis batches to respect provider
	// rate limits.
	BatchDelay time.Duration `yaml:"batch_delay"`
	// CallTimeout bounds a single model call; expiry counts as a page-level
	// failure and the page stays unanalyzed.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// LockTTL bounds how long a crashed instance can hold a workspace lock.
	LockTTL       time.Duration `yaml:"lock_ttl"`
	RenderDPI     int           `yaml:"render_dpi"`
	RenderQuality int           `yaml:"render_quality"`
	DetailLevel   string        `yaml:"detail_level"`
	// RecoveryInterval is how often sched rescans for orphaned jobs.
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	AI       AIConfig       `yaml:"ai"`
	Indexing IndexingConfig `yaml:"indexing"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.AI.OpenAIKey == "" && cfg.AI.GeminiKey == "" && !dev {
		return nil, errors.New("no AI provider configured: set ai.openai_key or ai.gemini_key")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Indexing.Concurrency <= 0 {
		cfg.Indexing.Concurrency = 3
	}
	if cfg.Indexing.BatchDelay <= 0 {
		cfg.Indexing.BatchDelay = time.Second
	}
	if cfg.Indexing.CallTimeout <= 0 {
		cfg.Indexing.CallTimeout = 90 * time.Second
	}
	if cfg.Indexing.LockTTL <= 0 {
		cfg.Indexing.LockTTL = 15 * time.Minute
	}
	if cfg.Indexing.RenderDPI <= 0 {
		cfg.Indexing.RenderDPI = 150
	}
	if cfg.Indexing.RenderQuality <= 0 {
		cfg.Indexing.RenderQuality = 85
	}
	if cfg.Indexing.DetailLevel == "" {
		cfg.Indexing.DetailLevel = "high"
	}
	if cfg.Indexing.RecoveryInterval <= 0 {
		cfg.Indexing.RecoveryInterval = 5 * time.Minute
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "document-pages"
	}
}
