package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/judge/sandbox"
	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/testdata"
	"codearena/internal/judge/verdict"
	"codearena/internal/submit/service"
	"codearena/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	judgeURLEnv = "JUDGE_URL"

	storageMinIO = "minio"
	storageLocal = "local"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// StorageConfig selects the object storage backend.
type StorageConfig struct {
	// Driver is "minio" (default) or "local".
	Driver    string `yaml:"driver"`
	LocalRoot string `yaml:"localRoot"`
}

// JudgeConfig holds orchestrator settings.
type JudgeConfig struct {
	CallMargin          time.Duration            `yaml:"callMargin"`
	Parallelism         int                      `yaml:"parallelism"`
	ForwardLimits       bool                     `yaml:"forwardLimits"`
	MaxConcurrentJudges int                      `yaml:"maxConcurrentJudges"`
	SlotWait            time.Duration            `yaml:"slotWait"`
	Tolerance           verdict.Tolerance        `yaml:"tolerance"`
	Retry               judgeService.RetryPolicy `yaml:"retry"`
	// TestDataBucket holds object:// test cases and pack:// data packs.
	TestDataBucket string                   `yaml:"testDataBucket"`
	PackCache      testdata.PackCacheConfig `yaml:"packCache"`
}

// SubmitConfig holds submission settings.
type SubmitConfig struct {
	SourceBucket    string                  `yaml:"sourceBucket"`
	SourceKeyPrefix string                  `yaml:"sourceKeyPrefix"`
	MaxCodeBytes    int                     `yaml:"maxCodeBytes"`
	IdempotencyTTL  time.Duration           `yaml:"idempotencyTTL"`
	StatusTTL       time.Duration           `yaml:"statusTTL"`
	ProblemCacheTTL time.Duration           `yaml:"problemCacheTTL"`
	ProblemEmptyTTL time.Duration           `yaml:"problemEmptyTTL"`
	VerdictTopic    string                  `yaml:"verdictTopic"`
	RateLimit       service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts        service.TimeoutConfig   `yaml:"timeouts"`
	ResolveVersions bool                    `yaml:"resolveVersions"`
}

// AppConfig holds submission-service configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	Storage  StorageConfig       `yaml:"storage"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Sandbox  sandbox.Config      `yaml:"sandbox"`
	Judge    JudgeConfig         `yaml:"judge"`
	Submit   SubmitConfig        `yaml:"submit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	// A missing .env is fine; the variables may come from the environment.
	_ = godotenv.Load()

	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if url := strings.TrimSpace(os.Getenv(judgeURLEnv)); url != "" {
		cfg.Sandbox.BaseURL = url
	}
	if cfg.Sandbox.BaseURL == "" {
		return nil, fmt.Errorf("sandbox baseURL is required (or set %s)", judgeURLEnv)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	switch cfg.Storage.Driver {
	case "":
		cfg.Storage.Driver = storageMinIO
	case storageMinIO, storageLocal:
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == storageLocal && cfg.Storage.LocalRoot == "" {
		return nil, fmt.Errorf("storage localRoot is required for the local driver")
	}

	if cfg.Judge.Tolerance == (verdict.Tolerance{}) {
		cfg.Judge.Tolerance = verdict.DefaultTolerance
	}
	if cfg.Judge.Retry.MaxAttempts == 0 {
		cfg.Judge.Retry = judgeService.DefaultRetryPolicy
	}
	if cfg.Judge.TestDataBucket == "" {
		cfg.Judge.TestDataBucket = cfg.MinIO.Bucket
	}
	if cfg.Judge.PackCache.Bucket == "" {
		cfg.Judge.PackCache.Bucket = cfg.Judge.TestDataBucket
	}
	if cfg.Judge.PackCache.RootDir == "" {
		cfg.Judge.PackCache.RootDir = "/var/lib/codearena/packs"
	}

	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Submit.MaxCodeBytes == 0 {
		cfg.Submit.MaxCodeBytes = 2 << 20
	}
	if cfg.Submit.IdempotencyTTL == 0 {
		cfg.Submit.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Submit.StatusTTL == 0 {
		cfg.Submit.StatusTTL = 24 * time.Hour
	}
	if cfg.Submit.VerdictTopic == "" {
		cfg.Submit.VerdictTopic = "submission.verdicts"
	}
	if cfg.Submit.RateLimit.Window == 0 {
		cfg.Submit.RateLimit.Window = time.Minute
	}
	if cfg.Submit.Timeouts.DB == 0 {
		cfg.Submit.Timeouts.DB = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Cache == 0 {
		cfg.Submit.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Submit.Timeouts.MQ == 0 {
		cfg.Submit.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Storage == 0 {
		cfg.Submit.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Submit.Timeouts.Status == 0 {
		cfg.Submit.Timeouts.Status = 2 * time.Second
	}
	if cfg.Submit.Timeouts.Judge == 0 {
		cfg.Submit.Timeouts.Judge = 90 * time.Second
	}
	return &cfg, nil
}
