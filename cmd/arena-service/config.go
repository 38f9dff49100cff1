package main

import (
	"fmt"
	"os"
	"time"

	"codearena/internal/arena"
	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/mq"
	"codearena/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8087"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultConsumerGroup   = "arena-service"
	defaultVerdictTopic    = "submission.verdicts"
)

// ServerConfig holds HTTP server settings. WriteTimeout is not applied to
// upgraded websocket connections.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// ArenaConfig holds matchmaking settings.
type ArenaConfig struct {
	QueueCapacity int             `yaml:"queueCapacity"`
	Hub           arena.HubConfig `yaml:"hub"`
}

// ConsumerConfig holds verdict consumer settings.
type ConsumerConfig struct {
	VerdictTopic  string        `yaml:"verdictTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

// AppConfig holds arena-service configuration.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Logger   logger.Config     `yaml:"logger"`
	Database db.MySQLConfig    `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    mq.KafkaConfig    `yaml:"kafka"`
	Consumer ConsumerConfig    `yaml:"consumer"`
	Arena    ArenaConfig       `yaml:"arena"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Consumer.VerdictTopic == "" {
		cfg.Consumer.VerdictTopic = defaultVerdictTopic
	}
	if cfg.Consumer.ConsumerGroup == "" {
		cfg.Consumer.ConsumerGroup = defaultConsumerGroup
	}
	return &cfg, nil
}
