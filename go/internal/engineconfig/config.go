// Package engineconfig loads the auction engine's settings: defaults, then environment
// variables, then an optional YAML file named by ENGINE_CONFIG.
package engineconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/pennyauction/go/internal/auction/bots"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory" // development only: one lock covers every auction, lost on restart
)

// Config is the engine configuration.
type Config struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	Storage        string   `yaml:"storage"`

	TickInterval        time.Duration `yaml:"tick_interval"`
	SchedulerInterval   time.Duration `yaml:"scheduler_interval"`
	SchedulerStartDelay time.Duration `yaml:"scheduler_start_delay"`
	RecentBids          int           `yaml:"recent_bids"`

	Bots  BotConfig   `yaml:"bots"`
	NATS  NATSConfig  `yaml:"nats"`
	Kafka KafkaConfig `yaml:"kafka"`
	Redis RedisConfig `yaml:"redis"`
}

// BotConfig tunes the bot rotation engine.
type BotConfig struct {
	Triggers    []bots.Trigger `yaml:"triggers"`
	MinInterval time.Duration  `yaml:"min_interval"`
}

// NATSConfig configures event publishing and the command consumer. An empty URL disables both.
type NATSConfig struct {
	URL           string `yaml:"url"`
	EventPrefix   string `yaml:"event_prefix"`
	CommandPrefix string `yaml:"command_prefix"`
	QueueGroup    string `yaml:"queue_group"`
}

// KafkaConfig configures the audit stream. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RedisConfig configures the bid-token ledger. An empty Addr keeps balances in Postgres.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		AllowedOrigins:      []string{"*"},
		LogLevel:            "info",
		Storage:             StoragePostgres,
		TickInterval:        time.Second,
		SchedulerInterval:   time.Second,
		SchedulerStartDelay: 3 * time.Second,
		RecentBids:          5,
		Bots: BotConfig{
			Triggers:    append([]bots.Trigger(nil), bots.DefaultTriggers...),
			MinInterval: bots.DefaultMinInterval,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			EventPrefix:   "auction.events",
			CommandPrefix: "auction.commands",
			QueueGroup:    "auction-engine",
		},
		Kafka: KafkaConfig{
			Topic: "auction-events",
		},
		Redis: RedisConfig{
			KeyPrefix: "bid_balance",
		},
	}
}

// Load builds the configuration from defaults, the environment and ENGINE_CONFIG.
func Load() (Config, error) {
	cfg := Default()
	applyEnv(&cfg)

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the file keep their value.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = ":" + getEnv("PORT", strings.TrimPrefix(cfg.HTTPAddr, ":"))
	cfg.AllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Storage = getEnv("ENGINE_STORAGE", cfg.Storage)

	cfg.TickInterval = getEnvAsDuration("TICK_INTERVAL", cfg.TickInterval)
	cfg.SchedulerInterval = getEnvAsDuration("SCHEDULER_INTERVAL", cfg.SchedulerInterval)
	cfg.SchedulerStartDelay = getEnvAsDuration("SCHEDULER_START_DELAY", cfg.SchedulerStartDelay)
	cfg.RecentBids = getEnvAsInt("RECENT_BIDS", cfg.RecentBids)
	cfg.Bots.MinInterval = getEnvAsDuration("BOT_MIN_INTERVAL", cfg.Bots.MinInterval)

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.EventPrefix = getEnv("NATS_EVENT_PREFIX", cfg.NATS.EventPrefix)
	cfg.NATS.CommandPrefix = getEnv("NATS_COMMAND_PREFIX", cfg.NATS.CommandPrefix)
	cfg.NATS.QueueGroup = getEnv("NATS_QUEUE_GROUP", cfg.NATS.QueueGroup)

	cfg.Kafka.Brokers = getEnvAsList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Storage != StoragePostgres && c.Storage != StorageMemory {
		errs = append(errs, fmt.Errorf("storage must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if c.SchedulerInterval <= 0 {
		errs = append(errs, errors.New("scheduler_interval must be positive"))
	}
	if c.RecentBids <= 0 {
		errs = append(errs, errors.New("recent_bids must be positive"))
	}
	for i, t := range c.Bots.Triggers {
		if t.Seconds < 0 {
			errs = append(errs, fmt.Errorf("bots.triggers[%d]: seconds must not be negative", i))
		}
		if t.Probability < 0 || t.Probability > 1 {
			errs = append(errs, fmt.Errorf("bots.triggers[%d]: probability must be within [0,1]", i))
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
