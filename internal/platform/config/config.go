package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv       string `env:"APP_ENV" default:"development"`
	Port         string `env:"PORT" default:"8080"`
	LogLevel     string `env:"LOG_LEVEL" default:"info"`
	LogFormat    string `env:"LOG_FORMAT" default:"text"`
	StoreBackend string `env:"STORE_BACKEND" default:"memory"`
	RedisURL     string `env:"REDIS_URL"`
	DatabaseURL  string `env:"DATABASE_URL"`

	SimulationInterval time.Duration `env:"SIMULATION_INTERVAL" default:"2s"`
	BroadcastInterval  time.Duration `env:"BROADCAST_INTERVAL" default:"2s"`
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT" default:"2s"`
	LeaderLeaseTTL     time.Duration `env:"LEADER_LEASE_TTL" default:"15s"`

	MetricHistoryCap   int  `env:"METRIC_HISTORY_CAP" default:"1000"`
	MetricHistoryTrim  int  `env:"METRIC_HISTORY_TRIM" default:"500"`
	MetricRecentWindow int  `env:"METRIC_RECENT_WINDOW" default:"24"`
	DeduplicateAlerts  bool `env:"DEDUPLICATE_ALERTS" default:"false"`

	MaxWebSocketConnections int      `env:"MAX_WEBSOCKET_CONNECTIONS" default:"1000"`
	SendQueueSize           int      `env:"SEND_QUEUE_SIZE" default:"4"`
	AllowedOrigins          []string `env:"ALLOWED_ORIGINS"`
	WebSocketRateLimit      float64  `env:"WS_RATE_LIMIT" default:"5"`
	WebSocketRateBurst      int      `env:"WS_RATE_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsDevelopment reports whether localhost origins and verbose defaults apply.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, postgres, got %q", cfg.StoreBackend)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"SIMULATION_INTERVAL", cfg.SimulationInterval},
		{"BROADCAST_INTERVAL", cfg.BroadcastInterval},
		{"STORE_TIMEOUT", cfg.StoreTimeout},
		{"LEADER_LEASE_TTL", cfg.LeaderLeaseTTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if cfg.MetricHistoryTrim <= 0 || cfg.MetricHistoryTrim >= cfg.MetricHistoryCap {
		return errors.New("METRIC_HISTORY_TRIM must be positive and smaller than METRIC_HISTORY_CAP")
	}
	if cfg.MetricRecentWindow <= 0 || cfg.MetricRecentWindow > cfg.MetricHistoryTrim {
		return errors.New("METRIC_RECENT_WINDOW must be positive and not exceed METRIC_HISTORY_TRIM")
	}

	if cfg.MaxWebSocketConnections < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be at least 1")
	}
	if cfg.SendQueueSize < 1 {
		return errors.New("SEND_QUEUE_SIZE must be at least 1")
	}

	return nil
}
