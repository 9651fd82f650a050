package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	BusDriverRedis  = "redis"
	BusDriverMemory = "memory"
)

type Config struct {
	AppEnv       string `env:"APP_ENV" default:"development"`
	Port         string `env:"PORT" default:"8000"`
	AppURL       string `env:"APP_URL"`
	InstanceName string `env:"INSTANCE_NAME"`
	LogLevel     string `env:"LOG_LEVEL" default:"info"`
	LogFormat    string `env:"LOG_FORMAT" default:"text"`

	CORSOrigins []string `env:"CORS_ORIGINS" default:"*"`

	BusDriver   string `env:"BUS_DRIVER" default:"redis"`
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	MaxWebSocketConnections  int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP      int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	MaxConnectionsPerChannel int     `env:"MAX_CONNECTIONS_PER_CHANNEL" default:"0"`
	ConnectionRatePerSecond  float64 `env:"CONNECTION_RATE_PER_SECOND" default:"10"`
	ConnectionRateBurst      int     `env:"CONNECTION_RATE_BURST" default:"20"`

	SendBufferSize  int   `env:"SEND_BUFFER_SIZE" default:"64"`
	MaxMessageBytes int64 `env:"MAX_MESSAGE_BYTES" default:"65536"`

	InstanceHeartbeat time.Duration `env:"INSTANCE_HEARTBEAT" default:"15s"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
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

func validate(cfg *Config) error {
	switch cfg.BusDriver {
	case BusDriverRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when BUS_DRIVER=redis")
		}
	case BusDriverMemory:
		if cfg.AppEnv == "production" {
			return errors.New("BUS_DRIVER=memory cannot fan out across processes and is not allowed in production")
		}
	default:
		return fmt.Errorf("BUS_DRIVER must be %q or %q, got %q", BusDriverRedis, BusDriverMemory, cfg.BusDriver)
	}

	positive := map[string]int{
		"MAX_WEBSOCKET_CONNECTIONS": cfg.MaxWebSocketConnections,
		"MAX_CONNECTIONS_PER_IP":    cfg.MaxConnectionsPerIP,
		"CONNECTION_RATE_BURST":     cfg.ConnectionRateBurst,
		"SEND_BUFFER_SIZE":          cfg.SendBufferSize,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	if cfg.MaxConnectionsPerChannel < 0 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_CHANNEL must not be negative, got %d", cfg.MaxConnectionsPerChannel)
	}
	if cfg.ConnectionRatePerSecond <= 0 {
		return fmt.Errorf("CONNECTION_RATE_PER_SECOND must be positive, got %v", cfg.ConnectionRatePerSecond)
	}
	if cfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", cfg.MaxMessageBytes)
	}
	if cfg.InstanceHeartbeat <= 0 {
		return fmt.Errorf("INSTANCE_HEARTBEAT must be positive, got %s", cfg.InstanceHeartbeat)
	}

	if cfg.AppEnv == "production" && cfg.DatabaseURL != "" {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
