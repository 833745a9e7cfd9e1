package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"corsOrigins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Arrangement struct {
		TTL string `yaml:"ttl"`
	} `yaml:"arrangement"`
	Grading struct {
		// Resolution is the submission resolution policy: "latest" (default) or "best".
		Resolution string `yaml:"resolution"`
	} `yaml:"grading"`
	RabbitMQ struct {
		URL   string `yaml:"url"`
		Queue string `yaml:"queue"`
	} `yaml:"rabbitmq"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads YAML config from path, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets deployments inject connection strings without editing the file.
func (c *Config) applyEnv() {
	c.Redis.Addr = envOr("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOr("REDIS_PASSWORD", c.Redis.Password)
	c.Postgres.URL = envOr("POSTGRES_URL", c.Postgres.URL)
	c.RabbitMQ.URL = envOr("RABBITMQ_URL", c.RabbitMQ.URL)
	c.Grading.Resolution = envOr("GRADING_RESOLUTION", c.Grading.Resolution)
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// LogLevel maps the configured level name to a slog level. Unknown names mean info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
