package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ReflectAI clustering server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	Jobs      JobsConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// DevAPIKey, when set, is registered for the seeded default user at
	// startup so local clients can authenticate without an issuance step.
	DevAPIKey string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type EmbeddingConfig struct {
	Provider   string // "http" or "mock"
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

type JobsConfig struct {
	Workers    int
	QueueSize  int
	StatusTTL  time.Duration // how long terminal job status stays cached for late pollers
	EmbedBatch int
	RatePerMin int
}

var validEmbeddingProviders = map[string]bool{
	"http": true,
	"mock": true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      envInt("REFLECTAI_PORT", 8080),
			Env:       envString("REFLECTAI_ENV", "development"),
			DevAPIKey: os.Getenv("REFLECTAI_DEV_API_KEY"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Embedding: EmbeddingConfig{
			Provider:   envString("EMBEDDING_PROVIDER", "http"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Model:      envString("EMBEDDING_MODEL", "bge-m3"),
			Dimensions: envInt("EMBEDDING_DIMENSIONS", 1024),
			Timeout:    envDuration("EMBEDDING_TIMEOUT", 60*time.Second),
			MaxRetries: envInt("EMBEDDING_MAX_RETRIES", 3),
		},
		Jobs: JobsConfig{
			Workers:    envInt("JOB_WORKERS", 2),
			QueueSize:  envInt("JOB_QUEUE_SIZE", 16),
			StatusTTL:  envDuration("JOB_STATUS_TTL", 30*time.Minute),
			EmbedBatch: envInt("JOB_EMBED_BATCH", 32),
			RatePerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Server.DevAPIKey != "" && len(c.Server.DevAPIKey) < 16 {
		return fmt.Errorf("REFLECTAI_DEV_API_KEY must be at least 16 characters")
	}

	if !validEmbeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of http, mock; got %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "http" {
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("EMBEDDING_BASE_URL is required when EMBEDDING_PROVIDER is http")
		}
		if !strings.HasPrefix(c.Embedding.BaseURL, "http://") && !strings.HasPrefix(c.Embedding.BaseURL, "https://") {
			return fmt.Errorf("EMBEDDING_BASE_URL must start with http:// or https://, got %q", c.Embedding.BaseURL)
		}
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1, got %d", c.Embedding.Dimensions)
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOB_WORKERS must be >= 1, got %d", c.Jobs.Workers)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
