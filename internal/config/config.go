// Package config loads memory-relay configuration from YAML, .env and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memory-relay/internal/model"
)

// Config holds all memory-relay configuration.
type Config struct {
	// OwnerID scopes every record and context request.
	OwnerID string `yaml:"owner_id"`

	// Source labels records with the host application they came from.
	Source string `yaml:"source"`

	Remote    RemoteConfig    `yaml:"remote"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Probe     ProbeConfig     `yaml:"probe"`
	Queue     QueueConfig     `yaml:"queue"`
	Pending   PendingConfig   `yaml:"pending"`
	Capture   CaptureConfig   `yaml:"capture"`
	Injection InjectionConfig `yaml:"injection"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RemoteConfig points at the memory service.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// AnalysisConfig points at the secondary analysis service.
type AnalysisConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProbeConfig configures the health probe.
type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// QueueConfig configures the write queue.
type QueueConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	MinInterval  time.Duration `yaml:"min_interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PendingConfig configures the fallback store.
type PendingConfig struct {
	Backend  string `yaml:"backend"` // sqlite, redis
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
	Capacity int    `yaml:"capacity"`
}

// CaptureConfig controls which turns are saved and how they are split.
type CaptureConfig struct {
	User      bool `yaml:"user"`
	Assistant bool `yaml:"assistant"`
	ChunkSize int  `yaml:"chunk_size"`
}

// InjectionConfig controls context injection.
type InjectionConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Budget   int            `yaml:"budget"`
	Position model.Position `yaml:"position"`
	Depth    int            `yaml:"depth"`
	Timeout  time.Duration  `yaml:"timeout"`
	CacheTTL time.Duration  `yaml:"cache_ttl"`
}

// Placement returns the host placement for injected context.
func (c InjectionConfig) Placement() model.InjectionConfig {
	return model.InjectionConfig{Position: c.Position, Depth: c.Depth}
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Dir returns the default state directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memory-relay")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		OwnerID: "default",
		Source:  "chat",
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8765",
			Timeout: 30 * time.Second,
		},
		Analysis: AnalysisConfig{
			Timeout: 10 * time.Second,
		},
		Probe: ProbeConfig{
			Timeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries:   3,
			MinInterval:  time.Second,
			MaxInterval:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Pending: PendingConfig{
			Backend:  "sqlite",
			Path:     filepath.Join(Dir(), "pending.db"),
			RedisKey: "memory-relay:pending",
			Capacity: 100,
		},
		Capture: CaptureConfig{
			User:      true,
			Assistant: true,
			ChunkSize: 2000,
		},
		Injection: InjectionConfig{
			Enabled:  true,
			Budget:   500,
			Position: model.PositionInChat,
			Depth:    0,
			Timeout:  3 * time.Second,
			CacheTTL: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// .env is optional; existing environment variables win over it.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"MEMORY_RELAY_URL":              &c.Remote.BaseURL,
		"MEMORY_RELAY_API_KEY":          &c.Remote.APIKey,
		"MEMORY_RELAY_OWNER":            &c.OwnerID,
		"MEMORY_RELAY_ANALYSIS_URL":     &c.Analysis.BaseURL,
		"MEMORY_RELAY_ANALYSIS_API_KEY": &c.Analysis.APIKey,
		"MEMORY_RELAY_PENDING_BACKEND":  &c.Pending.Backend,
		"MEMORY_RELAY_PENDING_PATH":     &c.Pending.Path,
		"MEMORY_RELAY_REDIS_URL":        &c.Pending.RedisURL,
		"MEMORY_RELAY_LOG_LEVEL":        &c.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MEMORY_RELAY_CHUNK_SIZE":     &c.Capture.ChunkSize,
		"MEMORY_RELAY_CONTEXT_BUDGET": &c.Injection.Budget,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if os.Getenv("MEMORY_RELAY_ANALYSIS_URL") != "" {
		c.Analysis.Enabled = true
	}
	return nil
}

// Validate checks the configuration for values the relay cannot run with.
func (c *Config) Validate() error {
	if c.OwnerID == "" {
		return errors.New("owner_id is required")
	}
	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}
	if c.Analysis.Enabled && c.Analysis.BaseURL == "" {
		return errors.New("analysis.base_url is required when analysis is enabled")
	}
	if c.Capture.ChunkSize <= 0 {
		return fmt.Errorf("capture.chunk_size must be > 0, got %d", c.Capture.ChunkSize)
	}
	if c.Pending.Capacity <= 0 {
		return fmt.Errorf("pending.capacity must be > 0, got %d", c.Pending.Capacity)
	}
	switch c.Pending.Backend {
	case "sqlite":
		if c.Pending.Path == "" {
			return errors.New("pending.path is required for the sqlite backend")
		}
	case "redis":
		if c.Pending.RedisURL == "" {
			return errors.New("pending.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown pending backend %q", c.Pending.Backend)
	}
	if err := c.Injection.Placement().Validate(); err != nil {
		return fmt.Errorf("injection: %w", err)
	}
	return nil
}
