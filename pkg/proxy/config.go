package proxy

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds proxy server configuration.
//
// Configuration is layered: defaults → YAML file → environment
// variables. Environment variables always override YAML values.
type Config struct {
	// Listener and backend
	ListenAddr  string       // Address clients connect to (e.g., ":5432")
	BackendAddr string       // Real database server address
	BackendType DatabaseType // Wire protocol spoken on this proxy

	// Health/metrics endpoint
	HealthAddr string // Address for /health, /ready, /metrics (e.g., ":8080")

	// Limits
	MaxFrameSize int // Largest accepted wire frame; 0 = DefaultMaxFrameSize

	// Timeouts
	ShutdownTimeout time.Duration // Graceful shutdown bound

	// Debug enables debug-level logging.
	Debug bool
}

// yamlConfig is the YAML file structure for proxy configuration.
type yamlConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	BackendAddr     string `yaml:"backend_addr"`
	BackendType     string `yaml:"backend_type"`
	HealthAddr      string `yaml:"health_addr"`
	MaxFrameSize    int    `yaml:"max_frame_size"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	Debug           bool   `yaml:"debug"`
}

// LoadConfig builds the configuration, reading the YAML file at path if
// path is non-empty, then applying environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:      ":5432",
		BackendAddr:     "localhost:5433",
		BackendType:     PostgresSQL,
		HealthAddr:      ":8080",
		MaxFrameSize:    DefaultMaxFrameSize,
		ShutdownTimeout: 30 * time.Second,
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.BackendAddr == "" {
		return nil, fmt.Errorf("backend address is required")
	}
	if cfg.MaxFrameSize < 0 {
		return nil, fmt.Errorf("max_frame_size must not be negative")
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if y.ListenAddr != "" {
		c.ListenAddr = y.ListenAddr
	}
	if y.BackendAddr != "" {
		c.BackendAddr = y.BackendAddr
	}
	if y.BackendType != "" {
		t, ok := ParseDatabaseType(y.BackendType)
		if !ok {
			return fmt.Errorf("config file %s: unknown backend_type %q", path, y.BackendType)
		}
		c.BackendType = t
	}
	if y.HealthAddr != "" {
		c.HealthAddr = y.HealthAddr
	}
	if y.MaxFrameSize != 0 {
		c.MaxFrameSize = y.MaxFrameSize
	}
	if y.ShutdownTimeout != "" {
		d, err := time.ParseDuration(y.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("config file %s: shutdown_timeout: %w", path, err)
		}
		c.ShutdownTimeout = d
	}
	if y.Debug {
		c.Debug = true
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = getEnvOrDefault("SQLPROXY_LISTEN_ADDR", c.ListenAddr)
	c.BackendAddr = getEnvOrDefault("SQLPROXY_BACKEND_ADDR", c.BackendAddr)
	c.HealthAddr = getEnvOrDefault("SQLPROXY_HEALTH_ADDR", c.HealthAddr)

	if v := os.Getenv("SQLPROXY_BACKEND_TYPE"); v != "" {
		t, ok := ParseDatabaseType(v)
		if !ok {
			return fmt.Errorf("SQLPROXY_BACKEND_TYPE: unknown backend type %q", v)
		}
		c.BackendType = t
	}
	if v := os.Getenv("SQLPROXY_MAX_FRAME_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SQLPROXY_MAX_FRAME_SIZE: %w", err)
		}
		c.MaxFrameSize = n
	}
	c.ShutdownTimeout = getDurationEnvOrDefault("SQLPROXY_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	if os.Getenv("SQLPROXY_DEBUG") == "true" {
		c.Debug = true
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Try parsing as seconds
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
