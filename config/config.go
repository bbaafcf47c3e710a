package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the API server configuration.
type ServerConfig struct {
	ListenAddress string         `yaml:"listen_address"`
	Security      SecurityConfig `yaml:"security"`
}

// SecurityConfig controls API authentication.
type SecurityConfig struct {
	Enabled      bool   `yaml:"enabled"`
	UserFilePath string `yaml:"user_file"`
}

// DebugConfig holds the debug/metrics server configuration.
type DebugConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ListenAddress   string `yaml:"listen_address"`
	PProfEnabled    bool   `yaml:"pprof_enabled"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	StatsvizEnabled bool   `yaml:"statsviz_enabled"`
}

// StoreConfig selects and tunes the host record store backend.
type StoreConfig struct {
	// Backend is "memory" or "badger".
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
	// Compression applies to badger record payloads: none, snappy,
	// lz4 or zstd.
	Compression string `yaml:"compression"`
	// GCInterval is how often the badger value log GC runs.
	GCInterval string `yaml:"gc_interval"`
}

// SweepConfig tunes sweep jobs started through the API.
type SweepConfig struct {
	// DefaultBins restricts sweeps that do not name candidate bins.
	DefaultBins []string `yaml:"default_bins"`
	// JobHistory caps how many finished job handles the API keeps for
	// status polling.
	JobHistory int `yaml:"job_history"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"`
}

// Config is the top-level configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Debug   DebugConfig   `yaml:"debug"`
	Store   StoreConfig   `yaml:"store"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ParseDuration parses a duration string, falling back to the default
// when the string is empty or invalid. Invalid input is logged, not
// fatal.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader, layering it over the
// defaults. A nil reader yields the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddress: ":8070",
			Security: SecurityConfig{
				Enabled:      false,
				UserFilePath: "users.yaml",
			},
		},
		Debug: DebugConfig{
			Enabled:         true,
			ListenAddress:   "0.0.0.0:6060",
			PProfEnabled:    true,
			MetricsEnabled:  true,
			StatsvizEnabled: true,
		},
		Store: StoreConfig{
			Backend:     "badger",
			DataDir:     "./data",
			Compression: "snappy",
			GCInterval:  "300s",
		},
		Sweep: SweepConfig{
			JobHistory: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "expirebin.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}

	if r == nil {
		return cfg, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()
	return Load(file)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}
	switch c.Store.Compression {
	case "", "none", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("invalid store compression: %s", c.Store.Compression)
	}
	switch c.Tracing.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("invalid tracing protocol: %s", c.Tracing.Protocol)
	}
	if c.Sweep.JobHistory < 0 {
		return fmt.Errorf("sweep job_history must not be negative")
	}
	return nil
}
