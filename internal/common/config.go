package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Runner      RunnerConfig    `toml:"runner"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	DataSources DataSourceDir   `toml:"datasources"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// WebSocketConfig controls job event streaming to UI clients
type WebSocketConfig struct {
	// Minimum interval between job_progress frames per connection.
	// Progress markers can arrive far faster than a browser needs them.
	ProgressThrottle string `toml:"progress_throttle"`
	// Buffer size for per-connection event streams. Events are dropped
	// when a slow client falls behind; storage remains the source of truth.
	StreamBuffer int `toml:"stream_buffer"`
}

// RunnerConfig controls how worker processes are spawned
type RunnerConfig struct {
	Interpreter    string            `toml:"interpreter"`     // Worker interpreter (default: "python3")
	ScriptsDir     string            `toml:"scripts_dir"`     // Directory containing default solver scripts
	DefaultScripts map[string]string `toml:"default_scripts"` // Job kind -> script file relative to scripts_dir
	ModelsDir      string            `toml:"models_dir"`      // Directory containing uploaded worker artifacts
}

// SchedulerConfig defines cron-triggered runs
type SchedulerConfig struct {
	Enabled bool           `toml:"enabled"`
	Runs    []ScheduledRun `toml:"runs"`
}

// ScheduledRun is a single cron entry submitting a run request
type ScheduledRun struct {
	Kind         string `toml:"kind"`
	DataSourceID string `toml:"data_source_id"`
	Schedule     string `toml:"schedule"` // cron expression
}

// DataSourceDir points at TOML files defining data sources loaded at startup
type DataSourceDir struct {
	Dir string `toml:"dir"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed in gridops.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "500ms",
			StreamBuffer:     64,
		},
		Runner: RunnerConfig{
			Interpreter: "python3",
			ScriptsDir:  "./scripts",
			DefaultScripts: map[string]string{
				"DMO": "dmo_optimizer.py",
				"RMO": "rmo_optimizer.py",
				"SO":  "so_optimizer.py",
			},
			ModelsDir: "./models",
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
		DataSources: DataSourceDir{
			Dir: "./datasources",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier
// files; CLI flags are applied afterwards via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GRIDOPS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("GRIDOPS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GRIDOPS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("GRIDOPS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("GRIDOPS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GRIDOPS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if interpreter := os.Getenv("GRIDOPS_RUNNER_INTERPRETER"); interpreter != "" {
		config.Runner.Interpreter = interpreter
	}
	if scriptsDir := os.Getenv("GRIDOPS_RUNNER_SCRIPTS_DIR"); scriptsDir != "" {
		config.Runner.ScriptsDir = scriptsDir
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
