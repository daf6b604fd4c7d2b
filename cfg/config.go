package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DatabaseConfiguration controls the embedded engine session
type DatabaseConfiguration struct {
	Path     string `toml:"path"`      // Database path (file or directory, engine-dependent)
	ReadOnly bool   `toml:"read_only"` // Reject all mutating statements
}

// ExecutionConfiguration controls retry and lock behavior
type ExecutionConfiguration struct {
	MaxRetries          int  `toml:"max_retries"`           // Retry budget for connection-class failures
	LockTimeoutMS       int  `toml:"lock_timeout_ms"`       // Write lock acquisition timeout
	MultiAgent          bool `toml:"multi_agent"`           // Gate mutating statements behind the cross-process lock
	ClassifierCacheSize int  `toml:"classifier_cache_size"` // LRU entries for classification results
}

// HTTPConfiguration for the statement/status HTTP surface
type HTTPConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	AgentID string `toml:"agent_id"` // Identity recorded in the write lock; auto-generated if empty

	Database   DatabaseConfiguration   `toml:"database"`
	Execution  ExecutionConfiguration  `toml:"execution"`
	HTTP       HTTPConfiguration       `toml:"http"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DBPathFlag     = flag.String("db-path", "", "Database path (overrides config)")
	ReadOnlyFlag   = flag.Bool("read-only", false, "Read-only mode (overrides config)")
	MultiAgentFlag = flag.Bool("multi-agent", false, "Multi-agent write locking (overrides config)")
	HTTPPortFlag   = flag.Int("http-port", 0, "HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	AgentID: "", // Auto-generate

	Database: DatabaseConfiguration{
		Path:     "./burrow.db",
		ReadOnly: false,
	},

	Execution: ExecutionConfiguration{
		MaxRetries:          2,
		LockTimeoutMS:       10000,
		MultiAgent:          false,
		ClassifierCacheSize: 512,
	},

	HTTP: HTTPConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        8632,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DBPathFlag != "" {
		Config.Database.Path = *DBPathFlag
	}
	if *ReadOnlyFlag {
		Config.Database.ReadOnly = true
	}
	if *MultiAgentFlag {
		Config.Execution.MultiAgent = true
	}
	if *HTTPPortFlag != 0 {
		Config.HTTP.Port = *HTTPPortFlag
	}

	// Auto-generate agent identity if not set
	if Config.AgentID == "" {
		Config.AgentID = generateAgentID()
		log.Info().Str("agent_id", Config.AgentID).Msg("Auto-generated agent ID")
	}

	// Ensure the database directory exists
	dir := DatabaseDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	return nil
}

// generateAgentID derives a stable identity from the machine, falling back
// to a random one when the machine ID is unavailable (containers, stripped
// environments).
func generateAgentID() string {
	id, err := machineid.ProtectedID("burrow")
	if err != nil {
		return "agent-" + uuid.NewString()
	}
	return "agent-" + id[:12]
}

// DatabaseDir returns the directory holding the database, which is also
// where the cross-process write lock file lives.
func DatabaseDir() string {
	path := Config.Database.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if Config.Execution.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}

	if Config.Execution.LockTimeoutMS < 1 {
		return fmt.Errorf("lock timeout must be >= 1ms")
	}

	if Config.Execution.ClassifierCacheSize < 1 {
		return fmt.Errorf("classifier cache size must be >= 1")
	}

	if Config.HTTP.Enabled && (Config.HTTP.Port < 1 || Config.HTTP.Port > 65535) {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}
