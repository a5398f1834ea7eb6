package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Remote  RemoteConfig  `mapstructure:"remote"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Source  SourceConfig  `mapstructure:"source"`
	Journal JournalConfig `mapstructure:"journal"`
	Health  HealthConfig  `mapstructure:"health"`
	Log     LogConfig     `mapstructure:"log"`
}

// RemoteConfig holds SSH and remote-host configuration.
type RemoteConfig struct {
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`

	// StagingRoot is the remote directory deployments are synced into.
	StagingRoot string `mapstructure:"staging_root"`
}

// ProxyConfig holds reverse-proxy file locations on the remote host.
type ProxyConfig struct {
	AvailableDir string `mapstructure:"available_dir"`
	EnabledDir   string `mapstructure:"enabled_dir"`
	ListenPort   int    `mapstructure:"listen_port"`
}

// SourceConfig holds local working-copy configuration.
type SourceConfig struct {
	// CacheDir is where working copies are cloned; reused across runs.
	CacheDir string `mapstructure:"cache_dir"`
}

// JournalConfig holds the deployment journal database location.
type JournalConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HealthConfig holds deployment validation settings.
type HealthConfig struct {
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`

	// Dir receives one timestamped, append-only log file per run.
	Dir string `mapstructure:"dir"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".dockhand")

	// Set defaults
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.connect_timeout", "10s")
	v.SetDefault("remote.command_timeout", "10m")
	v.SetDefault("remote.staging_root", "/srv/dockhand")
	v.SetDefault("proxy.available_dir", "/etc/nginx/sites-available")
	v.SetDefault("proxy.enabled_dir", "/etc/nginx/sites-enabled")
	v.SetDefault("proxy.listen_port", 80)
	v.SetDefault("source.cache_dir", filepath.Join(dataDir, "sources"))
	v.SetDefault("journal.dsn", filepath.Join(dataDir, "journal.db"))
	v.SetDefault("health.probe_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.dir", filepath.Join(dataDir, "logs"))

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DOCKHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Every
// run also appends to its own timestamped log file; the returned closer
// releases it. Credential values never reach this logger: error text is
// redacted before logging.
func SetupLogger(cfg *Config) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if err := os.MkdirAll(cfg.Log.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("dockhand-%s.log", time.Now().Format("20060102-150405"))
	logFile, err := os.OpenFile(filepath.Join(cfg.Log.Dir, name),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	out := io.MultiWriter(os.Stdout, logFile)

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), logFile, nil
}
