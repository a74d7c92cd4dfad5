package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go-simpler.org/env"
)

type Config struct {
	Host     string `env:"HOST" default:"0.0.0.0"`
	Port     string `env:"PORT" default:"8080"`
	WatchDir string `env:"WATCH_DIR"`
	Debug    bool   `env:"DEBUG" default:"false"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Watcher policy. The debounce window is deliberately configuration,
	// not a constant: bulk operations vary wildly between workloads.
	DebounceWindow     time.Duration `env:"DEBOUNCE_WINDOW" default:"200ms"`
	RewatchMaxAttempts int           `env:"REWATCH_MAX_ATTEMPTS" default:"5"`
	RewatchBackoff     time.Duration `env:"REWATCH_BACKOFF" default:"200ms"`

	// Hub and session policy.
	QueueCapacity     int           `env:"QUEUE_CAPACITY" default:"256"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"15s"`

	// Connection limits.
	MaxConnections      int64         `env:"MAX_CONNECTIONS" default:"1000"`
	MaxConnectionsPerIP int           `env:"MAX_CONNECTIONS_PER_IP" default:"32"`
	ConnectionRate      float64       `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst     int           `env:"CONNECTION_BURST" default:"10"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads configuration from the environment (and an optional .env file),
// applies flag overrides from args, and validates the result.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := applyFlags(&cfg, args); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyFlags(cfg *Config, args []string) error {
	fs := pflag.NewFlagSet("dirstream", pflag.ContinueOnError)
	watchDir := fs.String("watch-dir", "", "directory to watch for changes")
	host := fs.String("host", "", "host to bind to")
	port := fs.String("port", "", "port to listen on")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	if fs.Changed("watch-dir") {
		cfg.WatchDir = *watchDir
	}
	if fs.Changed("host") {
		cfg.Host = *host
	}
	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("debug") {
		cfg.Debug = *debug
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.WatchDir == "" {
		return fmt.Errorf("WATCH_DIR (or --watch-dir) is required")
	}
	info, err := os.Stat(cfg.WatchDir)
	if err != nil {
		return fmt.Errorf("watch directory %s: %w", cfg.WatchDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch directory %s is not a directory", cfg.WatchDir)
	}

	if cfg.QueueCapacity < 1 {
		return fmt.Errorf("QUEUE_CAPACITY must be at least 1, got %d", cfg.QueueCapacity)
	}
	if cfg.DebounceWindow < 0 {
		return fmt.Errorf("DEBOUNCE_WINDOW must not be negative, got %s", cfg.DebounceWindow)
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", cfg.HeartbeatInterval)
	}
	if cfg.RewatchMaxAttempts < 1 {
		return fmt.Errorf("REWATCH_MAX_ATTEMPTS must be at least 1, got %d", cfg.RewatchMaxAttempts)
	}
	return nil
}
