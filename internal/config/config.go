package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// QueueConfig holds batch-processing settings.
type QueueConfig struct {
	TaskTimeout      time.Duration
	DrainCron        string
	DrainBatchSize   int
	DrainConcurrency int
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Bark   BarkConfig
	Queue  QueueConfig

	StateDir           string
	SessionProviderURL string
	Mode               string
	ShutdownGrace      time.Duration
}

const (
	defaultAddr             = "0.0.0.0:7080"
	defaultLogLevel         = "info"
	defaultMode             = "http"
	defaultTaskTimeout      = 5 * time.Minute
	defaultDrainBatchSize   = 10
	defaultDrainConcurrency = 2
	defaultShutdownGrace    = 5 * time.Second
	defaultProviderURL      = "http://127.0.0.1:35000"
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	// Load .env file if present: current directory first, then the user
	// config directory.
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "mailpilot", ".env"))
	}
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("MAILPILOT_ADDR", defaultAddr),
			AuthToken: getEnvString("MAILPILOT_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level: getEnvString("MAILPILOT_LOG_LEVEL", defaultLogLevel),
		},
		Bark: BarkConfig{
			URL:     getEnvString("MAILPILOT_BARK_URL", ""),
			Enabled: getEnvBool("MAILPILOT_BARK_ENABLED", false),
		},
		Queue: QueueConfig{
			TaskTimeout:      getEnvDuration("MAILPILOT_TASK_TIMEOUT", defaultTaskTimeout),
			DrainCron:        getEnvString("MAILPILOT_DRAIN_CRON", ""),
			DrainBatchSize:   getEnvInt("MAILPILOT_DRAIN_BATCH_SIZE", defaultDrainBatchSize),
			DrainConcurrency: getEnvInt("MAILPILOT_DRAIN_CONCURRENCY", defaultDrainConcurrency),
		},
		StateDir:           getEnvString("MAILPILOT_STATE_DIR", ""),
		SessionProviderURL: getEnvString("MAILPILOT_SESSION_PROVIDER_URL", defaultProviderURL),
		Mode:               getEnvString("MAILPILOT_MODE", defaultMode),
		ShutdownGrace:      getEnvDuration("MAILPILOT_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	// CLI flags override environment variables.
	var addr, logLevel, stateDir, providerURL, mode, drainCron string
	var taskTimeout, shutdownGrace time.Duration

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&providerURL, "session-provider-url", "", "Base URL of the browser session provider")
	flag.StringVar(&mode, "mode", "", "Serve mode: http, mcp or both")
	flag.StringVar(&drainCron, "drain-cron", "", "Cron expression for the automatic backlog drainer")
	flag.DurationVar(&taskTimeout, "task-timeout", 0, "Wall-clock limit for a single task")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	flag.Parse()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if providerURL != "" {
		cfg.SessionProviderURL = providerURL
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if drainCron != "" {
		cfg.Queue.DrainCron = drainCron
	}
	if taskTimeout > 0 {
		cfg.Queue.TaskTimeout = taskTimeout
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "shutdown-grace" {
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	if cfg.Queue.DrainBatchSize < 1 {
		cfg.Queue.DrainBatchSize = defaultDrainBatchSize
	}
	if cfg.Queue.DrainConcurrency < 1 {
		cfg.Queue.DrainConcurrency = defaultDrainConcurrency
	}

	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "mailpilot")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
