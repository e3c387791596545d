package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddr   = ":8080"
	defaultMaxQueueSize = 16
	defaultNumWorkers   = 2
	defaultRemovalTimeS = 10
	defaultMaxFinished  = 50

	envConfigFile   = "FOREMAN_CONFIG"
	envListenAddr   = "FOREMAN_LISTEN_ADDR"
	envMaxQueueSize = "FOREMAN_MAX_QUEUE_SIZE"
	envNumWorkers   = "FOREMAN_NUM_WORKERS"
	envRemovalTimeS = "FOREMAN_REMOVAL_TIME_S"
	envMaxFinished  = "FOREMAN_MAX_FINISHED"
	envLogLevel     = "FOREMAN_LOG_LEVEL"
	envSubmitRate   = "FOREMAN_SUBMIT_RATE"
	envSubmitBurst  = "FOREMAN_SUBMIT_BURST"
)

// Config holds application configuration. Values come from an optional TOML
// file pointed to by FOREMAN_CONFIG; environment variables override both the
// file and the defaults.
type Config struct {
	ListenAddr   string  `toml:"listen_addr"`
	MaxQueueSize int     `toml:"max_queue_size"`
	NumWorkers   int     `toml:"num_workers"`
	RemovalTimeS int     `toml:"removal_time_s"`
	MaxFinished  int     `toml:"max_finished"`
	LogLevel     string  `toml:"log_level"`
	SubmitRate   float64 `toml:"submit_rate"`
	SubmitBurst  int     `toml:"submit_burst"`
}

// Load assembles the configuration: defaults, then the optional TOML file,
// then environment overrides, then validation.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		MaxQueueSize: defaultMaxQueueSize,
		NumWorkers:   defaultNumWorkers,
		RemovalTimeS: defaultRemovalTimeS,
		MaxFinished:  defaultMaxFinished,
		LogLevel:     "info",
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if err := intFromEnv(envMaxQueueSize, &cfg.MaxQueueSize); err != nil {
		return Config{}, err
	}
	if err := intFromEnv(envNumWorkers, &cfg.NumWorkers); err != nil {
		return Config{}, err
	}
	if err := intFromEnv(envRemovalTimeS, &cfg.RemovalTimeS); err != nil {
		return Config{}, err
	}
	if err := intFromEnv(envMaxFinished, &cfg.MaxFinished); err != nil {
		return Config{}, err
	}
	if err := intFromEnv(envSubmitBurst, &cfg.SubmitBurst); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(envSubmitRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envSubmitRate, err)
		}
		cfg.SubmitRate = rate
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func intFromEnv(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.MaxQueueSize < 0 {
		return fmt.Errorf("max_queue_size must be >= 0, got %d", c.MaxQueueSize)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be >= 0, got %d", c.NumWorkers)
	}
	if c.RemovalTimeS <= 0 {
		return fmt.Errorf("removal_time_s must be > 0, got %d", c.RemovalTimeS)
	}
	if c.MaxFinished < 0 {
		return fmt.Errorf("max_finished must be >= 0, got %d", c.MaxFinished)
	}
	if c.SubmitRate < 0 {
		return fmt.Errorf("submit_rate must be >= 0, got %v", c.SubmitRate)
	}
	if c.SubmitBurst < 0 {
		return fmt.Errorf("submit_burst must be >= 0, got %d", c.SubmitBurst)
	}
	return nil
}

// RemovalTime returns the finished-record retention window as a duration.
func (c Config) RemovalTime() time.Duration {
	return time.Duration(c.RemovalTimeS) * time.Second
}

// Level parses the configured log level, defaulting to info.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
