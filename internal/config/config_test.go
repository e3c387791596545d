package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envConfigFile, envListenAddr, envMaxQueueSize, envNumWorkers,
		envRemovalTimeS, envMaxFinished, envLogLevel, envSubmitRate, envSubmitBurst,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.MaxQueueSize != defaultMaxQueueSize {
		t.Errorf("MaxQueueSize = %d, want %d", cfg.MaxQueueSize, defaultMaxQueueSize)
	}
	if cfg.NumWorkers != defaultNumWorkers {
		t.Errorf("NumWorkers = %d, want %d", cfg.NumWorkers, defaultNumWorkers)
	}
	if cfg.RemovalTimeS != defaultRemovalTimeS {
		t.Errorf("RemovalTimeS = %d, want %d", cfg.RemovalTimeS, defaultRemovalTimeS)
	}
	if cfg.MaxFinished != defaultMaxFinished {
		t.Errorf("MaxFinished = %d, want %d", cfg.MaxFinished, defaultMaxFinished)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level() = %v, want %v", cfg.Level(), slog.LevelInfo)
	}
	if cfg.SubmitRate != 0 {
		t.Errorf("SubmitRate = %v, want 0", cfg.SubmitRate)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envMaxQueueSize, "32")
	t.Setenv(envNumWorkers, "4")
	t.Setenv(envRemovalTimeS, "30")
	t.Setenv(envMaxFinished, "100")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envSubmitRate, "2.5")
	t.Setenv(envSubmitBurst, "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.MaxQueueSize != 32 {
		t.Errorf("MaxQueueSize = %d, want 32", cfg.MaxQueueSize)
	}
	if cfg.NumWorkers != 4 {
		t.Errorf("NumWorkers = %d, want 4", cfg.NumWorkers)
	}
	if cfg.RemovalTimeS != 30 {
		t.Errorf("RemovalTimeS = %d, want 30", cfg.RemovalTimeS)
	}
	if cfg.RemovalTime() != 30*time.Second {
		t.Errorf("RemovalTime() = %v, want 30s", cfg.RemovalTime())
	}
	if cfg.MaxFinished != 100 {
		t.Errorf("MaxFinished = %d, want 100", cfg.MaxFinished)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want %v", cfg.Level(), slog.LevelDebug)
	}
	if cfg.SubmitRate != 2.5 {
		t.Errorf("SubmitRate = %v, want 2.5", cfg.SubmitRate)
	}
	if cfg.SubmitBurst != 10 {
		t.Errorf("SubmitBurst = %d, want 10", cfg.SubmitBurst)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "foreman.toml")
	data := []byte("listen_addr = \":7070\"\nmax_queue_size = 8\nnum_workers = 3\nlog_level = \"warn\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(envConfigFile, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":7070")
	}
	if cfg.MaxQueueSize != 8 {
		t.Errorf("MaxQueueSize = %d, want 8", cfg.MaxQueueSize)
	}
	if cfg.NumWorkers != 3 {
		t.Errorf("NumWorkers = %d, want 3", cfg.NumWorkers)
	}
	if cfg.Level() != slog.LevelWarn {
		t.Errorf("Level() = %v, want %v", cfg.Level(), slog.LevelWarn)
	}
	// Values the file does not set keep their defaults.
	if cfg.RemovalTimeS != defaultRemovalTimeS {
		t.Errorf("RemovalTimeS = %d, want %d", cfg.RemovalTimeS, defaultRemovalTimeS)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "foreman.toml")
	if err := os.WriteFile(path, []byte("max_queue_size = 8\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(envConfigFile, path)
	t.Setenv(envMaxQueueSize, "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxQueueSize != 64 {
		t.Errorf("MaxQueueSize = %d, want 64 (env beats file)", cfg.MaxQueueSize)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric queue size", envMaxQueueSize, "lots"},
		{"negative queue size", envMaxQueueSize, "-1"},
		{"negative workers", envNumWorkers, "-2"},
		{"zero removal time", envRemovalTimeS, "0"},
		{"negative max finished", envMaxFinished, "-5"},
		{"non-numeric rate", envSubmitRate, "fast"},
		{"negative rate", envSubmitRate, "-1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q succeeded, want error", tt.key, tt.value)
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "nope.toml"))

	if _, err := Load(); err == nil {
		t.Error("Load() with missing config file succeeded, want error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
