package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/atomic"
)

// GenerateConfig holds default sampling parameters for the generate
// command. Command-line flags override these per invocation.
type GenerateConfig struct {
	MinLength   int     `json:"min_length"`
	MaxLength   int     `json:"max_length"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
}

// Config is the top-level configuration for the CLI.
type Config struct {
	LogLevel     string          `json:"log_level"`
	DatabasePath string          `json:"database_path"`
	Generate     *GenerateConfig `json:"generate_config"`
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		DatabasePath: "./textchain.db?_journal_mode=WAL&_busy_timeout=5000",
		Generate: &GenerateConfig{
			MinLength:   0,
			MaxLength:   100,
			Temperature: 1.0,
			TopK:        0,
		},
	}
}

// loadConfig reads the configuration from a JSON file at the given
// path. If the file doesn't exist, it creates one with default values.
func loadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The tool can still run with defaults, so only warn.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// setupLogger builds the CLI logger from the configured level. Logs go
// to stderr so they never mix with generated text on stdout.
func setupLogger(config *Config) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
