package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Loader   LoaderConfig   `toml:"loader"`
	Analysis AnalysisConfig `toml:"analysis"`
	Archive  ArchiveConfig  `toml:"archive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `toml:"port"`
}

// LoaderConfig holds log loading configuration
type LoaderConfig struct {
	LogsDir     string `toml:"logs_dir"`
	MaxLineSize string `toml:"max_line_size"` // e.g., "1MB", "64KB"
}

// AnalysisConfig holds statistics configuration
type AnalysisConfig struct {
	TopN        int    `toml:"top_n"`
	AgentMarker string `toml:"agent_marker"`
}

// ArchiveConfig holds snapshot archive configuration
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	DBPath        string `toml:"db_path"`
	RetentionSize string `toml:"retention_size"` // e.g., "1GB", "500MB"
	RetentionDays int    `toml:"retention_days"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Loader: LoaderConfig{
			LogsDir:     "logs",
			MaxLineSize: "1MB",
		},
		Analysis: AnalysisConfig{
			TopN:        10,
			AgentMarker: "Agent",
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			DBPath:        filepath.Join(home, ".loglens", "db"),
			RetentionSize: "500MB",
			RetentionDays: 30,
		},
	}
}

// Load loads configuration from a file, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	// Expand home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return cfg, nil
}

// ParseSize parses a size string like "1GB", "500MB" to bytes
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(sizeStr, "GB") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "GB")
	} else if strings.HasSuffix(sizeStr, "MB") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "MB")
	} else if strings.HasSuffix(sizeStr, "KB") {
		multiplier = 1024
		numStr = strings.TrimSuffix(sizeStr, "KB")
	} else {
		return 0, fmt.Errorf("invalid size format: %s (use KB, MB, or GB)", sizeStr)
	}

	var num float64
	_, err := fmt.Sscanf(numStr, "%f", &num)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %s", numStr)
	}

	return int64(num * float64(multiplier)), nil
}

// MaxLineSizeBytes returns the loader line cap in bytes.
func (c *Config) MaxLineSizeBytes() int {
	size, err := ParseSize(c.Loader.MaxLineSize)
	if err != nil {
		return 1024 * 1024 // Default to 1MB
	}
	return int(size)
}

// RetentionSizeBytes returns the archive retention size in bytes.
func (c *Config) RetentionSizeBytes() int64 {
	size, err := ParseSize(c.Archive.RetentionSize)
	if err != nil {
		return 500 * 1024 * 1024 // Default to 500MB
	}
	return size
}
