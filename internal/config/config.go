// Package config loads and validates mp4vfsd's runtime configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoggingConfig controls the rotating daemon log file.
type LoggingConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Level      string `mapstructure:"level"`
}

// StreamingConfig bounds how much of a single Range: request the HTTP
// layer will honor.
type StreamingConfig struct {
	MaxRangeBytes int64 `mapstructure:"max_range_bytes"`
}

// Config is mp4vfsd's top-level configuration, loaded from
// mp4vfsd.yaml with environment-variable overrides.
type Config struct {
	ListenAddr      string          `mapstructure:"listen_addr"`
	SampleFileDir   string          `mapstructure:"sample_file_dir"`
	RecordingDBPath string          `mapstructure:"recording_db_path"`
	Logging         LoggingConfig   `mapstructure:"logging"`
	Streaming       StreamingConfig `mapstructure:"streaming"`
}

// defaults mirrors Load's fallback values so a zero-value Config loaded
// from an empty file still validates.
func defaults() Config {
	return Config{
		ListenAddr:      ":8080",
		SampleFileDir:   "/var/lib/mp4vfsd/samples",
		RecordingDBPath: "/var/lib/mp4vfsd/recordings.db",
		Logging: LoggingConfig{
			Path:       "/var/log/mp4vfsd/mp4vfsd.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Level:      "info",
		},
		Streaming: StreamingConfig{
			MaxRangeBytes: 64 << 20,
		},
	}
}

// Load reads configuration from path (if non-empty) merged over
// defaults, with MP4VFSD_-prefixed environment variables taking
// precedence, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := defaults()
	if err := v.MergeConfigMap(toMap(cfg)); err != nil {
		return nil, fmt.Errorf("config: seeding defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("MP4VFSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// toMap spells cfg out as a nested map under the same mapstructure keys
// Unmarshal will later read back, for MergeConfigMap.
func toMap(cfg Config) map[string]any {
	return map[string]any{
		"listen_addr":       cfg.ListenAddr,
		"sample_file_dir":   cfg.SampleFileDir,
		"recording_db_path": cfg.RecordingDBPath,
		"logging": map[string]any{
			"path":         cfg.Logging.Path,
			"max_size_mb":  cfg.Logging.MaxSizeMB,
			"max_backups":  cfg.Logging.MaxBackups,
			"max_age_days": cfg.Logging.MaxAgeDays,
			"level":        cfg.Logging.Level,
		},
		"streaming": map[string]any{
			"max_range_bytes": cfg.Streaming.MaxRangeBytes,
		},
	}
}

// Validate rejects a Config that would fail at startup in a confusing
// way later (empty paths, non-positive rotation sizes).
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.SampleFileDir == "" {
		return fmt.Errorf("config: sample_file_dir is required")
	}
	if c.RecordingDBPath == "" {
		return fmt.Errorf("config: recording_db_path is required")
	}
	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("config: logging.max_size_mb must be positive, got %d", c.Logging.MaxSizeMB)
	}
	if c.Streaming.MaxRangeBytes <= 0 {
		return fmt.Errorf("config: streaming.max_range_bytes must be positive, got %d", c.Streaming.MaxRangeBytes)
	}
	return nil
}
