// Package config loads Recall configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Recall configuration.
type Config struct {
	Listen string      `yaml:"listen"`
	DBPath string      `yaml:"db_path"`
	Cache  CacheConfig `yaml:"cache"`
	Audit  AuditConfig `yaml:"audit"`
}

// CacheConfig controls the response cache engine.
type CacheConfig struct {
	MaxSizeMB           int64         `yaml:"max_size_mb"`
	DefaultTTL          time.Duration `yaml:"default_ttl"`
	Strategy            string        `yaml:"strategy"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
}

// MaxSizeBytes converts the configured bound to bytes.
func (c CacheConfig) MaxSizeBytes() int64 {
	return c.MaxSizeMB << 20
}

// AuditConfig controls the invalidation audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"` // defaults to the main db_path
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "recall.db",
		Cache: CacheConfig{
			MaxSizeMB:           500,
			DefaultTTL:          time.Hour,
			Strategy:            "performance",
			SimilarityThreshold: 0.8,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = cfg.DBPath
	}

	return cfg, nil
}
