package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kenneth/e2ee-encryption-engine/internal/padding"
)

// Config holds the complete engine configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" env:"E2EE_LOG_LEVEL"`
	LogFormat  string           `yaml:"log_format" env:"E2EE_LOG_FORMAT"` // json or text
	Encryption EncryptionConfig `yaml:"encryption"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// EncryptionConfig holds the encryption parameters.
type EncryptionConfig struct {
	// ChunkSize is the encrypted chunk size of the streaming formats, in
	// bytes. It is fixed per stream and written into every chunk header.
	ChunkSize int `yaml:"chunk_size" env:"E2EE_ENCRYPTION_CHUNK_SIZE"`

	// Padding selects the length-padding policy: "auto" (padme-based),
	// "off", or a fixed step size in bytes (e.g. "4096").
	Padding string `yaml:"padding" env:"E2EE_ENCRYPTION_PADDING"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"E2EE_METRICS_ENABLED"`
}

// minChunkSize keeps every streaming format workable: the largest
// per-chunk overhead is 62 bytes, so anything smaller carries no payload.
const minChunkSize = 128

// LoadConfig loads configuration from a file and environment variables.
// Environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Encryption: EncryptionConfig{
			ChunkSize: 1024 * 1024,
			Padding:   "auto",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("E2EE_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("E2EE_LOG_FORMAT"); v != "" {
		config.LogFormat = v
	}
	if v := os.Getenv("E2EE_ENCRYPTION_CHUNK_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			config.Encryption.ChunkSize = size
		}
	}
	if v := os.Getenv("E2EE_ENCRYPTION_PADDING"); v != "" {
		config.Encryption.Padding = v
	}
	if v := os.Getenv("E2EE_METRICS_ENABLED"); v != "" {
		config.Metrics.Enabled = v == "true" || v == "1"
	}
}

// PaddingPolicy parses the configured padding setting.
func (c EncryptionConfig) PaddingPolicy() (padding.Policy, error) {
	switch strings.ToLower(strings.TrimSpace(c.Padding)) {
	case "", "auto":
		return padding.Auto, nil
	case "off", "none":
		return padding.Off, nil
	default:
		step, err := strconv.Atoi(strings.TrimSpace(c.Padding))
		if err != nil || step <= 0 {
			return padding.Policy{}, fmt.Errorf("invalid encryption.padding: %q (must be auto, off, or a positive step size)", c.Padding)
		}
		return padding.Step(step)
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.LogLevel] {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
		}
	}

	if c.LogFormat != "" && c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", c.LogFormat)
	}

	if c.Encryption.ChunkSize < minChunkSize {
		return fmt.Errorf("encryption.chunk_size must be at least %d bytes, got %d", minChunkSize, c.Encryption.ChunkSize)
	}

	if _, err := c.Encryption.PaddingPolicy(); err != nil {
		return err
	}

	return nil
}
