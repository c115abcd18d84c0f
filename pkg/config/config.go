// Package config defines the engine configuration, its defaults, validation
// rules, and loading from JSON or YAML.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// SyncMode controls when WAL appends reach stable storage.
type SyncMode int

const (
	// SyncNone leaves durability to the OS page cache
	SyncNone SyncMode = iota
	// SyncBatch fsyncs once per write batch
	SyncBatch
	// SyncImmediate fsyncs after every append
	SyncImmediate
)

// CompressionType selects the block codec for sorted table files.
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionSnappy CompressionType = "snappy"
	CompressionZstd   CompressionType = "zstd"
)

// Config holds all tunable engine options. Unrecognized options in a loaded
// file are ignored so configurations stay forward compatible.
type Config struct {
	// Directory layout
	DBPath string `json:"db_path" yaml:"db_path"`
	WALDir string `json:"wal_dir" yaml:"wal_dir"`
	SSTDir string `json:"sst_dir" yaml:"sst_dir"`

	// Write path
	WriteBufferSize     int64    `json:"write_buffer_size_bytes" yaml:"write_buffer_size_bytes"`
	MaxImmutableBuffers int      `json:"max_immutable_buffers" yaml:"max_immutable_buffers"`
	WALSyncMode         SyncMode `json:"wal_sync_mode" yaml:"wal_sync_mode"`

	// Sorted table layout
	DataBlockSize   int             `json:"data_block_size_bytes" yaml:"data_block_size_bytes"`
	BloomBitsPerKey int             `json:"bloom_bits_per_key" yaml:"bloom_bits_per_key"`
	Compression     CompressionType `json:"compression" yaml:"compression"`

	// Compaction shape
	Level0CompactionTrigger int           `json:"level0_compaction_trigger_count" yaml:"level0_compaction_trigger_count"`
	LevelSizeMultiplier     int           `json:"level_size_multiplier" yaml:"level_size_multiplier"`
	BaseLevelSize           int64         `json:"base_level_size_bytes" yaml:"base_level_size_bytes"`
	MaxLevels               int           `json:"max_levels" yaml:"max_levels"`
	CompactionCheckInterval time.Duration `json:"compaction_check_interval" yaml:"compaction_check_interval"`
}

// NewDefaultConfig creates a Config with recommended default values rooted
// at dbPath.
func NewDefaultConfig(dbPath string) *Config {
	return &Config{
		DBPath: dbPath,
		WALDir: filepath.Join(dbPath, "wal"),
		SSTDir: filepath.Join(dbPath, "sst"),

		WriteBufferSize:     4 * 1024 * 1024, // 4MB
		MaxImmutableBuffers: 2,
		WALSyncMode:         SyncImmediate,

		DataBlockSize:   16 * 1024, // 16KB
		BloomBitsPerKey: 10,
		Compression:     CompressionNone,

		Level0CompactionTrigger: 4,
		LevelSizeMultiplier:     10,
		BaseLevelSize:           32 * 1024 * 1024, // 32MB
		MaxLevels:               7,
		CompactionCheckInterval: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: database path not specified", ErrInvalidConfig)
	}
	if c.WALDir == "" {
		return fmt.Errorf("%w: WAL directory not specified", ErrInvalidConfig)
	}
	if c.SSTDir == "" {
		return fmt.Errorf("%w: sorted table directory not specified", ErrInvalidConfig)
	}

	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: write buffer size must be positive", ErrInvalidConfig)
	}
	if c.MaxImmutableBuffers < 1 {
		return fmt.Errorf("%w: max immutable buffers must be at least 1", ErrInvalidConfig)
	}
	if c.WALSyncMode < SyncNone || c.WALSyncMode > SyncImmediate {
		return fmt.Errorf("%w: unknown WAL sync mode %d", ErrInvalidConfig, c.WALSyncMode)
	}

	if c.DataBlockSize < 1024 {
		return fmt.Errorf("%w: data block size must be at least 1KB", ErrInvalidConfig)
	}
	if c.BloomBitsPerKey < 1 || c.BloomBitsPerKey > 32 {
		return fmt.Errorf("%w: bloom bits per key must be in [1, 32]", ErrInvalidConfig)
	}
	switch c.Compression {
	case CompressionNone, CompressionSnappy, CompressionZstd:
	default:
		return fmt.Errorf("%w: unknown compression type %q", ErrInvalidConfig, c.Compression)
	}

	if c.Level0CompactionTrigger < 1 {
		return fmt.Errorf("%w: level 0 compaction trigger must be at least 1", ErrInvalidConfig)
	}
	if c.LevelSizeMultiplier < 2 {
		return fmt.Errorf("%w: level size multiplier must be at least 2", ErrInvalidConfig)
	}
	if c.BaseLevelSize <= 0 {
		return fmt.Errorf("%w: base level size must be positive", ErrInvalidConfig)
	}
	if c.MaxLevels < 2 {
		return fmt.Errorf("%w: max levels must be at least 2", ErrInvalidConfig)
	}
	if c.CompactionCheckInterval <= 0 {
		return fmt.Errorf("%w: compaction check interval must be positive", ErrInvalidConfig)
	}

	return nil
}

// LoadFromYAML reads a configuration file, overlaying its values on the
// defaults for dbPath. A missing file yields the defaults.
func LoadFromYAML(dbPath, path string) (*Config, error) {
	cfg := NewDefaultConfig(dbPath)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromJSON parses a configuration from JSON data.
func LoadFromJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToJSON serializes the configuration for diagnostics output.
func (c *Config) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
