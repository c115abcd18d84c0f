package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/db")

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if cfg.WALDir != filepath.Join("/tmp/db", "wal") {
		t.Errorf("unexpected WAL dir %q", cfg.WALDir)
	}
	if cfg.SSTDir != filepath.Join("/tmp/db", "sst") {
		t.Errorf("unexpected sorted table dir %q", cfg.SSTDir)
	}
	if cfg.WriteBufferSize != 4*1024*1024 {
		t.Errorf("unexpected write buffer size %d", cfg.WriteBufferSize)
	}
	if cfg.Level0CompactionTrigger != 4 {
		t.Errorf("unexpected level 0 trigger %d", cfg.Level0CompactionTrigger)
	}
	if cfg.WALSyncMode != SyncImmediate {
		t.Errorf("unexpected sync mode %d", cfg.WALSyncMode)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"empty wal dir", func(c *Config) { c.WALDir = "" }},
		{"zero write buffer", func(c *Config) { c.WriteBufferSize = 0 }},
		{"negative write buffer", func(c *Config) { c.WriteBufferSize = -1 }},
		{"zero immutable buffers", func(c *Config) { c.MaxImmutableBuffers = 0 }},
		{"tiny block size", func(c *Config) { c.DataBlockSize = 512 }},
		{"zero bloom bits", func(c *Config) { c.BloomBitsPerKey = 0 }},
		{"excess bloom bits", func(c *Config) { c.BloomBitsPerKey = 33 }},
		{"bad compression", func(c *Config) { c.Compression = "lz77" }},
		{"zero trigger", func(c *Config) { c.Level0CompactionTrigger = 0 }},
		{"multiplier below 2", func(c *Config) { c.LevelSizeMultiplier = 1 }},
		{"single level", func(c *Config) { c.MaxLevels = 1 }},
		{"zero check interval", func(c *Config) { c.CompactionCheckInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig("/tmp/db")
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v should wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.yaml")
	content := `
write_buffer_size_bytes: 1048576
level0_compaction_trigger_count: 8
bloom_bits_per_key: 12
compression: snappy
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromYAML(dir, path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.WriteBufferSize != 1048576 {
		t.Errorf("write buffer size = %d, want 1048576", cfg.WriteBufferSize)
	}
	if cfg.Level0CompactionTrigger != 8 {
		t.Errorf("level 0 trigger = %d, want 8", cfg.Level0CompactionTrigger)
	}
	if cfg.BloomBitsPerKey != 12 {
		t.Errorf("bloom bits = %d, want 12", cfg.BloomBitsPerKey)
	}
	if cfg.Compression != CompressionSnappy {
		t.Errorf("compression = %q, want snappy", cfg.Compression)
	}
	// Options absent from the file keep their defaults
	if cfg.LevelSizeMultiplier != 10 {
		t.Errorf("level size multiplier = %d, want default 10", cfg.LevelSizeMultiplier)
	}
	if cfg.CompactionCheckInterval != 30*time.Second {
		t.Errorf("check interval = %v, want default 30s", cfg.CompactionCheckInterval)
	}
}

func TestLoadFromYAMLMissingFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromYAML(dir, filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults, got %v", err)
	}
	if cfg.WriteBufferSize != 4*1024*1024 {
		t.Errorf("expected default write buffer size, got %d", cfg.WriteBufferSize)
	}
}

func TestLoadFromYAMLInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.yaml")
	if err := os.WriteFile(path, []byte("bloom_bits_per_key: 99\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadFromYAML(dir, path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/db")
	cfg.Compression = CompressionZstd
	cfg.MaxLevels = 5

	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	loaded, err := LoadFromJSON(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if loaded.Compression != CompressionZstd {
		t.Errorf("compression = %q, want zstd", loaded.Compression)
	}
	if loaded.MaxLevels != 5 {
		t.Errorf("max levels = %d, want 5", loaded.MaxLevels)
	}
}
