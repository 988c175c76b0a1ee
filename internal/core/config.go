package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. NATIVESTREAM_CHUNK_SIZE.
const EnvPrefix = "NATIVESTREAM_"

// EngineConfig holds runtime configuration for stream realms.
type EngineConfig struct {
	ChunkSize         int    `yaml:"chunk_size"`          // bytes read per producer step
	MaxChunk          int    `yaml:"max_chunk"`           // max bytes handed to one read request
	MaxResponseBytes  int64  `yaml:"max_response_bytes"`  // fetched body limit, 0 = unlimited
	FetchTimeoutSec   int    `yaml:"fetch_timeout_sec"`   // per-fetch timeout in seconds
	DrainTimeoutMs    int    `yaml:"drain_timeout_ms"`    // Realm.Drain deadline
	FinalizeOnCollect bool   `yaml:"finalize_on_collect"` // tear down controllers when primitives are collected
	MemoryLimitMB     int    `yaml:"memory_limit_mb"`     // per-runtime JS memory limit
	MetricsNamespace  string `yaml:"metrics_namespace"`

	Log   LogConfig       `yaml:"log"`
	Blobs BlobStoreConfig `yaml:"blobs"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// BlobStoreConfig selects the blob storage backend.
type BlobStoreConfig struct {
	Driver    string `yaml:"driver"` // memory, sqlite, redis
	Path      string `yaml:"path"`   // sqlite database path
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		ChunkSize:         32 * 1024,
		MaxChunk:          64 * 1024,
		MaxResponseBytes:  64 * 1024 * 1024,
		FetchTimeoutSec:   30,
		DrainTimeoutMs:    5000,
		FinalizeOnCollect: true,
		MemoryLimitMB:     128,
		MetricsNamespace:  "nativestream",
		Log:               LogConfig{Level: "info"},
		Blobs:             BlobStoreConfig{Driver: "memory", KeyPrefix: "blob:"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig, then applies
// NATIVESTREAM_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (EngineConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment without overwriting variables that are already set.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations that would break the buffering contract.
func (c EngineConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxChunk <= 0 {
		return fmt.Errorf("max_chunk must be positive, got %d", c.MaxChunk)
	}
	if c.MaxResponseBytes < 0 {
		return fmt.Errorf("max_response_bytes must not be negative")
	}
	switch c.Blobs.Driver {
	case "", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blobs.Driver)
	}
	return nil
}

func (c *EngineConfig) applyEnv(getenv func(string) string) error {
	ints := map[string]*int{
		"CHUNK_SIZE":        &c.ChunkSize,
		"MAX_CHUNK":         &c.MaxChunk,
		"FETCH_TIMEOUT_SEC": &c.FetchTimeoutSec,
		"DRAIN_TIMEOUT_MS":  &c.DrainTimeoutMs,
		"MEMORY_LIMIT_MB":   &c.MemoryLimitMB,
		"BLOBS_REDIS_DB":    &c.Blobs.RedisDB,
	}
	for name, dst := range ints {
		v := getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}
	if v := getenv(EnvPrefix + "MAX_RESPONSE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing %sMAX_RESPONSE_BYTES: %w", EnvPrefix, err)
		}
		c.MaxResponseBytes = n
	}
	if v := getenv(EnvPrefix + "FINALIZE_ON_COLLECT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %sFINALIZE_ON_COLLECT: %w", EnvPrefix, err)
		}
		c.FinalizeOnCollect = b
	}
	strs := map[string]*string{
		"METRICS_NAMESPACE": &c.MetricsNamespace,
		"LOG_LEVEL":         &c.Log.Level,
		"BLOBS_DRIVER":      &c.Blobs.Driver,
		"BLOBS_PATH":        &c.Blobs.Path,
		"BLOBS_REDIS_ADDR":  &c.Blobs.RedisAddr,
		"BLOBS_KEY_PREFIX":  &c.Blobs.KeyPrefix,
	}
	for name, dst := range strs {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	return nil
}
