// Package config loads the runtime configuration of the asset cache core.
// Values come from an optional YAML file, then ARCACHE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvStorageRoot   = "ARCACHE_STORAGE_ROOT"
	EnvLogLevel      = "ARCACHE_LOG_LEVEL"
	EnvMinScore      = "ARCACHE_MIN_SCORE"
	EnvEncodeQuality = "ARCACHE_ENCODE_QUALITY"
)

// Defaults.
const (
	DefaultMediaDir         = "media_cache"
	DefaultMarkerDir        = "marker_images"
	DefaultArtifactsFile    = "artifacts.json"
	DefaultMarkersFile      = "markers.json"
	DefaultRenameAttempts   = 3
	DefaultRenameDelay      = 20 * time.Millisecond
	DefaultMinScore         = 75
	DefaultEncodeQuality    = 0.92
	DefaultPreviewSize      = 256
	DefaultPreviewWorkers   = 1
	DefaultPreviewQueueSize = 32
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultGraceDelay       = time.Second
	DefaultHysteresis       = 0.1
	DefaultLogLevel         = "INFO"
)

// Config is the root configuration.
type Config struct {
	StorageRoot string        `yaml:"storage_root"`
	Cache       CacheConfig   `yaml:"cache"`
	Store       StoreConfig   `yaml:"store"`
	Ingest      IngestConfig  `yaml:"ingest"`
	Tracker     TrackerConfig `yaml:"tracker"`
	Logging     LoggingConfig `yaml:"logging"`
}

// CacheConfig names the two managed asset directories, relative to StorageRoot
// unless absolute.
type CacheConfig struct {
	MediaDir  string `yaml:"media_dir"`
	MarkerDir string `yaml:"marker_dir"`
}

// StoreConfig controls the persisted documents.
type StoreConfig struct {
	ArtifactsFile  string        `yaml:"artifacts_file"`
	MarkersFile    string        `yaml:"markers_file"`
	RenameAttempts uint          `yaml:"rename_attempts"`
	RenameDelay    time.Duration `yaml:"rename_delay"`
}

// IngestConfig controls the marker ingestion gate and preview generation.
type IngestConfig struct {
	MinScore         int     `yaml:"min_score"`
	EncodeQuality    float64 `yaml:"encode_quality"`
	PreviewSize      int     `yaml:"preview_size"`
	PreviewWorkers   int     `yaml:"preview_workers"`
	PreviewQueueSize int     `yaml:"preview_queue_size"`
}

// TrackerConfig controls the download progress loop.
type TrackerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	GraceDelay   time.Duration `yaml:"grace_delay"`
	// Hysteresis is in percentage points.
	Hysteresis float64 `yaml:"hysteresis"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration rooted at root with every default applied.
func Default(root string) *Config {
	cfg := &Config{StorageRoot: root}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path (optional when empty), fills defaults,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Cache.MediaDir == "" {
		c.Cache.MediaDir = DefaultMediaDir
	}
	if c.Cache.MarkerDir == "" {
		c.Cache.MarkerDir = DefaultMarkerDir
	}
	if c.Store.ArtifactsFile == "" {
		c.Store.ArtifactsFile = DefaultArtifactsFile
	}
	if c.Store.MarkersFile == "" {
		c.Store.MarkersFile = DefaultMarkersFile
	}
	if c.Store.RenameAttempts == 0 {
		c.Store.RenameAttempts = DefaultRenameAttempts
	}
	if c.Store.RenameDelay == 0 {
		c.Store.RenameDelay = DefaultRenameDelay
	}
	if c.Ingest.MinScore == 0 {
		c.Ingest.MinScore = DefaultMinScore
	}
	if c.Ingest.EncodeQuality == 0 {
		c.Ingest.EncodeQuality = DefaultEncodeQuality
	}
	if c.Ingest.PreviewSize == 0 {
		c.Ingest.PreviewSize = DefaultPreviewSize
	}
	if c.Ingest.PreviewWorkers == 0 {
		c.Ingest.PreviewWorkers = DefaultPreviewWorkers
	}
	if c.Ingest.PreviewQueueSize == 0 {
		c.Ingest.PreviewQueueSize = DefaultPreviewQueueSize
	}
	if c.Tracker.PollInterval == 0 {
		c.Tracker.PollInterval = DefaultPollInterval
	}
	if c.Tracker.GraceDelay == 0 {
		c.Tracker.GraceDelay = DefaultGraceDelay
	}
	if c.Tracker.Hysteresis == 0 {
		c.Tracker.Hysteresis = DefaultHysteresis
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvStorageRoot); v != "" {
		c.StorageRoot = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvMinScore); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMinScore, v, err)
		}
		c.Ingest.MinScore = n
	}
	if v := os.Getenv(EnvEncodeQuality); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvEncodeQuality, v, err)
		}
		c.Ingest.EncodeQuality = f
	}
	return nil
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage_root is required")
	}
	if c.Ingest.MinScore < 0 || c.Ingest.MinScore > 100 {
		return fmt.Errorf("ingest.min_score must be within 0..100, got %d", c.Ingest.MinScore)
	}
	if c.Ingest.EncodeQuality <= 0 || c.Ingest.EncodeQuality > 1 {
		return fmt.Errorf("ingest.encode_quality must be within (0, 1], got %v", c.Ingest.EncodeQuality)
	}
	if c.Ingest.PreviewSize <= 0 || c.Ingest.PreviewWorkers <= 0 || c.Ingest.PreviewQueueSize <= 0 {
		return fmt.Errorf("ingest preview settings must be positive")
	}
	if c.Tracker.PollInterval <= 0 || c.Tracker.GraceDelay <= 0 {
		return fmt.Errorf("tracker intervals must be positive")
	}
	if c.Tracker.Hysteresis < 0 {
		return fmt.Errorf("tracker.hysteresis must not be negative")
	}
	if c.Store.RenameDelay < 0 {
		return fmt.Errorf("store.rename_delay must not be negative")
	}
	return nil
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.StorageRoot, p)
}

// MediaPath returns the media cache directory.
func (c *Config) MediaPath() string { return c.resolve(c.Cache.MediaDir) }

// MarkerPath returns the marker image directory.
func (c *Config) MarkerPath() string { return c.resolve(c.Cache.MarkerDir) }

// ArtifactsDocumentPath returns the artifacts document file.
func (c *Config) ArtifactsDocumentPath() string { return c.resolve(c.Store.ArtifactsFile) }

// MarkersDocumentPath returns the markers document file.
func (c *Config) MarkersDocumentPath() string { return c.resolve(c.Store.MarkersFile) }
