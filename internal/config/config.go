package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count that accepts human-readable YAML values such as
// "5MiB" or "2GB" in addition to plain integers.
type ByteSize int64

// UnmarshalYAML parses either a bare integer or a human-readable size string.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	trimmed := strings.TrimSpace(value.Value)
	if trimmed == "" {
		*b = 0
		return nil
	}
	parsed, err := units.RAMInBytes(trimmed)
	if err != nil {
		return fmt.Errorf("parse size %q: %w", trimmed, err)
	}
	*b = ByteSize(parsed)
	return nil
}

// Int64 returns the size as a plain int64 byte count.
func (b ByteSize) Int64() int64 { return int64(b) }

// Config is the full startup configuration for the wavecrate server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Upload   UploadConfig   `yaml:"upload"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	TLSCert  string `yaml:"tls_cert"`
	TLSKey   string `yaml:"tls_key"`
	BasePath string `yaml:"base_path"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KindRule constrains one file kind: the MIME types it accepts and its size
// ceiling. A zero MaxSize falls back to the global maximum.
type KindRule struct {
	MIMETypes []string `yaml:"mime_types"`
	MaxSize   ByteSize `yaml:"max_size"`
}

// UploadConfig bounds chunk layout and session lifetime.
type UploadConfig struct {
	DefaultChunkSize ByteSize            `yaml:"default_chunk_size"`
	MinChunkSize     ByteSize            `yaml:"min_chunk_size"`
	MaxChunkSize     ByteSize            `yaml:"max_chunk_size"`
	MaxFileSize      ByteSize            `yaml:"max_file_size"`
	SessionTTL       time.Duration       `yaml:"session_ttl"`
	PresignExpiry    time.Duration       `yaml:"presign_expiry"`
	Kinds            map[string]KindRule `yaml:"kinds"`
}

// RedisConfig points the session store at Redis. An empty Addr list selects
// the in-memory store (single-instance degraded mode).
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Addrs        []string      `yaml:"addrs"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	MasterName   string        `yaml:"sentinel_master"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLSCA        string        `yaml:"tls_ca"`
	TLSCert      string        `yaml:"tls_cert"`
	TLSKey       string        `yaml:"tls_key"`
	TLSServer    string        `yaml:"tls_server_name"`
	TLSSkip      bool          `yaml:"tls_skip_verify"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// StorageConfig points the object storage gateway at an S3-compatible store.
type StorageConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	UsePathStyle bool   `yaml:"use_path_style"`
	ChunkPrefix  string `yaml:"chunk_prefix"`
	FinalPrefix  string `yaml:"final_prefix"`
}

// DeliveryConfig drives CDN and streaming URL generation.
type DeliveryConfig struct {
	BaseURL       string                   `yaml:"base_url"`
	StreamingBase string                   `yaml:"streaming_base_url"`
	SigningSecret string                   `yaml:"signing_secret"`
	CacheTTLs     map[string]time.Duration `yaml:"cache_ttls"`
}

// CatalogConfig selects the finalized-object ledger backend. An empty DSN
// disables the catalog.
type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxConns    int32  `yaml:"max_conns"`
}

// PipelineConfig points the post-completion dispatcher at the media
// processing service. An empty Endpoint selects the stub pipeline.
type PipelineConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// CleanupConfig schedules the expired-session sweeper.
type CleanupConfig struct {
	Interval     time.Duration `yaml:"interval"`
	DeleteRate   float64       `yaml:"delete_rate"`
	Concurrency  int           `yaml:"concurrency"`
	ChunkMaxAge  time.Duration `yaml:"chunk_max_age"`
	SweepOrphans bool          `yaml:"sweep_orphans"`
}

// Chunk bounds use decimal megabytes so layouts line up with the sizes
// clients see in transfer UIs.
const (
	defaultChunkSize = 5_000_000
	minChunkSize     = 1_000_000
	maxChunkSize     = 50_000_000
	defaultMaxFile   = 2_000_000_000
)

// Default returns the configuration used when no file or overrides are
// provided.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML configuration at path and applies defaults. An empty
// path yields the default configuration.
func Load(path string) (Config, error) {
	cfg := Config{}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Upload.DefaultChunkSize <= 0 {
		c.Upload.DefaultChunkSize = defaultChunkSize
	}
	if c.Upload.MinChunkSize <= 0 {
		c.Upload.MinChunkSize = minChunkSize
	}
	if c.Upload.MaxChunkSize <= 0 {
		c.Upload.MaxChunkSize = maxChunkSize
	}
	if c.Upload.MaxFileSize <= 0 {
		c.Upload.MaxFileSize = defaultMaxFile
	}
	if c.Upload.SessionTTL <= 0 {
		c.Upload.SessionTTL = 24 * time.Hour
	}
	if c.Upload.PresignExpiry <= 0 {
		c.Upload.PresignExpiry = time.Hour
	}
	if c.Upload.Kinds == nil {
		c.Upload.Kinds = defaultKindRules()
	} else {
		for kind, rule := range defaultKindRules() {
			if _, ok := c.Upload.Kinds[kind]; !ok {
				c.Upload.Kinds[kind] = rule
			}
		}
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "wavecrate:upload:"
	}
	if c.Storage.ChunkPrefix == "" {
		c.Storage.ChunkPrefix = "chunks"
	}
	if c.Storage.FinalPrefix == "" {
		c.Storage.FinalPrefix = "assets"
	}
	if c.Pipeline.Timeout <= 0 {
		c.Pipeline.Timeout = 30 * time.Minute
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 2
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 64
	}
	if c.Pipeline.MaxRetries <= 0 {
		c.Pipeline.MaxRetries = 4
	}
	if c.Cleanup.Interval <= 0 {
		c.Cleanup.Interval = time.Hour
	}
	if c.Cleanup.DeleteRate <= 0 {
		c.Cleanup.DeleteRate = 50
	}
	if c.Cleanup.Concurrency <= 0 {
		c.Cleanup.Concurrency = 4
	}
	if c.Cleanup.ChunkMaxAge <= 0 {
		c.Cleanup.ChunkMaxAge = c.Upload.SessionTTL
	}
}

func defaultKindRules() map[string]KindRule {
	return map[string]KindRule{
		"audio": {
			MIMETypes: []string{"audio/wav", "audio/x-wav", "audio/mpeg", "audio/mp4", "audio/flac", "audio/aiff"},
		},
		"image": {
			MIMETypes: []string{"image/jpeg", "image/png", "image/webp"},
			MaxSize:   20 * 1024 * 1024,
		},
		"profile-image": {
			MIMETypes: []string{"image/jpeg", "image/png", "image/webp"},
			MaxSize:   10 * 1024 * 1024,
		},
		"artwork": {
			MIMETypes: []string{"image/jpeg", "image/png", "image/webp"},
			MaxSize:   25 * 1024 * 1024,
		},
	}
}

// Validate reports configuration combinations that cannot produce a working
// server.
func (c Config) Validate() error {
	if c.Upload.MinChunkSize > c.Upload.MaxChunkSize {
		return fmt.Errorf("min_chunk_size %d exceeds max_chunk_size %d", c.Upload.MinChunkSize, c.Upload.MaxChunkSize)
	}
	if c.Upload.DefaultChunkSize < c.Upload.MinChunkSize || c.Upload.DefaultChunkSize > c.Upload.MaxChunkSize {
		return fmt.Errorf("default_chunk_size %d outside [%d, %d]", c.Upload.DefaultChunkSize, c.Upload.MinChunkSize, c.Upload.MaxChunkSize)
	}
	if c.Upload.MaxFileSize < c.Upload.MinChunkSize {
		return fmt.Errorf("max_file_size %d below min_chunk_size %d", c.Upload.MaxFileSize, c.Upload.MinChunkSize)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("both tls_cert and tls_key must be provided")
	}
	for kind, rule := range c.Upload.Kinds {
		if len(rule.MIMETypes) == 0 {
			return fmt.Errorf("kind %q has no allowed MIME types", kind)
		}
	}
	return nil
}

// KindMaxSize returns the size ceiling for the provided file kind, falling
// back to the global maximum when the kind has no specific ceiling.
func (c Config) KindMaxSize(kind string) int64 {
	rule, ok := c.Upload.Kinds[kind]
	if !ok || rule.MaxSize <= 0 {
		return c.Upload.MaxFileSize.Int64()
	}
	if rule.MaxSize > c.Upload.MaxFileSize {
		return c.Upload.MaxFileSize.Int64()
	}
	return rule.MaxSize.Int64()
}
