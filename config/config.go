package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	MiB = 1 << 20
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	Limits     LimitsConfig     `yaml:"limits"`
	Processing ProcessingConfig `yaml:"processing"`
	Quality    QualityConfig    `yaml:"quality"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Store      StoreConfig      `yaml:"store"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	S3         S3Config         `yaml:"s3"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Clients    []Client         `yaml:"clients"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
	OutputDir string `yaml:"output_dir"`
}

// LimitsConfig bounds everything a client can make the server read.
type LimitsConfig struct {
	MaxImageBytes        int64 `yaml:"max_image_bytes"`
	MaxArchiveBytes      int64 `yaml:"max_archive_bytes"`
	MaxUncompressedBytes int64 `yaml:"max_uncompressed_bytes"`
	MaxArchiveEntries    int   `yaml:"max_archive_entries"`
	MaxArchiveImages     int   `yaml:"max_archive_images"`
	MaxRequestBytes      int64 `yaml:"max_request_bytes"`
}

type ProcessingConfig struct {
	Models            []string      `yaml:"models"`
	DefaultModel      string        `yaml:"default_model"`
	ForceModel        bool          `yaml:"force_model"`
	MaxWorkers        int           `yaml:"max_workers"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	OptimizeImages    *bool         `yaml:"optimize_images"`
	MaxImageDimension int           `yaml:"max_image_dimension"`
}

// Optimize reports whether uploads are downsized before segmentation.
func (p ProcessingConfig) Optimize() bool {
	return p.OptimizeImages == nil || *p.OptimizeImages
}

type QualityConfig struct {
	AlphaMatting        bool `yaml:"alpha_matting"`
	ForegroundThreshold int  `yaml:"foreground_threshold"`
	BackgroundThreshold int  `yaml:"background_threshold"`
	ErodeSize           int  `yaml:"erode_size"`
	BaseSize            int  `yaml:"base_size"`
}

type SegmenterConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Backend    string        `yaml:"backend"` // memory, redis
	MaxBatches int           `yaml:"max_batches"`
	BatchTTL   time.Duration `yaml:"batch_ttl"`
	RedisAddr  string        `yaml:"redis_addr"`
}

type CleanupConfig struct {
	Schedule   string        `yaml:"schedule"`
	FileMaxAge time.Duration `yaml:"file_max_age"`
}

type S3Config struct {
	Enabled      bool          `yaml:"enabled"`
	Endpoint     string        `yaml:"endpoint"`
	Region       string        `yaml:"region"`
	AccessKey    string        `yaml:"access_key"`
	SecretKey    string        `yaml:"secret_key"`
	Bucket       string        `yaml:"bucket"`
	FolderPrefix string        `yaml:"folder_prefix"`
	UseSSL       bool          `yaml:"use_ssl"`
	URLExpiry    time.Duration `yaml:"url_expiry"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type AuthConfig struct {
	RequireAuth      bool   `yaml:"require_auth"`
	APIToken         string `yaml:"api_token"`
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Client is an API consumer allowed to exchange its secret for a JWT.
type Client struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

var GlobalConfig *Config

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "uploads"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "outputs"
	}

	l := &c.Limits
	if l.MaxImageBytes == 0 {
		l.MaxImageBytes = 16 * MiB
	}
	if l.MaxArchiveBytes == 0 {
		l.MaxArchiveBytes = 50 * MiB
	}
	if l.MaxUncompressedBytes == 0 {
		l.MaxUncompressedBytes = 100 * MiB
	}
	if l.MaxArchiveEntries == 0 {
		l.MaxArchiveEntries = 100
	}
	if l.MaxArchiveImages == 0 {
		l.MaxArchiveImages = 50
	}
	if l.MaxRequestBytes == 0 {
		l.MaxRequestBytes = 110 * MiB
	}

	p := &c.Processing
	if len(p.Models) == 0 {
		p.Models = []string{"u2net", "u2netp", "u2net_human_seg", "u2net_cloth_seg"}
	}
	if p.DefaultModel == "" {
		p.DefaultModel = "u2net"
	}
	if p.MaxWorkers == 0 {
		p.MaxWorkers = 4
	}
	if p.MaxImageDimension == 0 {
		p.MaxImageDimension = 1024
	}

	q := &c.Quality
	if q.ForegroundThreshold == 0 {
		q.ForegroundThreshold = 240
	}
	if q.BackgroundThreshold == 0 {
		q.BackgroundThreshold = 10
	}
	if q.ErodeSize == 0 {
		q.ErodeSize = 10
	}
	if q.BaseSize == 0 {
		q.BaseSize = 1000
	}

	if c.Segmenter.Endpoint == "" {
		c.Segmenter.Endpoint = "http://localhost:7000"
	}
	if c.Segmenter.Timeout == 0 {
		c.Segmenter.Timeout = 120 * time.Second
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}

	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "@every 10m"
	}
	if c.Cleanup.FileMaxAge == 0 {
		c.Cleanup.FileMaxAge = time.Hour
	}

	if c.S3.Endpoint == "" {
		c.S3.Endpoint = "s3.amazonaws.com"
		c.S3.UseSSL = true
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
	if c.S3.FolderPrefix == "" {
		c.S3.FolderPrefix = "background-remover/"
	}
	if c.S3.URLExpiry == 0 {
		c.S3.URLExpiry = time.Hour
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "background_remover.batches"
	}

	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}

	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
}

// applyEnv lets deployments keep secrets out of the YAML file.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("BGR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	setString("BGR_SEGMENTER_ENDPOINT", &c.Segmenter.Endpoint)
	setString("BGR_REDIS_ADDR", &c.Store.RedisAddr)
	setString("BGR_S3_ACCESS_KEY", &c.S3.AccessKey)
	setString("BGR_S3_SECRET_KEY", &c.S3.SecretKey)
	setString("BGR_S3_BUCKET", &c.S3.Bucket)
	setString("BGR_API_TOKEN", &c.Auth.APIToken)
	setString("BGR_JWT_SECRET", &c.Auth.JWTSecret)
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if !slices.Contains(c.Processing.Models, c.Processing.DefaultModel) {
		return fmt.Errorf("default model %q is not in the model list", c.Processing.DefaultModel)
	}
	if c.Processing.MaxWorkers < 1 {
		return fmt.Errorf("processing.max_workers must be at least 1, got %d", c.Processing.MaxWorkers)
	}
	if c.Limits.MaxArchiveImages > c.Limits.MaxArchiveEntries {
		return fmt.Errorf("limits.max_archive_images (%d) exceeds max_archive_entries (%d)",
			c.Limits.MaxArchiveImages, c.Limits.MaxArchiveEntries)
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.AccessKey == "" || c.S3.SecretKey == "") {
		return fmt.Errorf("s3 is enabled but bucket or credentials are missing")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka is enabled but no brokers are configured")
	}
	if c.Auth.RequireAuth && c.Auth.APIToken == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is required but neither api_token nor jwt_secret is set")
	}
	return nil
}

// FindClient finds an API client by id
func (c *Config) FindClient(id string) *Client {
	for i := range c.Clients {
		if c.Clients[i].ID == id {
			return &c.Clients[i]
		}
	}
	return nil
}
