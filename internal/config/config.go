package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values come from the YAML file
// named by CONFIG_PATH and are then overridden by environment variables.
type Config struct {
	Server struct {
		Host        string `yaml:"host" env:"SERVER_HOST"`
		Port        string `yaml:"port" env:"SERVER_PORT"`
		Prefork     bool   `yaml:"prefork"`
		BodyLimitMB int    `yaml:"body_limit_mb"`
	} `yaml:"server"`

	Limits struct {
		MaxInputBytes  int `yaml:"max_input_bytes"`
		MaxInlineBytes int `yaml:"max_inline_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file" env:"LOG_FILE"`
		Level      string `yaml:"level" env:"LOG_LEVEL"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		ResultCacheEnabled bool          `yaml:"result_cache_enabled"`
		ResultTTL          time.Duration `yaml:"result_ttl"`
		RedisHost          string        `yaml:"redis_host" env:"REDIS_HOST"`
		RateLimitDB        int           `yaml:"redis_rate_db"`
		ResultDB           int           `yaml:"redis_result_db"`
	} `yaml:"cache"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Required       bool             `yaml:"required" env:"AUTH_REQUIRED"`
		Postgres       PostgresConfig   `yaml:"postgres"`
		ReloadInterval time.Duration    `yaml:"reload_interval"`
		StaticTokens   map[string]Token `yaml:"static_tokens"`
	} `yaml:"auth"`

	Render RenderConfig `yaml:"render"`

	Transcode TranscodeConfig `yaml:"transcode"`

	Storage StorageConfig `yaml:"storage"`

	Telemetry struct {
		Endpoint    string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	} `yaml:"telemetry"`

	Worker WorkerConfig `yaml:"worker"`
}

// PostgresConfig describes the API token database.
type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT"`
	Database string `yaml:"database" env:"POSTGRES_DB"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE"`
}

// Token is a statically configured API token.
type Token struct {
	UserID    string `yaml:"user_id"`
	RateLimit int    `yaml:"rate_limit"`
}

// RenderConfig controls the render host process.
type RenderConfig struct {
	BlenderPath    string        `yaml:"blender_path" env:"BLENDER_BIN"`
	ScriptPath     string        `yaml:"script_path" env:"RENDER_SCRIPT"`
	WorkDir        string        `yaml:"work_dir" env:"RENDER_WORK_DIR"`
	RetainDir      string        `yaml:"retain_dir" env:"RENDER_RETAIN_DIR"`
	TimeoutSecs    int           `yaml:"timeout_secs" env:"BLENDER_TIMEOUT_SECONDS"`
	MaxTimeoutSecs int           `yaml:"max_timeout_secs"`
	MaxConcurrent  int           `yaml:"max_concurrent" env:"RENDER_MAX_CONCURRENT"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	FramePrefix    string        `yaml:"frame_prefix"`
	// OutputMode is "frames" when the host writes a PNG sequence and
	// "video" when the host encodes the video itself.
	OutputMode string `yaml:"output_mode"`
}

// TranscodeConfig controls frame sequence encoding.
type TranscodeConfig struct {
	Enabled     bool   `yaml:"enabled"`
	FFmpegPath  string `yaml:"ffmpeg_path" env:"FFMPEG_BIN"`
	Framerate   int    `yaml:"framerate"`
	CRF         int    `yaml:"crf"`
	Codec       string `yaml:"codec"`
	PixFmt      string `yaml:"pix_fmt"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// StorageConfig describes the object storage bucket.
type StorageConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket" env:"S3_BUCKET_NAME"`
	Region          string        `yaml:"region" env:"AWS_REGION"`
	Endpoint        string        `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKeyID     string        `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string        `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	UsePathStyle    bool          `yaml:"use_path_style" env:"S3_USE_PATH_STYLE"`
	PresignExpiry   time.Duration `yaml:"presign_expiry"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
}

// WorkerConfig controls the serverless job poller.
type WorkerConfig struct {
	JobURL       string        `yaml:"job_url" env:"RUNPOD_WEBHOOK_GET_JOB"`
	ResultURL    string        `yaml:"result_url" env:"RUNPOD_WEBHOOK_POST_OUTPUT"`
	WorkerID     string        `yaml:"worker_id" env:"RUNPOD_POD_ID"`
	APIKey       string        `yaml:"api_key" env:"RUNPOD_AI_API_KEY"`
	PollInterval time.Duration `yaml:"poll_interval"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

// Timeout returns the default render timeout.
func (r RenderConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// MaxTimeout returns the largest timeout a caller may request.
func (r RenderConfig) MaxTimeout() time.Duration {
	return time.Duration(r.MaxTimeoutSecs) * time.Second
}

// Timeout returns the transcoding timeout.
func (t TranscodeConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSecs) * time.Second
}

// Default returns a configuration with every field set to its default.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8000"
	cfg.Server.BodyLimitMB = 16
	cfg.Limits.MaxInputBytes = 5 * 1024 * 1024
	cfg.Limits.MaxInlineBytes = 50 * 1024 * 1024
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 50
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 14
	cfg.Cache.ResultTTL = 24 * time.Hour
	cfg.Cache.RateLimitDB = 0
	cfg.Cache.ResultDB = 1
	cfg.RateLimiter.Interval = time.Minute
	cfg.Auth.ReloadInterval = time.Minute
	cfg.Render.ScriptPath = "/workspace/render_logo.py"
	cfg.Render.TimeoutSecs = 1200
	cfg.Render.MaxTimeoutSecs = 3600
	cfg.Render.MaxConcurrent = 1
	cfg.Render.AcquireTimeout = 5 * time.Second
	cfg.Render.FramePrefix = "frame_"
	cfg.Render.OutputMode = "frames"
	cfg.Transcode.Enabled = true
	cfg.Transcode.Framerate = 24
	cfg.Transcode.CRF = 23
	cfg.Transcode.Codec = "libx264"
	cfg.Transcode.PixFmt = "yuv420p"
	cfg.Transcode.TimeoutSecs = 300
	cfg.Storage.Region = "us-east-1"
	cfg.Storage.PresignExpiry = 7 * 24 * time.Hour
	cfg.Storage.UploadTimeout = 5 * time.Minute
	cfg.Telemetry.ServiceName = "logorender"
	cfg.Worker.PollInterval = time.Second
	cfg.Worker.HTTPTimeout = 30 * time.Second
	return cfg
}

// Load reads the file named by CONFIG_PATH (default config.yaml).
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result. A missing file yields the
// defaults. It panics on unreadable or invalid configuration.
func LoadFrom(path string) Config {
	cfg, err := Parse(path)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Parse is LoadFrom without the panic.
func Parse(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Containers often run on env vars alone.
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Storage.Bucket != "" {
		cfg.Storage.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	if c.Render.TimeoutSecs <= 0 {
		return errors.New("render.timeout_secs must be positive")
	}
	if c.Render.MaxTimeoutSecs < c.Render.TimeoutSecs {
		return errors.New("render.max_timeout_secs must be >= render.timeout_secs")
	}
	if c.Render.MaxConcurrent < 0 {
		return errors.New("render.max_concurrent must not be negative")
	}
	if c.Render.OutputMode != "frames" && c.Render.OutputMode != "video" {
		return fmt.Errorf("render.output_mode %q must be frames or video", c.Render.OutputMode)
	}
	if c.Render.FramePrefix == "" {
		return errors.New("render.frame_prefix must not be empty")
	}
	if c.Transcode.Enabled {
		if c.Transcode.Framerate <= 0 {
			return errors.New("transcode.framerate must be positive")
		}
		if c.Transcode.CRF < 0 || c.Transcode.CRF > 51 {
			return errors.New("transcode.crf must be between 0 and 51")
		}
		if c.Transcode.TimeoutSecs <= 0 {
			return errors.New("transcode.timeout_secs must be positive")
		}
	}
	if c.Storage.Enabled {
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required when storage is enabled")
		}
		if c.Storage.PresignExpiry <= 0 || c.Storage.PresignExpiry > 7*24*time.Hour {
			return errors.New("storage.presign_expiry must be between 1s and 7 days")
		}
	}
	if c.Limits.MaxInputBytes <= 0 {
		return errors.New("limits.max_input_bytes must be positive")
	}
	if c.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	if c.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	return nil
}
