package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Gexflow  GexflowConfig  `yaml:"gexflow"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Session  SessionConfig  `yaml:"session"`
	Pacing   PacingConfig   `yaml:"pacing"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Feeds    FeedsConfig    `yaml:"feeds"`
	Storage  StorageConfig  `yaml:"storage"`
	Web      WebConfig      `yaml:"web"`
}

type GexflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
}

// SessionConfig describes the daily trading window. Start and end are
// minutes past midnight in the configured timezone; both boundaries are
// in-session.
type SessionConfig struct {
	Timezone    string        `yaml:"timezone"`
	StartMinute int           `yaml:"start_minute"`
	EndMinute   int           `yaml:"end_minute"`
	GateEnabled bool          `yaml:"gate_enabled"`
	ClosedSleep time.Duration `yaml:"closed_sleep"`
}

// PacingConfig bounds the shared upstream call rate. GlobalGap applies across
// every queue; per-queue gaps add spacing on top of it.
type PacingConfig struct {
	GlobalGap time.Duration            `yaml:"global_gap"`
	QueueGaps map[string]time.Duration `yaml:"queue_gaps"`
}

type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

type FeedsConfig struct {
	Chain   ChainFeedConfig   `yaml:"chain"`
	Breadth BreadthFeedConfig `yaml:"breadth"`
}

// FeedScheduleConfig is the shared cadence surface of a poll loop.
type FeedScheduleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	BaseInterval    time.Duration `yaml:"base_interval"`
	MinInterval     time.Duration `yaml:"min_interval"`
	BackoffStep     time.Duration `yaml:"backoff_step"`
	MaxBackoffSteps int           `yaml:"max_backoff_steps"`
	JitterCeiling   time.Duration `yaml:"jitter_ceiling"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

type ChainFeedConfig struct {
	FeedScheduleConfig `yaml:",inline"`
	Symbol             string `yaml:"symbol"`
	ExpiryOverride     string `yaml:"expiry_override"`
	SubBucketSeconds   int    `yaml:"sub_bucket_seconds"`
}

type BreadthFeedConfig struct {
	FeedScheduleConfig `yaml:",inline"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxBatch        int           `yaml:"max_batch"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoadConfig reads and validates the YAML configuration at path. Secrets can
// be supplied through the environment instead of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Session: SessionConfig{
			Timezone:    "America/New_York",
			StartMinute: 9*60 + 30,
			EndMinute:   16 * 60,
			GateEnabled: true,
			ClosedSleep: time.Minute,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("UPSTREAM_TOKEN"); v != "" {
		config.Upstream.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		config.Storage.Postgres.DSN = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Gexflow.Name == "" {
		return fmt.Errorf("gexflow.name is required")
	}
	if cfg.Gexflow.Version == "" {
		return fmt.Errorf("gexflow.version is required")
	}

	if cfg.Session.StartMinute < 0 || cfg.Session.StartMinute >= 24*60 {
		return fmt.Errorf("session.start_minute must be within a day")
	}
	if cfg.Session.EndMinute <= cfg.Session.StartMinute || cfg.Session.EndMinute >= 24*60 {
		return fmt.Errorf("session.end_minute must be after session.start_minute and within a day")
	}
	if cfg.Session.ClosedSleep <= 0 {
		return fmt.Errorf("session.closed_sleep must be greater than 0")
	}

	if cfg.Pacing.GlobalGap <= 0 {
		return fmt.Errorf("pacing.global_gap must be greater than 0")
	}

	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if cfg.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be greater than 0")
	}
	if cfg.Upstream.Retry.BaseDelay <= 0 || cfg.Upstream.Retry.MaxDelay < cfg.Upstream.Retry.BaseDelay {
		return fmt.Errorf("upstream.retry delays are invalid")
	}

	if cfg.Feeds.Chain.Enabled {
		if cfg.Feeds.Chain.Symbol == "" {
			return fmt.Errorf("feeds.chain.symbol is required when the chain feed is enabled")
		}
		if err := validateSchedule("feeds.chain", cfg.Feeds.Chain.FeedScheduleConfig); err != nil {
			return err
		}
	}
	if cfg.Feeds.Breadth.Enabled {
		if err := validateSchedule("feeds.breadth", cfg.Feeds.Breadth.FeedScheduleConfig); err != nil {
			return err
		}
	}

	if cfg.Storage.Postgres.Enabled && cfg.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required when postgres is enabled")
	}
	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}

	if cfg.Web.Enabled && cfg.Web.Address == "" {
		return fmt.Errorf("web.address is required when the web API is enabled")
	}

	return nil
}

func validateSchedule(section string, sched FeedScheduleConfig) error {
	if sched.BaseInterval <= 0 {
		return fmt.Errorf("%s.base_interval must be greater than 0", section)
	}
	if sched.MinInterval <= 0 || sched.MinInterval > sched.BaseInterval {
		return fmt.Errorf("%s.min_interval must be in (0, base_interval]", section)
	}
	if sched.BackoffStep < 0 {
		return fmt.Errorf("%s.backoff_step must not be negative", section)
	}
	if sched.MaxBackoffSteps <= 0 {
		return fmt.Errorf("%s.max_backoff_steps must be greater than 0", section)
	}
	if sched.JitterCeiling < 0 {
		return fmt.Errorf("%s.jitter_ceiling must not be negative", section)
	}
	if sched.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be at least 1", section)
	}
	return nil
}
