// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration with the
// precedence ENV > file > defaults.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Server
	ListenAddr     string        `yaml:"listen_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	RateLimitRPS   int           `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`

	// Security
	CallbackSecret string `yaml:"callback_secret"` // shared HMAC secret for worker callbacks
	APIToken       string `yaml:"api_token"`       // operator token for read endpoints

	// Persistence
	DataDir string `yaml:"data_dir"`
	DBFile  string `yaml:"db_file"`

	// Object storage
	PresignBaseURL string        `yaml:"presign_base_url"`
	PresignSecret  string        `yaml:"presign_secret"`
	PresignTTL     time.Duration `yaml:"presign_ttl"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeMaxWait   time.Duration `yaml:"probe_max_wait"`

	// Cache
	RedisAddr     string        `yaml:"redis_addr"` // empty = in-memory cache
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	PricingTTL    time.Duration `yaml:"pricing_ttl"`

	// Pricing
	Pricing Pricing `yaml:"pricing"`

	// Reconciler
	ReconcileSchedule string        `yaml:"reconcile_schedule"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`

	// Observability
	LogLevel         string  `yaml:"log_level"`
	LogService       string  `yaml:"log_service"`
	TracingEnabled   bool    `yaml:"tracing_enabled"`
	TracingExporter  string  `yaml:"tracing_exporter"` // "http" or "grpc"
	TracingEndpoint  string  `yaml:"tracing_endpoint"`
	TracingSampling  float64 `yaml:"tracing_sampling"`
	Environment      string  `yaml:"environment"`

	// Version is injected at build time, never from file or env.
	Version string `yaml:"-"`
}

// Pricing holds the point pricing rules applied by the cost calculator.
type Pricing struct {
	DownloadPointsPerMinute int64              `yaml:"download_points_per_minute"`
	DownloadMinimumPoints   int64              `yaml:"download_minimum_points"`
	ASRPointsPerMinute      int64              `yaml:"asr_points_per_minute"`
	ASRMinimumPoints        int64              `yaml:"asr_minimum_points"`
	ModelMultipliers        map[string]float64 `yaml:"model_multipliers"`
	DefaultModels           map[string]string  `yaml:"default_models"`
}

// Default returns the built-in defaults applied before file and env overlays.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		MaxBodyBytes:      1 << 20, // callbacks are small JSON documents
		RateLimitRPS:      50,
		RateLimitBurst:    100,
		DataDir:           "/var/lib/settled",
		DBFile:            "settled.db",
		PresignTTL:        15 * time.Minute,
		ProbeTimeout:      10 * time.Second,
		ProbeMaxWait:      19 * time.Second,
		PricingTTL:        5 * time.Minute,
		ReconcileSchedule: "@every 1m",
		TaskTimeout:       2 * time.Hour,
		LogLevel:          "info",
		LogService:        "settled",
		TracingExporter:   "http",
		TracingSampling:   1.0,
		Environment:       "production",
		Pricing: Pricing{
			DownloadPointsPerMinute: 2,
			DownloadMinimumPoints:   1,
			ASRPointsPerMinute:      5,
			ASRMinimumPoints:        1,
			ModelMultipliers:        map[string]float64{},
			DefaultModels:           map[string]string{"asr": "whisper-large-v3"},
		},
	}
}

// Validate fails fast on configuration the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.CallbackSecret == "" {
		errs = append(errs, fmt.Errorf("callback_secret (SETTLED_CALLBACK_SECRET) must be set"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("listen_addr must not be empty"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be positive"))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("probe_timeout must be positive"))
	}
	if c.Pricing.DownloadPointsPerMinute < 0 || c.Pricing.ASRPointsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("pricing rates must not be negative"))
	}
	if c.TracingEnabled && c.TracingEndpoint == "" {
		errs = append(errs, fmt.Errorf("tracing_endpoint must be set when tracing is enabled"))
	}
	return errors.Join(errs...)
}
