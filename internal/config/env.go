// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voxmill/settled/internal/log"
	"github.com/rs/zerolog"
)

// ParseString reads a string from an environment variable or returns the
// default value. It logs the source for observability; secret-ish keys are
// never logged by value.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	lowerKey := strings.ToLower(key)
	if strings.Contains(lowerKey, "secret") || strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password") {
		logger.Debug().Str("key", key).Str("source", "environment").Bool("sensitive", true).Msg("using environment variable")
	} else {
		logger.Debug().Str("key", key).Str("value", value).Str("source", "environment").Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer from an environment variable or returns the
// default value. Invalid values fall back to the default.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment, using default")
		return defaultValue
	}
	return i
}

// ParseInt64 reads an int64 from an environment variable or returns the
// default value.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int64("default", defaultValue).
			Msg("invalid integer in environment, using default")
		return defaultValue
	}
	return i
}

// ParseBool reads a boolean from an environment variable or returns the
// default value. Accepts the forms strconv.ParseBool accepts.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment, using default")
		return defaultValue
	}
	return b
}

// ParseDuration reads a duration (Go syntax, e.g. "30s") from an environment
// variable or returns the default value.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment, using default")
		return defaultValue
	}
	return d
}

// ParseFloat reads a float64 from an environment variable or returns the
// default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).
			Msg("invalid float in environment, using default")
		return defaultValue
	}
	return f
}

// applyEnv overlays SETTLED_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.ListenAddr = ParseString("SETTLED_LISTEN", cfg.ListenAddr)
	cfg.ReadTimeout = ParseDuration("SETTLED_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = ParseDuration("SETTLED_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.MaxBodyBytes = ParseInt64("SETTLED_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.RateLimitRPS = ParseInt("SETTLED_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = ParseInt("SETTLED_RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.CallbackSecret = ParseString("SETTLED_CALLBACK_SECRET", cfg.CallbackSecret)
	cfg.APIToken = ParseString("SETTLED_API_TOKEN", cfg.APIToken)

	cfg.DataDir = ParseString("SETTLED_DATA", cfg.DataDir)
	cfg.DBFile = ParseString("SETTLED_DB_FILE", cfg.DBFile)

	cfg.PresignBaseURL = ParseString("SETTLED_PRESIGN_BASE_URL", cfg.PresignBaseURL)
	cfg.PresignSecret = ParseString("SETTLED_PRESIGN_SECRET", cfg.PresignSecret)
	cfg.PresignTTL = ParseDuration("SETTLED_PRESIGN_TTL", cfg.PresignTTL)
	cfg.ProbeTimeout = ParseDuration("SETTLED_PROBE_TIMEOUT", cfg.ProbeTimeout)
	cfg.ProbeMaxWait = ParseDuration("SETTLED_PROBE_MAX_WAIT", cfg.ProbeMaxWait)

	cfg.RedisAddr = ParseString("SETTLED_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("SETTLED_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("SETTLED_REDIS_DB", cfg.RedisDB)
	cfg.PricingTTL = ParseDuration("SETTLED_PRICING_TTL", cfg.PricingTTL)

	cfg.ReconcileSchedule = ParseString("SETTLED_RECONCILE_SCHEDULE", cfg.ReconcileSchedule)
	cfg.TaskTimeout = ParseDuration("SETTLED_TASK_TIMEOUT", cfg.TaskTimeout)

	cfg.LogLevel = ParseString("SETTLED_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("SETTLED_LOG_SERVICE", cfg.LogService)
	cfg.TracingEnabled = ParseBool("SETTLED_TRACING_ENABLED", cfg.TracingEnabled)
	cfg.TracingExporter = ParseString("SETTLED_TRACING_EXPORTER", cfg.TracingExporter)
	cfg.TracingEndpoint = ParseString("SETTLED_TRACING_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingSampling = ParseFloat("SETTLED_TRACING_SAMPLING", cfg.TracingSampling)
	cfg.Environment = ParseString("SETTLED_ENVIRONMENT", cfg.Environment)

	cfg.Pricing.DownloadPointsPerMinute = ParseInt64("SETTLED_PRICE_DOWNLOAD_PPM", cfg.Pricing.DownloadPointsPerMinute)
	cfg.Pricing.DownloadMinimumPoints = ParseInt64("SETTLED_PRICE_DOWNLOAD_MIN", cfg.Pricing.DownloadMinimumPoints)
	cfg.Pricing.ASRPointsPerMinute = ParseInt64("SETTLED_PRICE_ASR_PPM", cfg.Pricing.ASRPointsPerMinute)
	cfg.Pricing.ASRMinimumPoints = ParseInt64("SETTLED_PRICE_ASR_MIN", cfg.Pricing.ASRMinimumPoints)
}
