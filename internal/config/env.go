package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/feedpool/internal/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEEDPOOL_"

// Environment overrides.
const (
	EnvAddr            = EnvPrefix + "ADDR"
	EnvSessionTTL      = EnvPrefix + "SESSION_TTL"
	EnvRateLimit       = EnvPrefix + "RATE_LIMIT"
	EnvDBDriver        = EnvPrefix + "DB_DRIVER"
	EnvDBDSN           = EnvPrefix + "DB_DSN"
	EnvLogLevel        = EnvPrefix + "LOG_LEVEL"
	EnvLogFormat       = EnvPrefix + "LOG_FORMAT"
	EnvIngestEnabled   = EnvPrefix + "INGEST_ENABLED"
	EnvPollingInterval = EnvPrefix + "POLL_INTERVAL_MINUTES"
)

// ParseString reads a string from the environment or returns defaultValue.
// It logs where the value came from.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, ok := os.LookupEnv(key); ok && value != "" {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "dsn") || strings.Contains(lower, "password") {
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		} else {
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	logDefault(logger, key)
	return defaultValue
}

// ParseInt reads an integer from the environment. Unparseable values fall
// back to defaultValue with a warning.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logDefault(logger, key)
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// ParseDuration reads a Go duration ("90s", "30m") from the environment.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logDefault(logger, key)
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

// ParseBool accepts true/false, 1/0 and yes/no.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logDefault(logger, key)
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

func logDefault(logger zerolog.Logger, key string) {
	logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
}

// applyEnv overlays FEEDPOOL_* variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = ParseString(EnvAddr, cfg.Server.Addr)
	cfg.Server.SessionTTL = ParseDuration(EnvSessionTTL, cfg.Server.SessionTTL)
	cfg.Server.RateLimit = ParseInt(EnvRateLimit, cfg.Server.RateLimit)
	cfg.Database.Driver = ParseString(EnvDBDriver, cfg.Database.Driver)
	cfg.Database.DSN = ParseString(EnvDBDSN, cfg.Database.DSN)
	cfg.Log.Level = ParseString(EnvLogLevel, cfg.Log.Level)
	cfg.Log.Format = ParseString(EnvLogFormat, cfg.Log.Format)
	cfg.Ingest.Enabled = ParseBool(EnvIngestEnabled, cfg.Ingest.Enabled)
	cfg.Ingest.PollingIntervalMinutes = ParseInt(EnvPollingInterval, cfg.Ingest.PollingIntervalMinutes)
}
