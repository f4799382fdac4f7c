// Package config loads feedpool settings from a YAML file with FEEDPOOL_*
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryan-buckman/feedpool/internal/database"
	"github.com/bryan-buckman/feedpool/internal/feed"
	"github.com/bryan-buckman/feedpool/internal/log"
	"github.com/bryan-buckman/feedpool/internal/model"
)

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Feeds    FeedsConfig    `yaml:"feeds"`
}

// ServerConfig controls the HTTP host.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is the number of session requests allowed per client IP
	// per minute. Zero disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

// DatabaseConfig selects the record store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// IngestConfig controls upstream feed polling.
type IngestConfig struct {
	Enabled                bool `yaml:"enabled"`
	PollingIntervalMinutes int  `yaml:"polling_interval_minutes"`
}

// FeedsConfig holds the knobs of each feed variant.
type FeedsConfig struct {
	Community feed.Knobs `yaml:"community"`
	Gallery   feed.Knobs `yaml:"gallery"`
	Recent    feed.Knobs `yaml:"recent"`
}

// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
var ErrUnknownConfigField = errors.New("unknown config field")

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			SessionTTL:      30 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       120,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "feedpool.db",
		},
		Log: LogConfig{Level: "info", Format: log.FormatJSON},
		Ingest: IngestConfig{
			Enabled:                true,
			PollingIntervalMinutes: 60,
		},
		Feeds: FeedsConfig{
			Community: feed.DefaultKnobs(feed.VariantCommunity),
			Gallery:   feed.DefaultKnobs(feed.VariantGallery),
			Recent:    feed.DefaultKnobs(feed.VariantRecent),
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional, may
// be empty) and the environment, in that order, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Keys absent from the file keep their
// current values.
func loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("parse config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// Knobs returns the knobs configured for v.
func (c Config) Knobs(v feed.Variant) feed.Knobs {
	switch v {
	case feed.VariantCommunity:
		return c.Feeds.Community
	case feed.VariantRecent:
		return c.Feeds.Recent
	default:
		return c.Feeds.Gallery
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.SessionTTL <= 0 {
		errs = append(errs, errors.New("server.session_ttl must be positive"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn must not be empty"))
	}
	switch c.Log.Format {
	case "", log.FormatJSON, log.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	if c.Ingest.Enabled && c.Ingest.PollingIntervalMinutes < database.MinPollingIntervalMinutes {
		errs = append(errs, fmt.Errorf("ingest.polling_interval_minutes must be at least %d", database.MinPollingIntervalMinutes))
	}
	for _, v := range []feed.Variant{feed.VariantCommunity, feed.VariantGallery, feed.VariantRecent} {
		errs = append(errs, validateKnobs(v, c.Knobs(v))...)
	}
	return errors.Join(errs...)
}

func validateKnobs(v feed.Variant, k feed.Knobs) []error {
	var errs []error
	if k.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("feeds.%s.page_size must be positive", v))
	}
	if k.LowWaterMark < feed.DefaultLowWaterMark {
		errs = append(errs, fmt.Errorf("feeds.%s.low_water_mark must be -1 (twice the page size) or more", v))
	}
	if k.BatchLimit < 0 || k.BatchLimit > model.MaxBatchLimit {
		errs = append(errs, fmt.Errorf("feeds.%s.batch_limit must be between 0 and %d", v, model.MaxBatchLimit))
	}
	if k.PerAuthorCap < 0 {
		errs = append(errs, fmt.Errorf("feeds.%s.per_author_cap must not be negative", v))
	}
	if k.PoolCap < 0 {
		errs = append(errs, fmt.Errorf("feeds.%s.pool_cap must not be negative", v))
	}
	if k.MinDescriptionLength < 0 {
		errs = append(errs, fmt.Errorf("feeds.%s.min_description_length must not be negative", v))
	}
	return errs
}
