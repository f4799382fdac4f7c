// Package log owns the process-wide zerolog logger. Packages obtain child
// loggers through WithComponent; the CLI installs the final configuration
// with Reconfigure once the config file has been read.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// DefaultService is attached to every entry when Config.Service is empty.
const DefaultService = "feedpool"

// Config describes the global logger. Zero values select info level, JSON
// lines on stdout and DefaultService.
type Config struct {
	Level   string
	Format  string
	Output  io.Writer
	Service string
}

var (
	mu         sync.Mutex
	configured bool
	root       zerolog.Logger
)

// Configure installs cfg unless a logger is already installed.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if !configured {
		install(cfg)
	}
}

// Reconfigure installs cfg, replacing any earlier configuration.
func Reconfigure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	install(cfg)
}

// install builds the root logger from cfg. Caller holds mu.
func install(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(cfg.Format, FormatConsole) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: true}
	}
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}
	root = zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	configured = true
}

// parseLevel falls back to LOG_LEVEL, then to info. Unknown names select info.
func parseLevel(name string) zerolog.Level {
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	if name == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Base returns the root logger, installing the defaults on first use.
func Base() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !configured {
		install(Config{})
	}
	return root
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
