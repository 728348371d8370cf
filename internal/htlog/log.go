// Package htlog provides the structured logging surface shared by every
// kernel component. There is no wire protocol and no HTTP listener inside
// the core, so this is deliberately smaller than a service logging package:
// one configurable base logger, plus per-component child loggers.
package htlog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the package-global base logger.
type Config struct {
	Level   string    // zerolog level name; defaults to "info"
	Output  io.Writer // defaults to os.Stderr
	Module  string    // attached to every log line; defaults to "home-topology"
	Version string
}

var (
	mu          sync.RWMutex
	base        zerolog.Logger
	initialized bool
)

// Configure (re)initializes the global logger. Safe to call more than once;
// later calls replace the prior configuration.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	module := cfg.Module
	if module == "" {
		module = "home-topology"
	}

	base = zerolog.New(out).With().
		Timestamp().
		Str("module", module).
		Str("version", cfg.Version).
		Logger()

	initialized = true
}

func ensureInitialized() {
	mu.RLock()
	ok := initialized
	mu.RUnlock()
	if !ok {
		Configure(Config{})
	}
}

// Base returns a copy of the configured base logger.
func Base() zerolog.Logger {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// L returns a pointer to a copy of the base logger, for call sites that want
// the chaining style (log.L().Warn()....).
func L() *zerolog.Logger {
	l := Base()
	return &l
}

// Component returns a child logger tagged with the given component name,
// e.g. "eventbus", "topology", "occupancy".
func Component(name string) zerolog.Logger {
	return Base().With().Str("component", name).Logger()
}
