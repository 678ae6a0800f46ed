// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Config controls log output.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Default: info.
	Level string

	// Format is "console", "json" or "auto". Auto picks console on a TTY.
	Format string

	// Output overrides the destination (stderr by default).
	Output io.Writer
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init replaces the base logger according to cfg.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if useConsole(cfg.Format, out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()

	mu.Lock()
	base = logger
	mu.Unlock()
}

// Logger returns the base logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

func useConsole(format string, out io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text", "pretty":
		return true
	case "json":
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
