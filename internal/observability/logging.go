package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns the service logger for component. FXSWAP_LOG_LEVEL sets
// the level (default info); FXSWAP_LOG_PRETTY=1 switches stdout to the
// human-readable console writer for local runs.
func NewLogger(component string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if os.Getenv("FXSWAP_LOG_PRETTY") == "1" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}
	return NewLoggerWithLevel(out, component, levelFromEnv(os.Getenv("FXSWAP_LOG_LEVEL")))
}

// NewLoggerWithLevel writes JSON lines to w. Tests pass a buffer.
func NewLoggerWithLevel(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
}

// levelFromEnv accepts any zerolog level name. Unknown or empty values
// fall back to info.
func levelFromEnv(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
