// Package observability provides the zerolog factory, Prometheus metrics,
// and health state for the margin vault service.
package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns a JSON logger for a component. The level comes from the
// MV_LOG_LEVEL env var (trace, debug, info, warn, error); default info.
func NewLogger(component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := os.Getenv("MV_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
