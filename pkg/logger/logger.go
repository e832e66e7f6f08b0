// pkg/logger/logger.go
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

var (
	// Log is the global logger instance
	Log zerolog.Logger
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	Log = New(os.Stdout, FormatConsole)
}

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New builds a logger writing to out in the given format. Unknown formats
// fall back to console output.
func New(out io.Writer, format string) zerolog.Logger {
	w := out
	if format != FormatJSON {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	return zerolog.New(w).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetFormat swaps the global logger output format, keeping its level.
func SetFormat(format string) error {
	switch format {
	case FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	level := Log.GetLevel()
	Log = New(os.Stdout, format).Level(level)
	return nil
}

// ParseLevel accepts the usual severity names (DEBUG, INFO, WARNING, ERROR,
// CRITICAL) in any case, as well as zerolog's own level names.
func ParseLevel(levelStr string) (zerolog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(levelStr))
	switch name {
	case "warning":
		name = "warn"
	case "critical":
		name = "fatal"
	case "":
		return zerolog.NoLevel, fmt.Errorf("empty log level")
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", levelStr, err)
	}
	return level, nil
}

// SetLevel sets the log level
func SetLevel(levelStr string) error {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
	return nil
}
