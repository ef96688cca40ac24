// Package logger builds the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// New returns a logger writing to stdout in format ("json" or "text").
func New(format string, verbose bool) (*slog.Logger, error) {
	return NewWriter(os.Stdout, format, verbose)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	switch format {
	case "", FormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case FormatText:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:       level,
			ReplaceAttr: replaceAttr,
		})), nil
	default:
		return nil, fmt.Errorf("logger: unknown format %q (want json or text)", format)
	}
}

// replaceAttr renders times as UTC RFC3339 with milliseconds and elides
// empty strings.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s.%03dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/1_000_000)
}
