// Package logging holds the process-wide logger. It wraps
// charmbracelet/log so callers can use printf-style helpers or structured
// key/value pairs.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Tests may swap it for a buffer-backed one.
var L = clog.NewWithOptions(os.Stderr, clog.Options{
	ReportTimestamp: true,
	TimeFormat:      time.RFC3339,
})

// Configure sets level ("debug", "info", "warn", "error") and format
// ("text", "json", "logfmt") on a fresh logger writing to w.
func Configure(w io.Writer, level, format string) error {
	lvl, err := clog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	l := clog.NewWithOptions(w, clog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           lvl,
	})
	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(clog.TextFormatter)
	case "json":
		l.SetFormatter(clog.JSONFormatter)
	case "logfmt":
		l.SetFormatter(clog.LogfmtFormatter)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	L = l
	return nil
}

// With returns a child logger carrying the given key/value pairs.
func With(keyvals ...any) *clog.Logger {
	return L.With(keyvals...)
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...any) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...any) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...any) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...any) {
	L.Error(fmt.Sprintf(format, v...))
}
