// Package logging builds the process slog logger: a JSON or text handler on
// the given writer, optionally fanned out to a log file and the systemd
// journal.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Options configures the logger.
type Options struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or text
	TimeFormat string `yaml:"time_format"`
	File       string `yaml:"file"`
	Journal    bool   `yaml:"journal"`
}

// DefaultOptions returns text output at info level.
func DefaultOptions() Options {
	return Options{Level: "INFO", Format: "text", TimeFormat: "RFC3339"}
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func replaceTime(format string) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.TimeKey || len(groups) > 0 || format == "" {
			return a
		}
		t := a.Value.Time()
		switch format {
		case "Unix":
			return slog.Int64(slog.TimeKey, t.Unix())
		case "UnixMilli":
			return slog.Int64(slog.TimeKey, t.UnixMilli())
		case "RFC3339":
			return slog.String(slog.TimeKey, t.Format(time.RFC3339))
		case "RFC3339Nano":
			return slog.String(slog.TimeKey, t.Format(time.RFC3339Nano))
		default:
			return slog.String(slog.TimeKey, t.Format(format))
		}
	}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// New builds a logger writing to w (os.Stderr when nil). The returned closer
// releases the log file, if any.
func New(opts Options, w io.Writer) (*slog.Logger, io.Closer, error) {
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: replaceTime(opts.TimeFormat),
	}
	base := newHandler(w, opts.Format, handlerOpts)
	handlers := []slog.Handler{base}
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		closer = f
	}

	if opts.Journal {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level:        handlerOpts.Level,
			ReplaceGroup: toJournalKey,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "systemd journal unavailable", 0)
			record.AddAttrs(slog.String("error", err.Error()))
			_ = base.Handle(context.Background(), record)
		} else {
			handlers = append(handlers, journal)
		}
	}

	if len(handlers) == 1 {
		return slog.New(base), closer, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// toJournalKey upper-cases a key and replaces anything outside [A-Z0-9] with '_'.
func toJournalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
