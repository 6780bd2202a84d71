package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Format: "json", TimeFormat: "Unix"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = closer.Close() }()
	logger.Info("hidden")
	logger.Warn("shown", "task", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["msg"] != "shown" || entry["task"] != float64(3) {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"].(float64); !ok {
		t.Fatalf("expected unix timestamp, got %T", entry["time"])
	}
}

func TestReplaceTimeFormats(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	attr := slog.Time(slog.TimeKey, ts)
	if got := replaceTime("RFC3339")(nil, attr); got.Value.String() != "2026-01-02T03:04:05Z" {
		t.Fatalf("rfc3339: %v", got.Value)
	}
	if got := replaceTime("UnixMilli")(nil, attr); got.Value.Int64() != ts.UnixMilli() {
		t.Fatalf("unixmilli: %v", got.Value)
	}
	if got := replaceTime("2006-01-02")(nil, attr); got.Value.String() != "2026-01-02" {
		t.Fatalf("custom: %v", got.Value)
	}
	if got := replaceTime("Unix")([]string{"grp"}, attr); got.Value.Kind() != slog.KindTime {
		t.Fatalf("grouped time attrs must pass through")
	}
}

func TestNewFansOutToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "taskledger.log")
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "debug", Format: "text", File: path}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Debug("task added", "index", 0)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.Contains(buf.String(), "task added") {
		t.Fatalf("stderr handler missed record: %q", buf.String())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"task added"`) {
		t.Fatalf("file handler missed record: %q", raw)
	}
}

func TestToJournalKey(t *testing.T) {
	if got := toJournalKey("rule.name-x"); got != "RULE_NAME_X" {
		t.Fatalf("unexpected key %q", got)
	}
}
