package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in).Level(); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")
	logger.Info("withdrawal requested", "partner_id", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "withdrawal requested" || entry["partner_id"] != float64(42) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestTextFormatFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info must be filtered at warn level")
	}
	logger.Warn("redis ping failed")
	if !strings.Contains(buf.String(), "msg=\"redis ping failed\"") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
