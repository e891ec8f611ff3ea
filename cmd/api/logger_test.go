package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLogger_LevelAndFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := newLogger(&buf, " WARN ")

	log.Info("http.request", "status", 200)
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	log.Warn("readyz.fail", "err", "mongo down")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "readyz.fail" || line["level"] != "WARN" || line["err"] != "mongo down" {
		t.Fatalf("unexpected record: %v", line)
	}
	if slog.Default() != log {
		t.Fatal("newLogger should install itself as the default logger")
	}
}
