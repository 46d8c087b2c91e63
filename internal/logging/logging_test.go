package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewJSONRespectsLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info(context.Background(), "dropped")
	log.With(String("component", "solver")).Warn(context.Background(), "line overstretched",
		Float("excess", 0.25), Uint64("tick", 42), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["msg"] != "line overstretched" || rec["component"] != "solver" {
		t.Fatalf("record = %v", rec)
	}
	if rec["excess"] != 0.25 || rec["tick"] != float64(42) || rec["error"] != "boom" {
		t.Fatalf("fields = %v", rec)
	}
}

func TestRunIDHelpers(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" || RunIDFromContext(ctx) != id {
		t.Fatalf("EnsureRunID did not attach an id")
	}
	if _, again := EnsureRunID(ctx); again != id {
		t.Fatalf("EnsureRunID replaced an existing id")
	}

	var buf bytes.Buffer
	ctx, log := WithRunLogger(ContextWithRunID(context.Background(), "run-7"), New(Config{Output: &buf}))
	log.Info(ctx, "flight started")
	if !strings.Contains(buf.String(), "run_id=run-7") {
		t.Fatalf("run logger missing run_id: %q", buf.String())
	}

	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on bare context")
	}
	if LoggerFromContext(ContextWithLogger(context.Background(), nil)) == nil {
		t.Fatalf("ContextWithLogger(nil) should store a noop logger")
	}
}

func TestNoopIsSilent(t *testing.T) {
	log := Noop().With(String("k", "v"))
	log.Error(context.Background(), "nothing")
	if Err(nil).Value != "" {
		t.Fatalf("Err(nil) should log an empty value")
	}
}
