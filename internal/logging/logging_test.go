package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "runner")).Info(context.Background(), "step complete",
		Step(3),
		Float64("missing", 0.25),
		Duration("elapsed", 2*time.Second),
		Time("at", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
		Object("animal", "a-1"),
		Err(errors.New("boom")),
	)

	entry := decodeLine(t, &buf)
	if entry["msg"] != "step complete" || entry["component"] != "runner" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["step"] != float64(3) || entry["missing"] != 0.25 || entry["error"] != "boom" {
		t.Fatalf("entry fields = %v", entry)
	}
	if entry["at"] != "2024-01-02T00:00:00Z" {
		t.Fatalf("at = %v, want RFC 3339", entry["at"])
	}
	obj, _ := entry["object"].(map[string]any)
	if obj["kind"] != "animal" || obj["id"] != "a-1" {
		t.Fatalf("object = %v, want kind animal id a-1", entry["object"])
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatalf("request_id written without one on the context: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("output = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSourceIsCaller(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", AddSource: true, Output: &buf})

	log.Info(context.Background(), "where")

	entry := decodeLine(t, &buf)
	src, _ := entry["source"].(map[string]any)
	file, _ := src["file"].(string)
	if !strings.HasSuffix(file, "logging_test.go") {
		t.Fatalf("source file = %q, want logging_test.go", file)
	}
}

func TestErrNil(t *testing.T) {
	if f := Err(nil); f.Key != "error" || f.Value != "" {
		t.Fatalf("Err(nil) = %+v", f)
	}
}

func TestRequestIDIsLoggedFromContext(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" || RequestIDFromContext(ctx) != id {
		t.Fatalf("EnsureRequestID did not store an id")
	}
	ctx2, id2 := EnsureRequestID(ctx)
	if id2 != id || ctx2 != ctx {
		t.Fatalf("EnsureRequestID replaced an existing id")
	}

	var buf bytes.Buffer
	New(Config{Format: "json", Output: &buf}).Info(ctx, "call")
	if got := decodeLine(t, &buf)["request_id"]; got != id {
		t.Fatalf("request_id = %v, want %s", got, id)
	}
}

func TestFromContextFallsBack(t *testing.T) {
	fallback := New(Config{Output: &bytes.Buffer{}})
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Fatalf("FromContext without a logger did not return the fallback")
	}
	if _, ok := FromContext(context.Background(), nil).(noopLogger); !ok {
		t.Fatalf("FromContext with nil fallback should be Noop")
	}

	stored := Noop().With(String("k", "v"))
	ctx := ContextWithLogger(context.Background(), stored)
	if got := FromContext(ctx, fallback); got != stored {
		t.Fatalf("FromContext ignored the stored logger")
	}
	if FromContext(ContextWithLogger(context.Background(), nil), fallback) == fallback {
		t.Fatalf("ContextWithLogger(nil) should store a noop logger")
	}
}
