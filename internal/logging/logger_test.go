package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestInitWithJSONFormat(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log-*.json")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()

	InitWith("debug", "json", f)
	Info("hello", "key", "value")
	time.Sleep(20 * time.Millisecond)

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := bytes.TrimSpace(data)
	if len(line) == 0 {
		t.Fatalf("expected a log line, got none")
	}
	var parsed map[string]any
	if err := json.Unmarshal(bytes.SplitN(line, []byte("\n"), 2)[0], &parsed); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, line)
	}
	if parsed["msg"] != "hello" || parsed["key"] != "value" {
		t.Fatalf("unexpected log record: %v", parsed)
	}
}

func TestSetLevelFromCode(t *testing.T) {
	cases := []struct {
		code int
		want slog.Level
	}{
		{0, slog.LevelDebug},
		{1, slog.LevelDebug},
		{2, slog.LevelInfo},
		{3, slog.LevelWarn},
		{4, slog.LevelError},
		{5, slog.LevelError},
	}
	for _, c := range cases {
		SetLevelFromCode(c.code)
		if got := level.Level(); got != c.want {
			t.Errorf("SetLevelFromCode(%d): level = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestEnqueueDropsWhenChannelFull(t *testing.T) {
	InitWith("debug", "json", os.Stdout)
	// Replace the running writer's channel with a tiny, never-drained one
	// so we can force an overflow deterministically.
	writer = &writerLoop{ch: make(chan record), handler: writer.handler}
	for i := 0; i < 5; i++ {
		Info("flood")
	}
	if Dropped() == 0 {
		t.Fatalf("expected some records to be dropped once the channel is full")
	}
}
