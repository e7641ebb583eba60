package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInitText(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitTo(&buf, "info", "text")
	slog.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output missing message: %q", buf.String())
	}
}

func TestInitJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitTo(&buf, "debug", "JSON")
	slog.Debug("detail")
	if !strings.Contains(buf.String(), `"msg":"detail"`) {
		t.Errorf("json output missing message: %q", buf.String())
	}
	SetLevel(slog.LevelInfo)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"  Error  ", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"unknown", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q): err = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDynamicHandlerEnabled(t *testing.T) {
	SetLevel(slog.LevelWarn)
	defer SetLevel(slog.LevelInfo)

	h := &dynamicHandler{}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestForAddsComponent(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	For("ledger").Info("component log")

	r, ok := c.Find(slog.LevelInfo, "component log")
	if !ok {
		t.Fatal("For() logger should use captured handler")
	}
	if v, _ := Attr(r, "component"); v != "ledger" {
		t.Errorf("component attr: got %q, want ledger", v)
	}
}

func TestForKeepsWithAttrs(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	log := For("claim").With("attempt", "a-1")
	log.Warn("audit failed")

	r, ok := c.Find(slog.LevelWarn, "audit failed")
	if !ok {
		t.Fatal("record not captured")
	}
	if v, _ := Attr(r, "attempt"); v != "a-1" {
		t.Errorf("attempt attr: got %q, want a-1", v)
	}
	if v, _ := Attr(r, "component"); v != "claim" {
		t.Errorf("component attr: got %q, want claim", v)
	}
}

func TestCaptureForTest(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	slog.Info("hello")
	slog.Warn("warning message")
	slog.Debug("debug detail")

	if n := len(c.Records()); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	if !c.Has(slog.LevelInfo, "hello") {
		t.Error("should have info 'hello'")
	}
	if c.Has(slog.LevelError, "hello") {
		t.Error("should not match error level")
	}
	if c.Count(slog.LevelWarn) != 1 || c.Count(slog.LevelDebug) != 1 || c.Count(slog.LevelError) != 0 {
		t.Errorf("unexpected counts: warn=%d debug=%d error=%d",
			c.Count(slog.LevelWarn), c.Count(slog.LevelDebug), c.Count(slog.LevelError))
	}
}

func TestCaptureRestore(t *testing.T) {
	prev := slog.Default()
	c := CaptureForTest()
	c.Restore()
	if slog.Default() != prev {
		t.Error("default logger not restored")
	}
}
