package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Pretty: false, Output: &buf}), &buf
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != InfoLevel {
		t.Errorf("Level = %v, want InfoLevel", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Pretty should be true by default")
	}
	if cfg.Output == nil {
		t.Error("Output should not be nil")
	}
}

func TestNew_Component(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: InfoLevel, Output: &buf, Component: "fetcher"})
	l.Info("hello")

	if !strings.Contains(buf.String(), `"component":"fetcher"`) {
		t.Errorf("Output should contain component: %s", buf.String())
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("dropped")
	l.WithURL("https://example.com").Warn("dropped")

	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	orig := NewDefault()
	if OrNop(orig) != orig {
		t.Error("OrNop should return the given logger")
	}
}

// ===== Child Logger Tests

func TestLogger_WithFields(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.WithComponent("sitemap").
		WithURL("https://example.com/sitemap.xml").
		WithFields(map[string]interface{}{"locs": 12}).
		Info("expanded")

	out := buf.String()
	for _, want := range []string{"sitemap", "https://example.com/sitemap.xml", `"locs":12`} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q: %s", want, out)
		}
	}
}

func TestLogger_WithBatch(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.WithBatch(2, 5).Info("calling model")

	out := buf.String()
	if !strings.Contains(out, `"batch":2`) || !strings.Contains(out, `"batches":5`) {
		t.Errorf("Output should contain batch fields: %s", out)
	}
}

func TestLogger_WithDuration(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.WithDuration(500 * time.Millisecond).Info("completed")

	if !strings.Contains(buf.String(), "duration") {
		t.Errorf("Output should contain duration: %s", buf.String())
	}
}

// ===== Level Tests

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(WarnLevel)

	l.Debug("debug-line")
	l.Info("info-line")
	l.Warn("warn-line")
	l.Errorf("error-%s", "line")

	out := buf.String()
	if strings.Contains(out, "debug-line") || strings.Contains(out, "info-line") {
		t.Errorf("debug and info should be filtered: %s", out)
	}
	if !strings.Contains(out, "warn-line") || !strings.Contains(out, "error-line") {
		t.Errorf("warn and error should be present: %s", out)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	l, buf := newBufferLogger(DebugLevel)

	l.Debug("should appear")
	l.SetLevel(ErrorLevel)
	l.Debug("should not appear")

	out := buf.String()
	if !strings.Contains(out, "should appear") {
		t.Error("first debug should appear")
	}
	if strings.Contains(out, "should not appear") {
		t.Error("debug after SetLevel(Error) should be filtered")
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	if err != nil {
		t.Fatalf("ParseLevel: %v", err)
	}
	if lvl != WarnLevel {
		t.Errorf("ParseLevel(warn) = %v", lvl)
	}
}

// ===== Event Tests

func TestLogger_FetchEvent(t *testing.T) {
	l, buf := newBufferLogger(DebugLevel)

	l.FetchEvent("https://example.com/about", "static", 1200, 80*time.Millisecond)

	out := buf.String()
	for _, want := range []string{"https://example.com/about", `"strategy":"static"`, `"chars":1200`} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q: %s", want, out)
		}
	}
}

func TestLogger_BatchEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.BatchEvent(1, 3, 100, nil)
	l.BatchEvent(2, 3, 100, errors.New("unparseable"))

	out := buf.String()
	if !strings.Contains(out, `"ok":true`) {
		t.Errorf("successful batch should log ok=true: %s", out)
	}
	if !strings.Contains(out, "unparseable") || !strings.Contains(out, `"ok":false`) {
		t.Errorf("failed batch should log error: %s", out)
	}
}

func TestLogger_ErrorEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.ErrorEvent(errors.New("boom"), "https://example.com", "render")

	out := buf.String()
	if !strings.Contains(out, "boom") || !strings.Contains(out, `"operation":"render"`) {
		t.Errorf("Output should contain error context: %s", out)
	}
}

func TestLogger_StatsEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.StatsEvent(map[string]interface{}{"pages_fetched": 7})

	if !strings.Contains(buf.String(), "pages_fetched") {
		t.Errorf("Output should contain pages_fetched: %s", buf.String())
	}
}

func TestGlobal(t *testing.T) {
	orig := Global()
	defer SetGlobal(orig)

	l, _ := newBufferLogger(InfoLevel)
	SetGlobal(l)
	if Global() != l {
		t.Error("Global() should return the logger set by SetGlobal")
	}
}
