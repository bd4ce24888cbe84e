package browser

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
)

// =============================================================================
// SPA Detector Tests
// =============================================================================

func TestSPADetector_Inspect(t *testing.T) {
	d := NewSPADetector(SPAConfig{})

	tests := []struct {
		name        string
		html        string
		wantScripts int
		wantMarker  string
	}{
		{
			name:        "react mount point",
			html:        `<html><body><div id="root"></div><script src="/main.js"></script></body></html>`,
			wantScripts: 1,
			wantMarker:  "react-root",
		},
		{
			name:        "next data script",
			html:        `<div id="__next"></div><script id="__NEXT_DATA__" type="application/json">{}</script>`,
			wantScripts: 1,
			wantMarker:  "next",
		},
		{
			name:        "nuxt inline state",
			html:        `<div></div><script>window.__NUXT__={state:{}}</script>`,
			wantScripts: 1,
			wantMarker:  "nuxt",
		},
		{
			name:        "angular version attribute",
			html:        `<app-root ng-version="17.0.0"></app-root>`,
			wantScripts: 0,
			wantMarker:  "angular",
		},
		{
			name:        "plain page",
			html:        `<html><body><p>Hello</p><script>track()</script><script>more()</script></body></html>`,
			wantScripts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := d.Inspect(tt.html)
			if sig.ScriptCount != tt.wantScripts {
				t.Errorf("ScriptCount = %d, want %d", sig.ScriptCount, tt.wantScripts)
			}
			if tt.wantMarker == "" {
				if len(sig.Markers) != 0 {
					t.Errorf("Markers = %v, want none", sig.Markers)
				}
				return
			}
			found := false
			for _, m := range sig.Markers {
				if m == tt.wantMarker {
					found = true
				}
			}
			if !found {
				t.Errorf("Markers = %v, want %q", sig.Markers, tt.wantMarker)
			}
		})
	}
}

func TestSPADetector_MarkerInProseIgnored(t *testing.T) {
	d := NewSPADetector(DefaultSPAConfig())
	sig := d.Inspect(`<p>We migrated away from window.__NUXT__ last year.</p>`)
	if len(sig.Markers) != 0 {
		t.Errorf("Markers = %v, text outside scripts should not count", sig.Markers)
	}
}

func TestSPADetector_NeedsRender(t *testing.T) {
	d := NewSPADetector(DefaultSPAConfig())
	long := strings.Repeat("content ", 50)
	manyScripts := strings.Repeat("<script src=x.js></script>", 9)
	fewScripts := strings.Repeat("<script src=x.js></script>", 8)

	tests := []struct {
		name string
		text string
		html string
		want bool
	}{
		{"short with marker", "Loading", `<div id="app"></div>`, true},
		{"short with many scripts", "Hi", manyScripts, true},
		{"short with threshold scripts", "Hi", fewScripts, false},
		{"short plain", "Hi", `<p>Hi</p>`, false},
		{"long with marker", long, `<div id="root"></div>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.NeedsRender(tt.text, tt.html); got != tt.want {
				t.Errorf("NeedsRender() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSPADetector_Defaults(t *testing.T) {
	d := NewSPADetector(SPAConfig{TextThreshold: -1})
	if d.config != DefaultSPAConfig() {
		t.Errorf("config = %+v, want defaults", d.config)
	}
}

// =============================================================================
// Renderer Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Headless || !cfg.BlockResources || !cfg.Stealth {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
}

func TestRenderer_LazyLaunch(t *testing.T) {
	r := NewRenderer(Config{})
	if r.Launched() {
		t.Error("browser should not launch before the first render")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() without launch = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestRenderer_CancelledContext(t *testing.T) {
	r := NewRenderer(DefaultConfig())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, "https://example.com/")
	if !errors.IsType(err, errors.Cancelled) {
		t.Errorf("Render() error = %v, want cancelled", err)
	}
	if r.Launched() {
		t.Error("cancelled render should not launch the browser")
	}
}

func TestRenderer_ClosedRefusesRender(t *testing.T) {
	r := NewRenderer(DefaultConfig())
	r.Close()

	_, err := r.Render(context.Background(), "https://example.com/")
	if !errors.IsType(err, errors.Browser) {
		t.Errorf("Render() after Close = %v, want browser error", err)
	}
}

func TestRenderer_BlockResources(t *testing.T) {
	tests := []struct {
		name    string
		failOn  proto.NetworkResourceType
		wantLog bool
	}{
		{"all routes registered", "", false},
		{"font route fails", proto.NetworkResourceTypeFont, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := NewRenderer(DefaultConfig()).
				WithLogger(logger.New(logger.Config{Level: logger.DebugLevel, Output: &buf}))

			var added []proto.NetworkResourceType
			r.blockResources(func(pattern string, rt proto.NetworkResourceType, _ func(*rod.Hijack)) error {
				added = append(added, rt)
				if rt == tt.failOn {
					return fmt.Errorf("fetch domain disabled")
				}
				return nil
			})

			if len(added) != len(blockedResourceTypes) {
				t.Errorf("registered %v, want every blocked type", added)
			}
			logged := strings.Contains(buf.String(), "Resource block not registered")
			if logged != tt.wantLog {
				t.Errorf("debug log written = %v, want %v (%s)", logged, tt.wantLog, buf.String())
			}
			if tt.wantLog && !strings.Contains(buf.String(), "fetch domain disabled") {
				t.Errorf("log missing cause: %s", buf.String())
			}
		})
	}
}

func TestRenderer_WithNilLogger(t *testing.T) {
	r := NewRenderer(DefaultConfig()).WithLogger(nil)
	r.blockResources(func(string, proto.NetworkResourceType, func(*rod.Hijack)) error {
		return fmt.Errorf("closed")
	})
}
