package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/fetcher"
)

func TestDisplay_Observe(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf)
	d.Start("https://ex.com")

	d.Observe(fetcher.Progress{URL: "https://ex.com/a", Done: 1, Total: 4, OK: true, Strategy: fetcher.StrategyStatic})
	d.Observe(fetcher.Progress{URL: "https://ex.com/b", Done: 2, Total: 4, OK: true, Strategy: fetcher.StrategyFallback})
	d.Observe(fetcher.Progress{URL: "https://ex.com/c", Done: 3, Total: 4, OK: false})

	done, failed, rendered := d.Counts()
	if done != 3 || failed != 1 || rendered != 1 {
		t.Errorf("Counts() = %d, %d, %d", done, failed, rendered)
	}
	if !strings.Contains(buf.String(), " 75% | Pages: 3/4 | Rendered: 1 | Failed: 1") {
		t.Errorf("line = %q", buf.String())
	}

	d.Stop()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Stop() should end the line")
	}
}

func TestDisplay_NotStartedIsSilent(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf)
	d.Observe(fetcher.Progress{Done: 1, Total: 1, OK: true})
	d.Stop()
	if buf.Len() != 0 {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestDisplay_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf)
	d.Start("https://ex.com")
	d.Observe(fetcher.Progress{Done: 1, Total: 2, OK: true, Strategy: fetcher.StrategyRendered})
	d.Observe(fetcher.Progress{Done: 2, Total: 2, OK: false})
	d.Stop()
	d.PrintSummary(1)

	out := buf.String()
	for _, want := range []string{"Pages fetched:  1/2", "Rendered:       1", "In corpus:      1"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{4 * time.Second, "4s"},
		{90 * time.Second, "1m30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h02m03s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

func TestTruncateURL(t *testing.T) {
	if got := truncateURL("https://example.com/very/long/path", 20); got != "https://example.c..." {
		t.Errorf("truncateURL() = %s", got)
	}
}
