package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/browser"
	"github.com/PentesterFlow/sitesurvey/internal/errors"
	fasthttp "github.com/PentesterFlow/sitesurvey/internal/http"
	"github.com/PentesterFlow/sitesurvey/internal/metrics"
)

// fakeStatic serves canned results keyed by URL.
type fakeStatic struct {
	mu     sync.Mutex
	pages  map[string]*fasthttp.FastResult
	errs   map[string]error
	calls  map[string]int
	delay  time.Duration
	active atomic.Int64
	peak   atomic.Int64
	closed atomic.Int64
}

func newFakeStatic() *fakeStatic {
	return &fakeStatic{
		pages: make(map[string]*fasthttp.FastResult),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (s *fakeStatic) Get(ctx context.Context, url string) (*fasthttp.FastResult, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls[url]++
	page, err := s.pages[url], s.errs[url]
	s.mu.Unlock()

	if err != nil {
		return &fasthttp.FastResult{URL: url}, err
	}
	if page == nil {
		return &fasthttp.FastResult{URL: url, StatusCode: 404}, errors.NewNotFoundError(url)
	}
	return page, nil
}

func (s *fakeStatic) Close() { s.closed.Add(1) }

// fakeRenderer returns canned text or an error.
type fakeRenderer struct {
	mu     sync.Mutex
	texts  map[string]string
	err    error
	calls  []string
	closed atomic.Int64
}

func (r *fakeRenderer) Render(ctx context.Context, url string) (*browser.PageResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &browser.PageResult{URL: url, FinalURL: url, Text: r.texts[url]}, nil
}

func (r *fakeRenderer) Close() error {
	r.closed.Add(1)
	return nil
}

func staticPage(url, text, html string) *fasthttp.FastResult {
	return &fasthttp.FastResult{URL: url, FinalURL: url, StatusCode: 200, Text: text, HTML: html}
}

func newTestFetcher(opts Options, s *fakeStatic, r *fakeRenderer, m *metrics.Collector) *Fetcher {
	return New(opts, nil, m,
		WithStaticClient(func() StaticClient { return s }),
		WithRenderer(func() Renderer { return r }),
	)
}

var longText = strings.Repeat("Plenty of server rendered copy. ", 20)

// =============================================================================
// Strategy Tests
// =============================================================================

func TestFetchAll_StaticOnly(t *testing.T) {
	s := newFakeStatic()
	s.pages["https://a.test/"] = staticPage("https://a.test/", longText, "<p>...</p>")
	s.pages["https://a.test/about"] = staticPage("https://a.test/about", "Short about page", "<p>About</p>")
	r := &fakeRenderer{}

	got := newTestFetcher(DefaultOptions(), s, r, nil).
		FetchAll(context.Background(), []string{"https://a.test/", "https://a.test/about"}, 0, false)

	if len(got) != 2 {
		t.Fatalf("FetchAll() returned %d pages, want 2", len(got))
	}
	if got["https://a.test/about"] != "Short about page" {
		t.Errorf("about text = %q", got["https://a.test/about"])
	}
	if len(r.calls) != 0 {
		t.Errorf("renderer called for %v, want no renders", r.calls)
	}
}

func TestFetchAll_SPAFallback(t *testing.T) {
	s := newFakeStatic()
	spaHTML := `<div id="root"></div><script src="/bundle.js"></script>`
	s.pages["https://a.test/app"] = staticPage("https://a.test/app", "Loading", spaHTML)
	r := &fakeRenderer{texts: map[string]string{"https://a.test/app": "Rendered dashboard content"}}
	m := metrics.New()

	got := newTestFetcher(DefaultOptions(), s, r, m).
		FetchAll(context.Background(), []string{"https://a.test/app"}, 2, false)

	if got["https://a.test/app"] != "Rendered dashboard content" {
		t.Errorf("text = %q, want rendered text", got["https://a.test/app"])
	}
	if snap := m.Snapshot(); snap.SPAFallbacks != 1 || snap.RenderedPages != 1 {
		t.Errorf("SPAFallbacks = %d, RenderedPages = %d", snap.SPAFallbacks, snap.RenderedPages)
	}
}

func TestFetchAll_SPAFallbackFailureKeepsStatic(t *testing.T) {
	s := newFakeStatic()
	s.pages["https://a.test/app"] = staticPage("https://a.test/app", "Loading", `<div id="app"></div>`)
	r := &fakeRenderer{err: errors.NewTimeoutError("https://a.test/app", "navigate", context.DeadlineExceeded)}

	got := newTestFetcher(DefaultOptions(), s, r, nil).
		FetchAll(context.Background(), []string{"https://a.test/app"}, 1, false)

	if got["https://a.test/app"] != "Loading" {
		t.Errorf("text = %q, want the short static text", got["https://a.test/app"])
	}
}

func TestFetchAll_RenderJS(t *testing.T) {
	s := newFakeStatic()
	r := &fakeRenderer{texts: map[string]string{"https://a.test/": "Rendered home"}}

	got := newTestFetcher(DefaultOptions(), s, r, nil).
		FetchAll(context.Background(), []string{"https://a.test/"}, 1, true)

	if got["https://a.test/"] != "Rendered home" {
		t.Errorf("text = %q", got["https://a.test/"])
	}
	if len(s.calls) != 0 {
		t.Error("static path should not be used when rendering is forced")
	}
}

// =============================================================================
// Failure Isolation Tests
// =============================================================================

func TestFetchAll_FailuresAreAbsent(t *testing.T) {
	s := newFakeStatic()
	s.pages["https://a.test/ok"] = staticPage("https://a.test/ok", longText, "")
	s.errs["https://a.test/slow"] = errors.NewTimeoutError("https://a.test/slow", "request", context.DeadlineExceeded)
	s.pages["https://a.test/empty"] = staticPage("https://a.test/empty", "", "<p></p>")
	m := metrics.New()

	got := newTestFetcher(DefaultOptions(), s, &fakeRenderer{}, m).FetchAll(context.Background(),
		[]string{"https://a.test/ok", "https://a.test/missing", "https://a.test/slow", "https://a.test/empty"}, 4, false)

	if len(got) != 1 {
		t.Errorf("FetchAll() = %v, want only the healthy page", got)
	}
	if _, ok := got["https://a.test/ok"]; !ok {
		t.Error("healthy page missing")
	}
	if snap := m.Snapshot(); snap.FetchFailures != 2 {
		t.Errorf("FetchFailures = %d, want 2", snap.FetchFailures)
	}
}

func TestFetchAll_RenderFailureIsAbsent(t *testing.T) {
	r := &fakeRenderer{err: errors.NewBrowserError("https://a.test/", "launch", context.Canceled)}

	got := newTestFetcher(DefaultOptions(), newFakeStatic(), r, nil).
		FetchAll(context.Background(), []string{"https://a.test/"}, 1, true)

	if len(got) != 0 {
		t.Errorf("FetchAll() = %v, want empty", got)
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestFetchAll_DedupAndBound(t *testing.T) {
	s := newFakeStatic()
	s.delay = 20 * time.Millisecond
	var urls []string
	for _, p := range []string{"a", "b", "c", "d", "e", "f"} {
		u := "https://a.test/" + p
		s.pages[u] = staticPage(u, longText, "")
		urls = append(urls, u, u)
	}
	r := &fakeRenderer{}

	var progress []Progress
	var pmu sync.Mutex
	opts := DefaultOptions()
	opts.OnProgress = func(p Progress) {
		pmu.Lock()
		progress = append(progress, p)
		pmu.Unlock()
	}

	got := newTestFetcher(opts, s, r, nil).FetchAll(context.Background(), urls, 2, false)

	if len(got) != 6 {
		t.Errorf("FetchAll() returned %d pages, want 6", len(got))
	}
	for u, n := range s.calls {
		if n != 1 {
			t.Errorf("%s fetched %d times", u, n)
		}
	}
	if peak := s.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if len(progress) != 6 || progress[0].Total != 6 {
		t.Errorf("progress = %+v", progress)
	}
	if s.closed.Load() != 1 || r.closed.Load() != 1 {
		t.Errorf("static closed %d times, renderer closed %d times, want once each", s.closed.Load(), r.closed.Load())
	}
}

func TestFetchAll_Truncates(t *testing.T) {
	s := newFakeStatic()
	s.pages["https://a.test/"] = staticPage("https://a.test/", strings.Repeat("x", 5000), "")

	opts := DefaultOptions()
	opts.PageCharBudget = 100
	got := newTestFetcher(opts, s, &fakeRenderer{}, nil).
		FetchAll(context.Background(), []string{"https://a.test/"}, 1, false)

	if len(got["https://a.test/"]) != 100 {
		t.Errorf("text length = %d, want 100", len(got["https://a.test/"]))
	}
}

func TestFetchAll_RecordsPacing(t *testing.T) {
	tests := []struct {
		name      string
		rps       float64
		urls      []string
		wantRate  float64
		wantHosts int64
	}{
		{"unlimited", 0, []string{"https://a.test/"}, 0, 0},
		{"one host", 500, []string{"https://a.test/", "https://a.test/x"}, 500, 1},
		{"two hosts", 500, []string{"https://a.test/", "https://b.test/"}, 500, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeStatic()
			for _, u := range tt.urls {
				s.pages[u] = staticPage(u, longText, "")
			}
			opts := DefaultOptions()
			opts.RequestsPerSecond = tt.rps
			m := metrics.New()

			newTestFetcher(opts, s, &fakeRenderer{}, m).FetchAll(context.Background(), tt.urls, 2, false)

			snap := m.Snapshot()
			if snap.PacingRate != tt.wantRate || snap.PacedHosts != tt.wantHosts {
				t.Errorf("pacing = %v req/s over %d hosts, want %v over %d", snap.PacingRate, snap.PacedHosts, tt.wantRate, tt.wantHosts)
			}
		})
	}
}

func TestFetchAll_Empty(t *testing.T) {
	got := New(DefaultOptions(), nil, nil).FetchAll(context.Background(), nil, 4, false)
	if got == nil || len(got) != 0 {
		t.Errorf("FetchAll(nil) = %v, want empty map", got)
	}
}

func TestFetchAll_RealStaticClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><h1>Catalog</h1><p>" + longText + "</p></body></html>"))
	}))
	defer server.Close()

	r := &fakeRenderer{}
	f := New(DefaultOptions(), nil, nil, WithRenderer(func() Renderer { return r }))
	got := f.FetchAll(context.Background(), []string{server.URL + "/", server.URL + "/gone"}, 2, false)

	if len(got) != 1 || !strings.HasPrefix(got[server.URL+"/"], "Catalog") {
		t.Errorf("FetchAll() = %v", got)
	}
}
