package survey

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/PentesterFlow/sitesurvey/internal/analysis"
	"github.com/PentesterFlow/sitesurvey/internal/browser"
	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/fetcher"
	"github.com/PentesterFlow/sitesurvey/internal/llm"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRenderer) Render(ctx context.Context, url string) (*browser.PageResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	r.mu.Unlock()
	return &browser.PageResult{URL: url, Text: "rendered " + url}, nil
}

func (r *fakeRenderer) Close() error { return nil }

type fakeClient struct {
	mu     sync.Mutex
	calls  int
	closed bool
	reply  func(req llm.Request) (*llm.Response, error)
}

func (c *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.reply(req)
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

// newSite serves a sitemap listing /blog/1, /blog/2 and /about, plus the
// pages themselves. withSitemap false leaves only the homepage.
func newSite(t *testing.T, withSitemap bool) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		if !withSitemap {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/blog/1</loc></url>
<url><loc>%[1]s/blog/2</loc></url>
<url><loc>%[1]s/about</loc></url>
<url><loc>https://elsewhere.example/about</loc></url>
</urlset>`, srv.URL)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body><h1>Home</h1><a href="/contact">Contact</a><a href="/news/2024-01-05">News</a></body></html>`)
		case "/blog/1", "/blog/2", "/about", "/contact", "/news/2024-01-05":
			fmt.Fprintf(w, "<html><body><h1>Page %s</h1><p>Body text.</p></body></html>", r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestSurvey(t *testing.T, opts ...Option) (*Survey, *fakeRenderer) {
	t.Helper()
	r := &fakeRenderer{}
	base := []Option{
		WithLogger(logger.Nop()),
		WithFetcherOptions(fetcher.WithRenderer(func() fetcher.Renderer { return r })),
	}
	s, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, r
}

// =============================================================================
// Config Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Crawl.MaxPages != 10 || cfg.Crawl.Concurrency != 8 {
		t.Errorf("crawl defaults = %+v", cfg.Crawl)
	}
	if cfg.Crawl.PageCharBudget != 4000 || cfg.Crawl.CorpusCharBudget != 12000 {
		t.Errorf("budgets = %d, %d", cfg.Crawl.PageCharBudget, cfg.Crawl.CorpusCharBudget)
	}
	if cfg.Crawl.SPATextThreshold != 300 || cfg.Crawl.SPAScriptThreshold != 8 {
		t.Errorf("SPA thresholds = %d, %d", cfg.Crawl.SPATextThreshold, cfg.Crawl.SPAScriptThreshold)
	}
	if !cfg.Crawl.LinkFallback || cfg.Crawl.RenderJS {
		t.Errorf("flags = %+v", cfg.Crawl)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"zero concurrency", func(c *Config) { c.Crawl.Concurrency = 0 }, "crawl.concurrency"},
		{"negative max pages", func(c *Config) { c.Crawl.MaxPages = -1 }, "crawl.max_pages"},
		{"corpus below page budget", func(c *Config) { c.Crawl.CorpusCharBudget = 10 }, "crawl.corpus_char_budget"},
		{"negative rate", func(c *Config) { c.Crawl.RequestsPerSecond = -1 }, "crawl.requests_per_second"},
		{"negative batch", func(c *Config) { c.Analysis.BatchSize = -5 }, "analysis.batch_size"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if !errors.IsType(err, errors.Config) {
				t.Fatalf("Validate() = %v, want config error", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.yaml")
	data := `
crawl:
  max_pages: 25
  timeout: 5s
llm:
  provider: anthropic
  model: claude-test
  temperature: 0.4
analysis:
  batch_size: 40
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Crawl.MaxPages != 25 || cfg.Crawl.Timeout.Seconds() != 5 {
		t.Errorf("crawl = %+v", cfg.Crawl)
	}
	if cfg.Crawl.Concurrency != 8 {
		t.Errorf("omitted field lost its default: %d", cfg.Crawl.Concurrency)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude-test" || cfg.LLM.Temperature != 0.4 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Analysis.BatchSize != 40 {
		t.Errorf("batch size = %d", cfg.Analysis.BatchSize)
	}
}

func TestConfig_SaveAndLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.json")
	cfg := DefaultConfig()
	cfg.Crawl.MaxPages = 3
	cfg.Store.Path = "/tmp/reports.db"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if !json.Valid(data) {
		t.Fatalf("saved file is not JSON:\n%s", data)
	}

	back, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if back.Crawl.MaxPages != 3 || back.Store.Path != "/tmp/reports.db" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser.Headers = map[string]string{"X-A": "1"}
	clone := cfg.Clone()
	clone.Browser.Headers["X-A"] = "2"
	clone.Crawl.MaxPages = 99
	if cfg.Browser.Headers["X-A"] != "1" || cfg.Crawl.MaxPages != 10 {
		t.Error("Clone() shares state with the original")
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestNew_Options(t *testing.T) {
	s, _ := newTestSurvey(t, WithMaxPages(0), WithConcurrency(3), WithRenderJS(true), WithBatchSize(20))
	cfg := s.Config()
	if cfg.Crawl.MaxPages != 1 || cfg.Crawl.Concurrency != 3 || !cfg.Crawl.RenderJS || cfg.Analysis.BatchSize != 20 {
		t.Errorf("config = %+v", cfg.Crawl)
	}
	if s.Metrics() == nil || s.Catalog() == nil {
		t.Error("metrics and catalog should default")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Crawl.Concurrency = 0
	if _, err := New(WithConfig(cfg)); !errors.IsType(err, errors.Config) {
		t.Errorf("New() error = %v, want config error", err)
	}
}

func TestNew_BadCatalogPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Questions.CatalogPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := New(WithConfig(cfg), WithLogger(logger.Nop())); !errors.IsType(err, errors.Config) {
		t.Errorf("New() error = %v, want config error", err)
	}
}

// =============================================================================
// Crawl Tests
// =============================================================================

func TestCrawl_SitemapSweep(t *testing.T) {
	srv := newSite(t, true)
	s, r := newTestSurvey(t)

	res, err := s.Crawl(context.Background(), srv.URL, CrawlOptions{})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	want := []string{srv.URL + "/blog/1", srv.URL + "/about"}
	if strings.Join(res.URLs, ",") != strings.Join(want, ",") {
		t.Errorf("URLs = %v, want %v", res.URLs, want)
	}
	for _, u := range want {
		if !strings.Contains(res.Corpus, "=== PAGE: "+u+" ===") {
			t.Errorf("corpus missing section for %s", u)
		}
	}
	if strings.Contains(res.Corpus, "/blog/2") {
		t.Error("second blog post shares a page type and should not be fetched")
	}
	if len(r.calls) != 0 {
		t.Errorf("static pages should not render, got %v", r.calls)
	}
}

func TestCrawl_ExplicitSitemapAndMaxPages(t *testing.T) {
	srv := newSite(t, true)
	s, _ := newTestSurvey(t)

	res, err := s.Crawl(context.Background(), srv.URL+"/sitemap.xml", CrawlOptions{MaxPages: 1})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(res.URLs) != 1 || res.URLs[0] != srv.URL+"/blog/1" {
		t.Errorf("URLs = %v", res.URLs)
	}
}

func TestCrawl_RenderJS(t *testing.T) {
	srv := newSite(t, true)
	s, r := newTestSurvey(t)

	res, err := s.Crawl(context.Background(), srv.URL, CrawlOptions{RenderJS: true})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(r.calls) != 2 {
		t.Errorf("render calls = %v", r.calls)
	}
	if !strings.Contains(res.Corpus, "rendered "+srv.URL+"/about") {
		t.Errorf("corpus = %q", res.Corpus)
	}
}

func TestCrawl_HomepageFallback(t *testing.T) {
	srv := newSite(t, false)
	s, _ := newTestSurvey(t)

	var mu sync.Mutex
	var seen []string
	res, err := s.Crawl(context.Background(), srv.URL, CrawlOptions{
		OnProgress: func(p fetcher.Progress) {
			mu.Lock()
			seen = append(seen, p.URL)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(res.URLs) != 3 || res.URLs[0] != srv.URL {
		t.Errorf("URLs = %v", res.URLs)
	}
	if len(seen) != 3 {
		t.Errorf("progress reported %d pages", len(seen))
	}
}

func TestCrawl_NoFallbackYieldsEmpty(t *testing.T) {
	srv := newSite(t, false)
	cfg := DefaultConfig()
	cfg.Crawl.LinkFallback = false
	s, _ := newTestSurvey(t, WithConfig(cfg))

	res, err := s.Crawl(context.Background(), srv.URL, CrawlOptions{})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if res.Corpus != "" || res.URLs == nil || len(res.URLs) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestCrawl_ScopeExclude(t *testing.T) {
	srv := newSite(t, true)
	cfg := DefaultConfig()
	cfg.Crawl.Scope.ExcludePatterns = []string{`/about$`}
	s, _ := newTestSurvey(t, WithConfig(cfg))

	res, err := s.Crawl(context.Background(), srv.URL, CrawlOptions{})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(res.URLs) != 1 || res.URLs[0] != srv.URL+"/blog/1" {
		t.Errorf("URLs = %v", res.URLs)
	}
}

func TestNew_BadScopePattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Crawl.Scope.IncludePatterns = []string{"[bad"}
	if _, err := New(WithConfig(cfg), WithLogger(logger.Nop())); !errors.IsType(err, errors.Config) {
		t.Errorf("New() error = %v, want config error", err)
	}
}

func TestCrawl_InvalidTarget(t *testing.T) {
	s, _ := newTestSurvey(t)
	for _, target := range []string{"", "ftp://ex.com", "https://"} {
		if _, err := s.Crawl(context.Background(), target, CrawlOptions{}); !errors.IsType(err, errors.Input) {
			t.Errorf("Crawl(%q) error = %v, want input error", target, err)
		}
	}
}

func TestCrawl_Cancelled(t *testing.T) {
	srv := newSite(t, true)
	s, _ := newTestSurvey(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Crawl(ctx, srv.URL, CrawlOptions{}); !errors.IsType(err, errors.Cancelled) {
		t.Errorf("Crawl() error = %v, want cancelled", err)
	}
}

func TestParseTarget_AddsScheme(t *testing.T) {
	u, err := parseTarget("example.com/shop")
	if err != nil || u.String() != "https://example.com/shop" {
		t.Errorf("parseTarget() = %v, %v", u, err)
	}
}

// =============================================================================
// Model-backed Tests
// =============================================================================

func TestAnalyze(t *testing.T) {
	client := &fakeClient{reply: func(req llm.Request) (*llm.Response, error) {
		doc := analysis.Document{
			Pages:     []analysis.Page{{URL: "https://ex.com/", PageType: "Home", Components: []string{"Hero"}}},
			PageTypes: []analysis.PageType{{Name: "Home", Count: 1}},
		}
		data, _ := json.Marshal(doc)
		return &llm.Response{ToolCalls: []llm.ToolCall{{Name: analysis.ToolName, Arguments: string(data)}}}, nil
	}}
	s, _ := newTestSurvey(t, WithLLMClient(client))

	doc, err := s.Analyze(context.Background(), "=== PAGE: https://ex.com/ ===\nWelcome", []string{"https://ex.com/"}, 0)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(doc.Pages) != 1 || doc.PageTypes[0].Components != "Hero" {
		t.Errorf("document = %+v", doc)
	}
}

func TestAnalyze_NoURLs(t *testing.T) {
	client := &fakeClient{}
	s, _ := newTestSurvey(t, WithLLMClient(client))
	if _, err := s.Analyze(context.Background(), "corpus", nil, 0); !errors.IsType(err, errors.Input) {
		t.Errorf("Analyze() error = %v, want input error", err)
	}
	if client.calls != 0 {
		t.Errorf("model called %d times", client.calls)
	}
}

func TestClient_MissingCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = ""
	s, _ := newTestSurvey(t, WithConfig(cfg))

	if _, err := s.Ask(context.Background(), "What CMS?", "corpus"); !errors.IsType(err, errors.Config) {
		t.Errorf("Ask() error = %v, want config error", err)
	}
}

func TestAsk(t *testing.T) {
	client := &fakeClient{reply: func(req llm.Request) (*llm.Response, error) {
		if !strings.Contains(req.System, "Acme") {
			t.Errorf("system prompt lacks corpus: %q", req.System)
		}
		return &llm.Response{Content: "It sells anvils."}, nil
	}}
	s, _ := newTestSurvey(t, WithLLMClient(client))

	answer, err := s.Ask(context.Background(), "What does it sell?", "Acme anvils")
	if err != nil || answer != "It sells anvils." {
		t.Errorf("Ask() = %q, %v", answer, err)
	}
}

func TestSuggestQuestions(t *testing.T) {
	client := &fakeClient{reply: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: `[{"id":"a","ui_label":"A?","ai_prompt":"a"},{"id":"b","ui_label":"B?","ai_prompt":"b"}]`}, nil
	}}
	s, _ := newTestSurvey(t, WithLLMClient(client), WithSuggestSeed(7))

	qs, err := s.SuggestQuestions(context.Background(), "corpus")
	if err != nil {
		t.Fatalf("SuggestQuestions() error = %v", err)
	}
	if len(qs) != 4 || qs[2].ID != "a" || qs[3].ID != "b" {
		t.Errorf("questions = %+v", qs)
	}
}

func TestClose_ExternalClientStaysOpen(t *testing.T) {
	client := &fakeClient{}
	s, _ := newTestSurvey(t, WithLLMClient(client))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.closed {
		t.Error("caller-owned client was closed")
	}
}
