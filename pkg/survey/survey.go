// Package survey is the public entry point: crawl a site down to one page
// per page type, then analyze, question and suggest questions over the
// resulting corpus.
package survey

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PentesterFlow/sitesurvey/internal/analysis"
	"github.com/PentesterFlow/sitesurvey/internal/corpus"
	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/fetcher"
	"github.com/PentesterFlow/sitesurvey/internal/llm"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/metrics"
	"github.com/PentesterFlow/sitesurvey/internal/pattern"
	"github.com/PentesterFlow/sitesurvey/internal/qa"
	"github.com/PentesterFlow/sitesurvey/internal/scope"
	"github.com/PentesterFlow/sitesurvey/internal/selector"
	"github.com/PentesterFlow/sitesurvey/internal/sitemap"
)

// CrawlOptions override the crawl configuration for one call. Zero values
// keep the configured setting.
type CrawlOptions struct {
	MaxPages    int
	Concurrency int
	RenderJS    bool
	// Sitemap treats the target as a sitemap document even without an
	// .xml suffix.
	Sitemap    bool
	OnProgress func(fetcher.Progress)
}

// Survey ties the pipeline together. Every call builds its own resolver,
// fetcher and orchestrator; only the model client and the suggester are
// kept between calls.
type Survey struct {
	config      *Config
	scope       *scope.Checker
	log         *logger.Logger
	metrics     *metrics.Collector
	catalog     *qa.Catalog
	httpClient  *http.Client
	fetcherOpts []fetcher.Option
	suggestSeed int64

	mu         sync.Mutex
	client     llm.Client
	ownsClient bool
	suggester  *qa.Suggester
}

// New creates a Survey with the given options.
func New(opts ...Option) (*Survey, error) {
	s := &Survey{
		config:     DefaultConfig(),
		ownsClient: true,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	checker, err := scope.NewChecker(s.config.Crawl.Scope)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s.scope = checker

	if s.log == nil {
		level := logger.InfoLevel
		if s.config.Debug {
			level = logger.DebugLevel
		} else if !s.config.Verbose {
			level = logger.WarnLevel
		}
		s.log = logger.New(logger.Config{Level: level, Pretty: true})
	}
	s.log = s.log.WithComponent("survey")

	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	if s.catalog == nil {
		catalog, err := qa.LoadCatalog(s.config.Questions.CatalogPath)
		if err != nil {
			return nil, err
		}
		s.catalog = catalog
	}

	return s, nil
}

// Config returns a copy of the configuration in use.
func (s *Survey) Config() *Config {
	return s.config.Clone()
}

// Metrics returns the collector shared by every call.
func (s *Survey) Metrics() *metrics.Collector {
	return s.metrics
}

// Catalog returns the static question catalog.
func (s *Survey) Catalog() *qa.Catalog {
	return s.catalog
}

// Crawl reduces target to one representative page per page type and
// returns their assembled text. A target whose path ends in .xml, or any
// target when opts.Sitemap is set, is read as a single sitemap document;
// otherwise every sitemap the site declares is swept. Candidates outside
// the configured scope are dropped before selection. Discovery and fetch
// failures shrink the result and are never returned.
func (s *Survey) Crawl(ctx context.Context, target string, opts CrawlOptions) (*corpus.CrawlResult, error) {
	u, err := parseTarget(target)
	if err != nil {
		return nil, err
	}

	cfg := s.config.Crawl
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = cfg.MaxPages
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Concurrency
	}
	renderJS := opts.RenderJS || cfg.RenderJS

	smCfg := s.config.sitemapConfig()
	smCfg.Client = s.httpClient
	resolver := sitemap.New(smCfg, s.log, s.metrics)

	explicit := opts.Sitemap || strings.HasSuffix(strings.ToLower(u.Path), ".xml")
	var candidates []string
	if explicit {
		candidates = resolver.ExtractLocs(ctx, u.String())
	} else {
		candidates = resolver.Sweep(ctx, u.String())
	}
	candidates = s.scope.Filter(candidates)

	if len(candidates) == 0 && cfg.LinkFallback && ctx.Err() == nil {
		site := u.String()
		if explicit {
			site = (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
		}
		s.log.WithURL(site).Info("No sitemap URLs found, falling back to homepage links")
		candidates = s.scope.Filter(resolver.HomepageLinks(ctx, site))
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelledError(target, "crawl")
	}

	reps := selector.New(pattern.New()).Select(candidates, u.Hostname(), maxPages).URLs()
	s.log.Infof("Selected %d representative URLs from %d candidates", len(reps), len(candidates))
	if len(reps) == 0 {
		s.log.WithURL(target).Warn("No URLs to fetch")
		return &corpus.CrawlResult{URLs: []string{}}, nil
	}

	f := fetcher.New(fetcher.Options{
		Concurrency:       concurrency,
		PageCharBudget:    cfg.PageCharBudget,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Static:            s.config.staticConfig(),
		Browser:           s.config.Browser,
		SPA:               s.config.spaConfig(),
		OnProgress:        opts.OnProgress,
	}, s.log, s.metrics, s.fetcherOpts...)

	texts := f.FetchAll(ctx, reps, concurrency, renderJS)
	if ctx.Err() != nil {
		return nil, errors.NewCancelledError(target, "crawl")
	}

	result := corpus.NewAssembler(cfg.PageCharBudget, cfg.CorpusCharBudget).Assemble(reps, texts)
	if result.URLs == nil {
		result.URLs = []string{}
	}
	return &result, nil
}

func parseTarget(target string) (*url.URL, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.NewInputError("crawl", "target URL is required")
	}
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, errors.NewInputError("crawl", "invalid target URL "+target)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewInputError("crawl", "unsupported scheme "+u.Scheme)
	}
	return u, nil
}

// Client returns the model client, building it from the configuration on
// first use.
func (s *Survey) Client(ctx context.Context) (llm.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	client, err := llm.New(ctx, s.config.LLM.Config, s.log, s.metrics)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

// Analyze produces the RFP document for the crawled urls. batchSize
// overrides the configured size when positive.
func (s *Survey) Analyze(ctx context.Context, corpusText string, urls []string, batchSize int) (*analysis.Document, error) {
	if len(urls) == 0 {
		return nil, errors.NewInputError("analyze", "no crawled URLs to analyze")
	}
	client, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	o := analysis.New(client, analysis.Options{
		BatchSize:   s.config.Analysis.BatchSize,
		Temperature: s.config.LLM.Temperature,
		MaxTokens:   s.config.LLM.MaxTokens,
	}, s.log, s.metrics)
	return o.Analyze(ctx, corpusText, urls, batchSize)
}

// Ask answers question from corpusText alone.
func (s *Survey) Ask(ctx context.Context, question, corpusText string) (string, error) {
	client, err := s.Client(ctx)
	if err != nil {
		return "", err
	}
	return qa.NewService(client, s.log).Ask(ctx, question, corpusText)
}

// SuggestQuestions returns catalog questions followed by questions
// generated for corpusText. Only a missing model client is an error.
func (s *Survey) SuggestQuestions(ctx context.Context, corpusText string) ([]qa.Question, error) {
	client, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.suggester == nil {
		s.suggester = qa.NewSuggester(client, s.catalog, qa.SuggestOptions{
			StaticCount: s.config.Questions.StaticCount,
			AICount:     s.config.Questions.AICount,
			Shuffle:     s.config.Questions.Shuffle,
			Seed:        s.suggestSeed,
		}, s.log)
	}
	suggester := s.suggester
	s.mu.Unlock()

	return suggester.Suggest(ctx, corpusText), nil
}

// Close releases the model client when the Survey built it.
func (s *Survey) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.ownsClient {
		return nil
	}
	var err error
	if closer, ok := s.client.(io.Closer); ok {
		err = closer.Close()
	}
	s.client = nil
	s.suggester = nil
	return err
}
