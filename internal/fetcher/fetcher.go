// Package fetcher retrieves the visible text of a set of pages concurrently,
// choosing between a static GET and a headless-browser render per page.
package fetcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/sitesurvey/internal/browser"
	"github.com/PentesterFlow/sitesurvey/internal/errors"
	fasthttp "github.com/PentesterFlow/sitesurvey/internal/http"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/metrics"
	"github.com/PentesterFlow/sitesurvey/internal/parser"
	"github.com/PentesterFlow/sitesurvey/internal/ratelimit"
	"github.com/PentesterFlow/sitesurvey/internal/state"
)

// Strategy names the path that produced a page's text.
type Strategy string

const (
	StrategyStatic   Strategy = "static"
	StrategyRendered Strategy = "rendered"
	StrategyFallback Strategy = "spa-fallback"
)

// StaticClient is the plain-GET path.
type StaticClient interface {
	Get(ctx context.Context, url string) (*fasthttp.FastResult, error)
	Close()
}

// Renderer is the browser path. Implementations must tolerate Close being
// called without any Render.
type Renderer interface {
	Render(ctx context.Context, url string) (*browser.PageResult, error)
	Close() error
}

// Progress is reported after every page finishes.
type Progress struct {
	URL      string
	Done     int
	Total    int
	OK       bool
	Strategy Strategy
}

// Options configures a Fetcher.
type Options struct {
	Concurrency       int
	PageCharBudget    int
	RequestsPerSecond float64
	Static            fasthttp.FastClientConfig
	Browser           browser.Config
	SPA               browser.SPAConfig
	OnProgress        func(Progress)
}

// DefaultOptions returns fetcher defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:    8,
		PageCharBudget: 4000,
		Static:         fasthttp.DefaultFastClientConfig(),
		Browser:        browser.DefaultConfig(),
		SPA:            browser.DefaultSPAConfig(),
	}
}

// Fetcher runs FetchAll calls. It holds no state between calls: each call
// builds its own visited set, static client and browser.
type Fetcher struct {
	opts        Options
	log         *logger.Logger
	metrics     *metrics.Collector
	detector    *browser.SPADetector
	newStatic   func() StaticClient
	newRenderer func() Renderer
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithStaticClient replaces the static client factory.
func WithStaticClient(fn func() StaticClient) Option {
	return func(f *Fetcher) { f.newStatic = fn }
}

// WithRenderer replaces the renderer factory.
func WithRenderer(fn func() Renderer) Option {
	return func(f *Fetcher) { f.newRenderer = fn }
}

// New creates a Fetcher. log and m may be nil.
func New(opts Options, log *logger.Logger, m *metrics.Collector, options ...Option) *Fetcher {
	def := DefaultOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.PageCharBudget <= 0 {
		opts.PageCharBudget = def.PageCharBudget
	}

	f := &Fetcher{
		opts:     opts,
		log:      logger.OrNop(log).WithComponent("fetcher"),
		metrics:  m,
		detector: browser.NewSPADetector(opts.SPA),
	}
	f.newStatic = func() StaticClient { return fasthttp.NewFastClient(f.opts.Static) }
	f.newRenderer = func() Renderer { return browser.NewRenderer(f.opts.Browser).WithLogger(f.log) }
	for _, o := range options {
		o(f)
	}
	return f
}

// FetchAll fetches every URL at most once with at most concurrency fetches
// in flight, and returns the text of each page that produced any. Pages
// that fail are logged and left out; a failure never stops the others.
// concurrency <= 0 uses the configured default.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, concurrency int, renderJS bool) map[string]string {
	if concurrency <= 0 {
		concurrency = f.opts.Concurrency
	}

	results := make(map[string]string, len(urls))
	if len(urls) == 0 {
		return results
	}

	visited := state.NewVisited(len(urls))
	static := f.newStatic()
	renderer := f.newRenderer()
	defer func() {
		static.Close()
		if err := renderer.Close(); err != nil {
			f.log.ErrorEvent(errors.NewBrowserError("", "close", err), "", "browser_close")
		}
	}()

	limiter := ratelimit.NewAdaptiveLimiter(f.opts.RequestsPerSecond/10, f.opts.RequestsPerSecond, concurrency, 20)

	var (
		mu    sync.Mutex
		done  atomic.Int64
		total = countUnique(urls)
	)

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, u := range urls {
		if !visited.Admit(u) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		u := u
		g.Go(func() error {
			text, strategy, ok := f.fetchOne(ctx, static, renderer, limiter, u, renderJS)
			if ok {
				mu.Lock()
				results[u] = text
				mu.Unlock()
			}
			if f.opts.OnProgress != nil {
				f.opts.OnProgress(Progress{
					URL:      u,
					Done:     int(done.Add(1)),
					Total:    total,
					OK:       ok,
					Strategy: strategy,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	if limiter != nil {
		st := limiter.Stats()
		f.metrics.RecordPacing(limiter.CurrentRate(), st.HostCount)
		f.log.Debugf("Pacing ended at %.2f req/s across %d hosts (burst %d)", limiter.CurrentRate(), st.HostCount, st.Burst)
	}
	f.log.Infof("Fetched %d of %d pages", len(results), total)
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, static StaticClient, renderer Renderer, limiter *ratelimit.AdaptiveLimiter, u string, renderJS bool) (string, Strategy, bool) {
	f.metrics.RecordPageRequested()

	if err := limiter.WaitURL(ctx, u); err != nil {
		f.fail(errors.NewCancelledError(u, "rate_limit_wait"), u, "fetch")
		return "", StrategyStatic, false
	}

	if renderJS {
		text, ok := f.render(ctx, renderer, u, StrategyRendered)
		return text, StrategyRendered, ok
	}

	res, err := static.Get(ctx, u)
	if err != nil {
		if errors.IsType(err, errors.RateLimit) || errors.IsType(err, errors.ServerError) {
			limiter.RecordThrottle()
		}
		f.fail(err, u, "static_fetch")
		return "", StrategyStatic, false
	}
	limiter.RecordSuccess()

	if f.detector.NeedsRender(res.Text, res.HTML) {
		f.metrics.RecordSPAFallback()
		f.log.WithURL(u).Debugf("Static text is %d chars with SPA signals, rendering", len(res.Text))
		if text, ok := f.render(ctx, renderer, u, StrategyFallback); ok {
			return text, StrategyFallback, true
		}
		// A failed render keeps whatever the static fetch produced.
	}

	text := parser.Truncate(res.Text, f.opts.PageCharBudget)
	if text == "" {
		return "", StrategyStatic, false
	}
	f.metrics.RecordFetch(false, len(text), res.Duration)
	f.log.FetchEvent(u, string(StrategyStatic), len(text), res.Duration)
	return text, StrategyStatic, true
}

func (f *Fetcher) render(ctx context.Context, renderer Renderer, u string, strategy Strategy) (string, bool) {
	start := time.Now()
	page, err := renderer.Render(ctx, u)
	if err != nil {
		f.fail(err, u, "render")
		return "", false
	}

	text := parser.Truncate(page.Text, f.opts.PageCharBudget)
	if text == "" {
		return "", false
	}
	d := time.Since(start)
	f.metrics.RecordFetch(true, len(text), d)
	f.log.FetchEvent(u, string(strategy), len(text), d)
	return text, true
}

func (f *Fetcher) fail(err error, u, op string) {
	f.metrics.RecordFetchFailure(errors.GetErrorType(err).String())
	f.log.ErrorEvent(err, u, op)
}

func countUnique(urls []string) int {
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		seen[u] = struct{}{}
	}
	return len(seen)
}
