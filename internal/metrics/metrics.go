// Package metrics counts what a survey run did: sitemap documents, page
// fetches by strategy, and model calls.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters. All methods are safe on a nil *Collector,
// so components can take one optionally.
type Collector struct {
	sitemapsFetched atomic.Int64
	sitemapFailures atomic.Int64
	locsDiscovered  atomic.Int64

	pagesRequested atomic.Int64
	staticFetched  atomic.Int64
	renderedPages  atomic.Int64
	spaFallbacks   atomic.Int64
	fetchFailures  atomic.Int64
	charsExtracted atomic.Int64

	fetchTimeSum atomic.Int64 // milliseconds
	fetchTimeNum atomic.Int64

	llmCalls      atomic.Int64
	llmFailures   atomic.Int64
	llmRetries    atomic.Int64
	batchesOK     atomic.Int64
	batchesFailed atomic.Int64

	pacingRate atomic.Uint64 // float64 bits
	pacedHosts atomic.Int64

	errorMu     sync.RWMutex
	errorCounts map[string]*atomic.Int64

	startTime time.Time
}

// New creates a collector.
func New() *Collector {
	return &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		startTime:   time.Now(),
	}
}

// RecordSitemap records one sitemap document fetch.
func (c *Collector) RecordSitemap(locs int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.sitemapFailures.Add(1)
		return
	}
	c.sitemapsFetched.Add(1)
	c.locsDiscovered.Add(int64(locs))
}

// RecordPageRequested records a URL admitted for fetching.
func (c *Collector) RecordPageRequested() {
	if c == nil {
		return
	}
	c.pagesRequested.Add(1)
}

// RecordFetch records a successful fetch and its strategy.
func (c *Collector) RecordFetch(rendered bool, chars int, d time.Duration) {
	if c == nil {
		return
	}
	if rendered {
		c.renderedPages.Add(1)
	} else {
		c.staticFetched.Add(1)
	}
	c.charsExtracted.Add(int64(chars))
	c.fetchTimeSum.Add(d.Milliseconds())
	c.fetchTimeNum.Add(1)
}

// RecordSPAFallback records a static page re-fetched with the browser.
func (c *Collector) RecordSPAFallback() {
	if c == nil {
		return
	}
	c.spaFallbacks.Add(1)
}

// RecordFetchFailure records a page that ended up absent.
func (c *Collector) RecordFetchFailure(errorType string) {
	if c == nil {
		return
	}
	c.fetchFailures.Add(1)
	c.recordError(errorType)
}

// RecordLLMCall records one model request.
func (c *Collector) RecordLLMCall(err error) {
	if c == nil {
		return
	}
	c.llmCalls.Add(1)
	if err != nil {
		c.llmFailures.Add(1)
	}
}

// RecordLLMRetry records a retried model request.
func (c *Collector) RecordLLMRetry() {
	if c == nil {
		return
	}
	c.llmRetries.Add(1)
}

// RecordBatch records an analysis batch outcome.
func (c *Collector) RecordBatch(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.batchesOK.Add(1)
	} else {
		c.batchesFailed.Add(1)
	}
}

// RecordPacing records the adaptive request rate at the end of a fetch run
// and how many hosts it paced.
func (c *Collector) RecordPacing(rate float64, hosts int) {
	if c == nil {
		return
	}
	c.pacingRate.Store(math.Float64bits(rate))
	c.pacedHosts.Store(int64(hosts))
}

func (c *Collector) recordError(errorType string) {
	c.errorMu.RLock()
	counter := c.errorCounts[errorType]
	c.errorMu.RUnlock()

	if counter == nil {
		c.errorMu.Lock()
		if counter = c.errorCounts[errorType]; counter == nil {
			counter = &atomic.Int64{}
			c.errorCounts[errorType] = counter
		}
		c.errorMu.Unlock()
	}
	counter.Add(1)
}

// Snapshot returns a point-in-time copy of every counter.
func (c *Collector) Snapshot() *Snapshot {
	if c == nil {
		return &Snapshot{ErrorCounts: map[string]int64{}}
	}
	s := &Snapshot{
		Timestamp:       time.Now(),
		Uptime:          time.Since(c.startTime),
		SitemapsFetched: c.sitemapsFetched.Load(),
		SitemapFailures: c.sitemapFailures.Load(),
		LocsDiscovered:  c.locsDiscovered.Load(),
		PagesRequested:  c.pagesRequested.Load(),
		StaticFetched:   c.staticFetched.Load(),
		RenderedPages:   c.renderedPages.Load(),
		SPAFallbacks:    c.spaFallbacks.Load(),
		FetchFailures:   c.fetchFailures.Load(),
		CharsExtracted:  c.charsExtracted.Load(),
		LLMCalls:        c.llmCalls.Load(),
		LLMFailures:     c.llmFailures.Load(),
		LLMRetries:      c.llmRetries.Load(),
		BatchesOK:       c.batchesOK.Load(),
		BatchesFailed:   c.batchesFailed.Load(),
		PacingRate:      math.Float64frombits(c.pacingRate.Load()),
		PacedHosts:      c.pacedHosts.Load(),
		ErrorCounts:     make(map[string]int64),
	}
	if n := c.fetchTimeNum.Load(); n > 0 {
		s.AverageFetchTime = time.Duration(c.fetchTimeSum.Load()/n) * time.Millisecond
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()
	return s
}

// Snapshot is a point-in-time view of a Collector.
type Snapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	Uptime           time.Duration    `json:"uptime"`
	SitemapsFetched  int64            `json:"sitemaps_fetched"`
	SitemapFailures  int64            `json:"sitemap_failures"`
	LocsDiscovered   int64            `json:"locs_discovered"`
	PagesRequested   int64            `json:"pages_requested"`
	StaticFetched    int64            `json:"static_fetched"`
	RenderedPages    int64            `json:"rendered_pages"`
	SPAFallbacks     int64            `json:"spa_fallbacks"`
	FetchFailures    int64            `json:"fetch_failures"`
	CharsExtracted   int64            `json:"chars_extracted"`
	AverageFetchTime time.Duration    `json:"average_fetch_time"`
	LLMCalls         int64            `json:"llm_calls"`
	LLMFailures      int64            `json:"llm_failures"`
	LLMRetries       int64            `json:"llm_retries"`
	BatchesOK        int64            `json:"batches_ok"`
	BatchesFailed    int64            `json:"batches_failed"`
	PacingRate       float64          `json:"pacing_rate"`
	PacedHosts       int64            `json:"paced_hosts"`
	ErrorCounts      map[string]int64 `json:"error_counts"`
}

// FetchSuccessRate returns fetched pages over requested pages.
func (s *Snapshot) FetchSuccessRate() float64 {
	if s.PagesRequested == 0 {
		return 0
	}
	return float64(s.StaticFetched+s.RenderedPages) / float64(s.PagesRequested)
}

// Summary returns the fields printed by the CLI.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":             s.Uptime.Round(time.Millisecond).String(),
		"sitemaps_fetched":   s.SitemapsFetched,
		"locs_discovered":    s.LocsDiscovered,
		"pages_requested":    s.PagesRequested,
		"static_fetched":     s.StaticFetched,
		"rendered_pages":     s.RenderedPages,
		"spa_fallbacks":      s.SPAFallbacks,
		"fetch_failures":     s.FetchFailures,
		"fetch_success_rate": s.FetchSuccessRate(),
		"avg_fetch_time_ms":  s.AverageFetchTime.Milliseconds(),
		"llm_calls":          s.LLMCalls,
		"batches_ok":         s.BatchesOK,
		"batches_failed":     s.BatchesFailed,
		"pacing_rate_rps":    s.PacingRate,
		"paced_hosts":        s.PacedHosts,
	}
}
