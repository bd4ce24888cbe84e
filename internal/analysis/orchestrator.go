// Package analysis turns a crawl corpus into an RFP document. URLs are
// split into batches, each batch is one forced tool call to the model, and
// the batch documents are merged and annotated with component reuse.
package analysis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/corpus"
	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/llm"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/metrics"
	"github.com/PentesterFlow/sitesurvey/internal/repair"
)

// Options configures an Orchestrator.
type Options struct {
	// BatchSize fixes the URLs per batch. Zero selects by URL count.
	BatchSize   int
	Temperature float64
	MaxTokens   int
}

// DefaultOptions returns orchestrator defaults.
func DefaultOptions() Options {
	return Options{Temperature: 0.2}
}

// Orchestrator runs batched analysis. It keeps no state between calls.
type Orchestrator struct {
	client    llm.Client
	opts      Options
	validator *Validator
	log       *logger.Logger
	metrics   *metrics.Collector
}

// New creates an orchestrator around client. log and m may be nil.
func New(client llm.Client, opts Options, log *logger.Logger, m *metrics.Collector) *Orchestrator {
	log = logger.OrNop(log).WithComponent("analysis")
	v, err := NewValidator()
	if err != nil {
		log.WithError(err).Warn("Schema validation disabled")
	}
	return &Orchestrator{client: client, opts: opts, validator: v, log: log, metrics: m}
}

// BatchSizeFor picks the batch size for n URLs.
func BatchSizeFor(n int) int {
	switch {
	case n <= 100:
		if n < 1 {
			return 1
		}
		return n
	case n <= 500:
		return 100
	case n <= 1000:
		return 80
	default:
		return 50
	}
}

// Batches sorts and deduplicates urls and cuts them into contiguous chunks
// of size.
func Batches(urls []string, size int) [][]string {
	seen := make(map[string]bool, len(urls))
	unique := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		unique = append(unique, u)
	}
	sort.Strings(unique)

	if size <= 0 {
		size = BatchSizeFor(len(unique))
	}
	var out [][]string
	for start := 0; start < len(unique); start += size {
		end := start + size
		if end > len(unique) {
			end = len(unique)
		}
		out = append(out, unique[start:end])
	}
	return out
}

// Analyze produces the document for urls. batchSize overrides the
// configured size when positive.
//
// Batches run one after another. A failed batch is logged and skipped; the
// call fails only when every batch fails.
func (o *Orchestrator) Analyze(ctx context.Context, corpusText string, urls []string, batchSize int) (*Document, error) {
	if len(urls) == 0 {
		return nil, errors.NewInputError("analyze", "no crawled URLs to analyze")
	}
	if batchSize <= 0 {
		batchSize = o.opts.BatchSize
	}
	batches := Batches(urls, batchSize)
	if len(batches) == 0 {
		return nil, errors.NewInputError("analyze", "no crawled URLs to analyze")
	}

	o.log.Infof("Analyzing %d URLs in %d batch(es)", len(urls), len(batches))

	var (
		docs []*Document
		errs []error
	)
	for i, batch := range batches {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError("", "analyze")
		}
		start := time.Now()
		doc, err := o.runBatch(ctx, corpusText, batch, i+1, len(batches))
		o.metrics.RecordBatch(err == nil)
		o.log.WithDuration(time.Since(start)).BatchEvent(i+1, len(batches), len(batch), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("batch %d: %w", i+1, err))
			continue
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, errors.NewOrchestrationError("analyze",
			fmt.Sprintf("all %d batches failed", len(batches)), stderrors.Join(errs...))
	}
	if len(errs) > 0 {
		o.log.Warnf("Analysis is partial: %d of %d batches failed", len(errs), len(batches))
	}

	merged := Merge(docs)
	Annotate(merged)
	return merged, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, corpusText string, batch []string, index, total int) (*Document, error) {
	keep := make(map[string]bool, len(batch))
	for _, u := range batch {
		keep[u] = true
	}
	content := corpus.Filter(corpusText, keep)

	resp, err := o.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: batchPrompt(batch, content, index, total)}},
		Tool:        Tool(),
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := resp.Arguments(ToolName)
	if !ok {
		raw = resp.Content
	}
	if resp.FinishReason == "length" || resp.FinishReason == "max_tokens" {
		o.log.WithBatch(index, total).Warn("Model output was truncated; repairing")
	}

	repaired, err := repair.Repair(raw)
	if err != nil {
		return nil, err
	}
	if repaired.Stage != "direct" {
		o.log.WithBatch(index, total).WithField("stage", repaired.Stage).Debug("Repaired model output")
	}
	if problems, verr := o.validator.Validate(repaired.JSON); verr == nil && len(problems) > 0 {
		o.log.WithBatch(index, total).WithField("problems", problems).Warn("Batch output does not match schema")
	}

	var doc Document
	if err := json.Unmarshal(repaired.JSON, &doc); err != nil {
		return nil, errors.NewParseError("", "decode_batch", err)
	}
	o.restrictPages(&doc, batch, index, total)
	return &doc, nil
}

// restrictPages keeps one page per batch URL, rewriting near-miss URLs
// (trailing slash differences) to the crawled form.
func (o *Orchestrator) restrictPages(doc *Document, batch []string, index, total int) {
	crawled := make(map[string]string, len(batch))
	for _, u := range batch {
		crawled[urlKey(u)] = u
	}

	seen := make(map[string]bool, len(doc.Pages))
	kept := doc.Pages[:0]
	dropped := 0
	for _, p := range doc.Pages {
		u, ok := crawled[urlKey(p.URL)]
		if !ok || seen[u] {
			dropped++
			continue
		}
		seen[u] = true
		p.URL = u
		kept = append(kept, p)
	}
	doc.Pages = kept
	doc.Overview.TotalPagesAnalyzed = Count(len(kept))

	if dropped > 0 {
		o.log.WithBatch(index, total).Debugf("Dropped %d page entries outside the batch", dropped)
	}
	if missing := len(batch) - len(kept); missing > 0 {
		o.log.WithBatch(index, total).Debugf("Model omitted %d of %d URLs", missing, len(batch))
	}
}
