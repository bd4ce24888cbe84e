package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNilCollector(t *testing.T) {
	var c *Collector

	c.RecordSitemap(3, nil)
	c.RecordPageRequested()
	c.RecordFetch(true, 10, time.Second)
	c.RecordSPAFallback()
	c.RecordFetchFailure("timeout")
	c.RecordLLMCall(nil)
	c.RecordLLMRetry()
	c.RecordBatch(false)
	c.RecordPacing(5, 2)

	snap := c.Snapshot()
	if snap == nil || snap.ErrorCounts == nil {
		t.Fatal("nil collector should return an empty snapshot")
	}
}

func TestCollector_Sitemaps(t *testing.T) {
	c := New()

	c.RecordSitemap(10, nil)
	c.RecordSitemap(5, nil)
	c.RecordSitemap(0, errors.New("404"))

	snap := c.Snapshot()
	if snap.SitemapsFetched != 2 || snap.SitemapFailures != 1 || snap.LocsDiscovered != 15 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCollector_Fetches(t *testing.T) {
	c := New()

	for i := 0; i < 4; i++ {
		c.RecordPageRequested()
	}
	c.RecordFetch(false, 1000, 100*time.Millisecond)
	c.RecordFetch(true, 500, 300*time.Millisecond)
	c.RecordSPAFallback()
	c.RecordFetchFailure("timeout")
	c.RecordFetchFailure("timeout")

	snap := c.Snapshot()
	if snap.StaticFetched != 1 || snap.RenderedPages != 1 {
		t.Errorf("static = %d rendered = %d", snap.StaticFetched, snap.RenderedPages)
	}
	if snap.CharsExtracted != 1500 {
		t.Errorf("CharsExtracted = %d", snap.CharsExtracted)
	}
	if snap.AverageFetchTime != 200*time.Millisecond {
		t.Errorf("AverageFetchTime = %v", snap.AverageFetchTime)
	}
	if snap.ErrorCounts["timeout"] != 2 {
		t.Errorf("ErrorCounts = %v", snap.ErrorCounts)
	}
	if rate := snap.FetchSuccessRate(); rate != 0.5 {
		t.Errorf("FetchSuccessRate = %v, want 0.5", rate)
	}
}

func TestCollector_LLM(t *testing.T) {
	c := New()

	c.RecordLLMCall(nil)
	c.RecordLLMCall(errors.New("boom"))
	c.RecordLLMRetry()
	c.RecordBatch(true)
	c.RecordBatch(false)

	snap := c.Snapshot()
	if snap.LLMCalls != 2 || snap.LLMFailures != 1 || snap.LLMRetries != 1 {
		t.Errorf("llm counters = %+v", snap)
	}
	if snap.BatchesOK != 1 || snap.BatchesFailed != 1 {
		t.Errorf("batch counters = %+v", snap)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordPageRequested()
			c.RecordFetchFailure("network")
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.PagesRequested != 50 || snap.ErrorCounts["network"] != 50 {
		t.Errorf("PagesRequested = %d, network = %d", snap.PagesRequested, snap.ErrorCounts["network"])
	}
}

func TestCollector_Pacing(t *testing.T) {
	c := New()

	c.RecordPacing(10, 1)
	c.RecordPacing(2.5, 3)

	snap := c.Snapshot()
	if snap.PacingRate != 2.5 || snap.PacedHosts != 3 {
		t.Errorf("PacingRate = %v, PacedHosts = %d", snap.PacingRate, snap.PacedHosts)
	}
	sum := snap.Summary()
	if sum["pacing_rate_rps"] != 2.5 || sum["paced_hosts"] != int64(3) {
		t.Errorf("Summary pacing = %v / %v", sum["pacing_rate_rps"], sum["paced_hosts"])
	}
}

func TestSnapshot_Summary(t *testing.T) {
	sum := New().Snapshot().Summary()

	for _, key := range []string{"pages_requested", "spa_fallbacks", "llm_calls", "fetch_success_rate", "pacing_rate_rps", "paced_hosts"} {
		if _, ok := sum[key]; !ok {
			t.Errorf("Summary missing %q", key)
		}
	}
}
