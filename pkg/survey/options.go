package survey

import (
	"net/http"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/fetcher"
	"github.com/PentesterFlow/sitesurvey/internal/llm"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/metrics"
	"github.com/PentesterFlow/sitesurvey/internal/qa"
)

// Option is a functional option for configuring the Survey.
type Option func(*Survey) error

// WithConfig replaces the whole configuration. Options applied after it
// still take effect.
func WithConfig(cfg *Config) Option {
	return func(s *Survey) error {
		if cfg != nil {
			s.config = cfg.Clone()
		}
		return nil
	}
}

// WithMaxPages sets the maximum number of page types fetched per crawl.
func WithMaxPages(n int) Option {
	return func(s *Survey) error {
		if n < 1 {
			n = 1
		}
		s.config.Crawl.MaxPages = n
		return nil
	}
}

// WithConcurrency sets the number of fetches in flight.
func WithConcurrency(n int) Option {
	return func(s *Survey) error {
		if n < 1 {
			n = 1
		}
		s.config.Crawl.Concurrency = n
		return nil
	}
}

// WithRenderJS forces browser rendering for every page.
func WithRenderJS(enabled bool) Option {
	return func(s *Survey) error {
		s.config.Crawl.RenderJS = enabled
		return nil
	}
}

// WithTimeout sets the per-fetch timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Survey) error {
		s.config.Crawl.Timeout = timeout
		return nil
	}
}

// WithRateLimit sets the per-host request rate. Zero disables limiting.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(s *Survey) error {
		s.config.Crawl.RequestsPerSecond = requestsPerSecond
		return nil
	}
}

// WithBatchSize fixes the number of URLs per analysis batch.
func WithBatchSize(n int) Option {
	return func(s *Survey) error {
		s.config.Analysis.BatchSize = n
		return nil
	}
}

// WithLLMConfig sets the model client configuration.
func WithLLMConfig(cfg llm.Config) Option {
	return func(s *Survey) error {
		s.config.LLM.Config = cfg
		return nil
	}
}

// WithLLMClient uses client instead of building one from the
// configuration. The caller keeps ownership of it.
func WithLLMClient(client llm.Client) Option {
	return func(s *Survey) error {
		s.client = client
		s.ownsClient = false
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Survey) error {
		s.log = l
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Survey) error {
		s.metrics = m
		return nil
	}
}

// WithQuestionCatalog sets the static question catalog.
func WithQuestionCatalog(c *qa.Catalog) Option {
	return func(s *Survey) error {
		s.catalog = c
		return nil
	}
}

// WithSuggestSeed fixes the catalog shuffle order.
func WithSuggestSeed(seed int64) Option {
	return func(s *Survey) error {
		s.suggestSeed = seed
		return nil
	}
}

// WithHTTPClient sets the client used for robots.txt and sitemap requests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Survey) error {
		s.httpClient = client
		return nil
	}
}

// WithFetcherOptions customizes the page fetcher.
func WithFetcherOptions(opts ...fetcher.Option) Option {
	return func(s *Survey) error {
		s.fetcherOpts = append(s.fetcherOpts, opts...)
		return nil
	}
}

// WithVerbose enables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(s *Survey) error {
		s.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(s *Survey) error {
		s.config.Debug = debug
		return nil
	}
}
