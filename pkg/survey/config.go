package survey

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/sitesurvey/internal/browser"
	"github.com/PentesterFlow/sitesurvey/internal/corpus"
	"github.com/PentesterFlow/sitesurvey/internal/errors"
	fasthttp "github.com/PentesterFlow/sitesurvey/internal/http"
	"github.com/PentesterFlow/sitesurvey/internal/llm"
	"github.com/PentesterFlow/sitesurvey/internal/qa"
	"github.com/PentesterFlow/sitesurvey/internal/scope"
	"github.com/PentesterFlow/sitesurvey/internal/sitemap"
)

// Config holds all survey configuration.
type Config struct {
	Crawl     CrawlConfig     `json:"crawl" yaml:"crawl"`
	Browser   browser.Config  `json:"browser" yaml:"browser"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Analysis  AnalysisConfig  `json:"analysis" yaml:"analysis"`
	Questions QuestionsConfig `json:"questions" yaml:"questions"`
	Store     StoreConfig     `json:"store" yaml:"store"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// CrawlConfig controls discovery, selection and fetching.
type CrawlConfig struct {
	// Cap on representative URLs, one per page type
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// Fetches in flight
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Render every page in the browser
	RenderJS bool `json:"render_js" yaml:"render_js"`

	// Per static fetch
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`

	PageCharBudget   int `json:"page_char_budget" yaml:"page_char_budget"`
	CorpusCharBudget int `json:"corpus_char_budget" yaml:"corpus_char_budget"`

	SPATextThreshold   int `json:"spa_text_threshold" yaml:"spa_text_threshold"`
	SPAScriptThreshold int `json:"spa_script_threshold" yaml:"spa_script_threshold"`

	// 0 disables per-host rate limiting
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	MaxSitemapDepth int `json:"max_sitemap_depth" yaml:"max_sitemap_depth"`

	// Use homepage links when no sitemap lists any URL
	LinkFallback bool `json:"link_fallback" yaml:"link_fallback"`

	// Candidate filtering before page-type selection
	Scope scope.Rules `json:"scope" yaml:"scope"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	llm.Config  `yaml:",inline"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// AnalysisConfig configures RFP analysis.
type AnalysisConfig struct {
	// 0 picks the size from the URL count
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// QuestionsConfig configures suggested questions.
type QuestionsConfig struct {
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`
	StaticCount int    `json:"static_count" yaml:"static_count"`
	AICount     int    `json:"ai_count" yaml:"ai_count"`
	Shuffle     bool   `json:"shuffle" yaml:"shuffle"`
}

// StoreConfig configures the report store.
type StoreConfig struct {
	// Empty disables the store
	Path string `json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	static := fasthttp.DefaultFastClientConfig()
	spa := browser.DefaultSPAConfig()
	suggest := qa.DefaultSuggestOptions()

	return &Config{
		Crawl: CrawlConfig{
			MaxPages:           10,
			Concurrency:        8,
			Timeout:            static.Timeout,
			UserAgent:          static.UserAgent,
			PageCharBudget:     corpus.DefaultPageBudget,
			CorpusCharBudget:   corpus.DefaultCorpusBudget,
			SPATextThreshold:   spa.TextThreshold,
			SPAScriptThreshold: spa.ScriptThreshold,
			MaxSitemapDepth:    sitemap.DefaultConfig().MaxDepth,
			LinkFallback:       true,
			Scope:              scope.DefaultRules(),
		},
		Browser: browser.DefaultConfig(),
		LLM: LLMConfig{
			Config:      llm.DefaultConfig(),
			Temperature: 0.2,
		},
		Questions: QuestionsConfig{
			StaticCount: suggest.StaticCount,
			AICount:     suggest.AICount,
			Shuffle:     suggest.Shuffle,
		},
	}
}

// LoadFromFile loads configuration from a file (JSON or YAML). Fields the
// file omits keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. A .json suffix selects JSON.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Validate validates the configuration. Model credentials are checked
// only when a client is built, so crawl-only use needs none.
func (c *Config) Validate() error {
	if c.Crawl.MaxPages < 0 {
		return errors.NewConfigError("crawl.max_pages", "must not be negative")
	}
	if c.Crawl.Concurrency < 1 {
		return errors.NewConfigError("crawl.concurrency", "must be at least 1")
	}
	if c.Crawl.PageCharBudget < 1 {
		return errors.NewConfigError("crawl.page_char_budget", "must be at least 1")
	}
	if c.Crawl.CorpusCharBudget < c.Crawl.PageCharBudget {
		return errors.NewConfigError("crawl.corpus_char_budget", "must be at least page_char_budget")
	}
	if c.Crawl.RequestsPerSecond < 0 {
		return errors.NewConfigError("crawl.requests_per_second", "must not be negative")
	}
	if c.Analysis.BatchSize < 0 {
		return errors.NewConfigError("analysis.batch_size", "must not be negative")
	}
	if c.Questions.StaticCount < 0 || c.Questions.AICount < 0 {
		return errors.NewConfigError("questions", "counts must not be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.NewConfigError("llm.temperature", "must be between 0 and 2")
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

func (c *Config) sitemapConfig() sitemap.Config {
	return sitemap.Config{
		UserAgent: c.Crawl.UserAgent,
		Timeout:   c.Crawl.Timeout,
		MaxDepth:  c.Crawl.MaxSitemapDepth,
	}
}

func (c *Config) staticConfig() fasthttp.FastClientConfig {
	static := fasthttp.DefaultFastClientConfig()
	static.Timeout = c.Crawl.Timeout
	if c.Crawl.UserAgent != "" {
		static.UserAgent = c.Crawl.UserAgent
	}
	return static
}

func (c *Config) spaConfig() browser.SPAConfig {
	return browser.SPAConfig{
		TextThreshold:   c.Crawl.SPATextThreshold,
		ScriptThreshold: c.Crawl.SPAScriptThreshold,
	}
}
