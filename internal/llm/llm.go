// Package llm is the language-model client handle shared by analysis, Q&A
// and question suggestion. It is constructed once and passed explicitly.
package llm

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/metrics"
)

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client sends one completion request. Implementations are safe for
// concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Message is one conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool is a function the model is forced to call. Parameters is a JSON
// schema object.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is a provider-neutral completion request. When Tool is set the
// provider is asked to call it rather than answer in text.
type Request struct {
	System      string
	Messages    []Message
	Tool        *Tool
	Temperature float64
	MaxTokens   int
}

// ToolCall is a function call returned by the model. Arguments is the raw
// argument text and may be malformed or truncated.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Response is the model's reply.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Arguments returns the arguments of the first call to name, if any.
func (r *Response) Arguments(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, tc := range r.ToolCalls {
		if tc.Name == name && strings.TrimSpace(tc.Arguments) != "" {
			return tc.Arguments, true
		}
	}
	return "", false
}

// Config configures the client.
type Config struct {
	Provider   string        `json:"provider" yaml:"provider"`
	Model      string        `json:"model" yaml:"model"`
	APIKey     string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIURL     string        `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	MaxTokens  int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
}

// DefaultConfig returns client defaults.
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderOpenAI,
		Model:      "gpt-4o-mini",
		MaxTokens:  8192,
		Timeout:    120 * time.Second,
		MaxRetries: 2,
	}
}

// ApplyEnv overrides cfg with LLM_PROVIDER, LLM_MODEL, LLM_API_KEY and
// LLM_API_URL when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("LLM_API_URL"); v != "" {
		c.APIURL = v
	}
}

// Validate reports missing credentials or an unknown provider.
func (c Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return errors.NewConfigError("llm.provider", "unknown provider "+c.Provider)
	}
	if c.Model == "" {
		return errors.NewConfigError("llm.model", "model is required")
	}
	if c.APIKey == "" {
		return errors.NewConfigError("llm.api_key", "API key is required (set LLM_API_KEY)")
	}
	return nil
}

// New validates cfg and builds the provider client wrapped with retries.
// Configuration problems are returned here, never at call time.
func New(ctx context.Context, cfg Config, log *logger.Logger, m *metrics.Collector) (Client, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		provider Client
		err      error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		provider = NewOpenAIProvider(cfg)
	case ProviderAnthropic:
		provider = NewAnthropicProvider(cfg)
	case ProviderGemini:
		provider, err = NewGeminiProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	retry := errors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	return NewRetryingClient(provider, retry, strings.ToLower(cfg.Provider), log, m), nil
}

// RetryingClient retries transient provider failures with backoff.
type RetryingClient struct {
	next    Client
	retrier *errors.Retrier
	name    string
	log     *logger.Logger
	metrics *metrics.Collector
}

// NewRetryingClient wraps next. Any OnRetry in retry is replaced. log and m
// may be nil.
func NewRetryingClient(next Client, retry errors.RetryConfig, name string, log *logger.Logger, m *metrics.Collector) *RetryingClient {
	rc := &RetryingClient{
		next:    next,
		name:    name,
		log:     logger.OrNop(log).WithComponent("llm"),
		metrics: m,
	}
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		rc.metrics.RecordLLMRetry()
		rc.log.WithError(err).WithField("attempt", attempt).WithDuration(wait).Warn("Retrying model call")
	}
	rc.retrier = errors.NewRetrier(retry)
	return rc
}

// Complete implements Client.
func (c *RetryingClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, result := errors.DoWithResult(ctx, c.retrier, "llm_complete", c.name, func(ctx context.Context) (*Response, error) {
		return c.next.Complete(ctx, req)
	})
	if !result.Success {
		c.metrics.RecordLLMCall(result.LastError)
		return nil, result.LastError
	}
	c.metrics.RecordLLMCall(nil)
	c.log.Debugf("Model call finished in %s after %d attempt(s)", result.Duration, result.Attempts)
	return resp, nil
}

// Close releases the wrapped provider when it holds resources.
func (c *RetryingClient) Close() error {
	if closer, ok := c.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
