// Package browser provides headless Chrome rendering via Rod and the
// heuristic that decides when a page needs it.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/parser"
)

// Config defines browser configuration.
type Config struct {
	Headless       bool              `json:"headless" yaml:"headless"`
	Timeout        time.Duration     `json:"timeout" yaml:"timeout"` // per navigation
	UserAgent      string            `json:"user_agent" yaml:"user_agent"`
	ViewportWidth  int               `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int               `json:"viewport_height" yaml:"viewport_height"`
	MaxTabs        int               `json:"max_tabs" yaml:"max_tabs"`
	Stealth        bool              `json:"stealth" yaml:"stealth"`
	BlockResources bool              `json:"block_resources" yaml:"block_resources"`
	Bin            string            `json:"bin,omitempty" yaml:"bin,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "SiteSurvey/1.0 (+https://github.com/PentesterFlow/sitesurvey; site analysis for CMS proposals)",
		ViewportWidth:  1366,
		ViewportHeight: 900,
		MaxTabs:        4,
		Stealth:        true,
		BlockResources: true,
	}
}

// blockedResourceTypes are failed at the network layer during renders.
var blockedResourceTypes = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeMedia,
}

// PageResult contains the result of a rendered page visit.
type PageResult struct {
	URL      string
	FinalURL string
	Title    string
	HTML     string
	Text     string
	Duration time.Duration
}

// Renderer owns one browser process for the lifetime of a crawl call. The
// process is launched on the first Render, so calls that never fall back to
// rendering never start Chrome.
type Renderer struct {
	config Config
	log    *logger.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	closed   bool

	tabs chan struct{}
}

// NewRenderer creates a renderer. No browser is launched yet.
func NewRenderer(config Config) *Renderer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxTabs <= 0 {
		config.MaxTabs = DefaultConfig().MaxTabs
	}
	return &Renderer{
		config: config,
		log:    logger.Nop(),
		tabs:   make(chan struct{}, config.MaxTabs),
	}
}

// WithLogger sets the logger used for render diagnostics.
func (r *Renderer) WithLogger(l *logger.Logger) *Renderer {
	r.log = logger.OrNop(l)
	return r
}

// routeAdder matches rod's HijackRouter.Add.
type routeAdder func(pattern string, resourceType proto.NetworkResourceType, handler func(*rod.Hijack)) error

// blockResources fails every blocked resource type at the network layer.
// Routes that fail to register are logged and skipped.
func (r *Renderer) blockResources(add routeAdder) {
	for _, rt := range blockedResourceTypes {
		err := add("*", rt, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
		if err != nil {
			r.log.WithError(err).WithField("resource_type", string(rt)).Debug("Resource block not registered")
		}
	}
}

func (r *Renderer) ensure() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.NewBrowserError("", "launch", context.Canceled)
	}
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().
		Headless(r.config.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox")
	if r.config.Bin != "" {
		l = l.Bin(r.config.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, errors.NewBrowserError("", "launch", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, errors.NewBrowserError("", "connect", err)
	}

	r.launcher = l
	r.browser = b
	return b, nil
}

// Render navigates to pageURL in a fresh incognito context, waits for
// DOMContentLoaded and returns the page's visible text. The context is
// disposed before returning, on every path.
func (r *Renderer) Render(ctx context.Context, pageURL string) (*PageResult, error) {
	if ctx.Err() != nil {
		return nil, errors.NewCancelledError(pageURL, "render")
	}
	select {
	case r.tabs <- struct{}{}:
		defer func() { <-r.tabs }()
	case <-ctx.Done():
		return nil, errors.NewCancelledError(pageURL, "render")
	}

	b, err := r.ensure()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &PageResult{URL: pageURL}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, errors.NewBrowserError(pageURL, "incognito", err)
	}
	defer incognito.Close()

	var page *rod.Page
	if r.config.Stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, errors.NewBrowserError(pageURL, "create_page", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	page = page.Context(navCtx)

	r.preparePage(page)

	if r.config.BlockResources {
		router := page.HijackRequests()
		r.blockResources(router.Add)
		go router.Run()
		defer func() { _ = router.Stop() }()
	}

	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(pageURL); err != nil {
		return nil, r.navError(navCtx, pageURL, "navigate", err)
	}
	wait()
	if navCtx.Err() != nil {
		return nil, r.navError(navCtx, pageURL, "wait_dom", navCtx.Err())
	}

	if info, err := page.Info(); err == nil && info != nil {
		result.FinalURL = info.URL
		result.Title = info.Title
	} else {
		result.FinalURL = pageURL
	}

	html, err := page.HTML()
	if err != nil {
		return nil, r.navError(navCtx, pageURL, "html", err)
	}
	result.HTML = html

	text, err := parser.VisibleText(html)
	if err != nil {
		return nil, errors.NewParseError(pageURL, "html_parse", err)
	}
	result.Text = text
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Renderer) preparePage(page *rod.Page) {
	if r.config.ViewportWidth > 0 && r.config.ViewportHeight > 0 {
		_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  r.config.ViewportWidth,
			Height: r.config.ViewportHeight,
		})
	}

	if r.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: r.config.UserAgent}.Call(page)
	}

	if len(r.config.Headers) > 0 {
		headers := make(proto.NetworkHeaders, len(r.config.Headers))
		for k, v := range r.config.Headers {
			headers[k] = gson.New(v)
		}
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: headers}.Call(page)
	}
}

func (r *Renderer) navError(navCtx context.Context, pageURL, op string, err error) error {
	if navCtx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(pageURL, op, err)
	}
	if navCtx.Err() == context.Canceled {
		return errors.NewCancelledError(pageURL, op)
	}
	return errors.NewBrowserError(pageURL, op, err)
}

// Launched reports whether the browser process has been started.
func (r *Renderer) Launched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.browser != nil
}

// Close shuts down the browser process if one was launched. It is safe to
// call more than once.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launcher != nil {
		r.launcher.Kill()
		r.launcher = nil
	}
	return err
}
