// Package sitemap discovers a site's sitemaps and expands them into the
// list of page URLs they declare.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	serrors "github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/metrics"
)

// conventionalPaths are tried on every discovery, whatever robots.txt says.
var conventionalPaths = []string{"/sitemap.xml", "/sitemap_index.xml"}

// maxDocumentSize caps a single decompressed sitemap document.
const maxDocumentSize = 50 << 20

// Config configures a Resolver.
type Config struct {
	UserAgent string
	Timeout   time.Duration // per document
	MaxDepth  int           // sitemap-index nesting limit
	Client    *http.Client
}

// DefaultConfig returns resolver defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent: "SiteSurvey/1.0 (+https://github.com/PentesterFlow/sitesurvey)",
		Timeout:   20 * time.Second,
		MaxDepth:  3,
	}
}

// Resolver fetches robots.txt and sitemap documents. Every failure is
// logged and contributes nothing; no method returns an error.
type Resolver struct {
	client    *http.Client
	userAgent string
	maxDepth  int
	log       *logger.Logger
	metrics   *metrics.Collector
}

// New creates a Resolver. log and m may be nil.
func New(cfg Config, log *logger.Logger, m *metrics.Collector) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Resolver{
		client:    client,
		userAgent: cfg.UserAgent,
		maxDepth:  cfg.MaxDepth,
		log:       logger.OrNop(log).WithComponent("sitemap"),
		metrics:   m,
	}
}

// Discover returns the sitemap URLs declared in robots.txt followed by the
// conventional locations, without duplicates.
func (r *Resolver) Discover(ctx context.Context, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		r.log.ErrorEvent(serrors.NewParseError(baseURL, "discover", err), baseURL, "discover")
		return nil
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host}
	if root.Scheme == "" {
		root.Scheme = "https"
	}

	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, u := range r.robotsSitemaps(ctx, root) {
		add(u)
	}
	for _, p := range conventionalPaths {
		add(root.ResolveReference(&url.URL{Path: p}).String())
	}
	return out
}

func (r *Resolver) robotsSitemaps(ctx context.Context, root *url.URL) []string {
	robotsURL := root.ResolveReference(&url.URL{Path: "/robots.txt"}).String()

	body, status, err := r.get(ctx, robotsURL)
	if err != nil {
		r.log.ErrorEvent(err, robotsURL, "fetch_robots")
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		r.log.ErrorEvent(serrors.NewParseError(robotsURL, "parse_robots", err), robotsURL, "parse_robots")
		return nil
	}
	r.log.Debugf("robots.txt declares %d sitemaps", len(data.Sitemaps))
	return data.Sitemaps
}

// document accepts both <urlset> and <sitemapindex> roots.
type document struct {
	XMLName  xml.Name
	URLs     []entry `xml:"url"`
	Sitemaps []entry `xml:"sitemap"`
}

type entry struct {
	Loc string `xml:"loc"`
}

// ExtractLocs returns the page URLs declared by sitemapURL. Index documents
// are expanded depth-first, each child's entries appended in order.
func (r *Resolver) ExtractLocs(ctx context.Context, sitemapURL string) []string {
	return r.extract(ctx, sitemapURL, 0, make(map[string]bool))
}

func (r *Resolver) extract(ctx context.Context, sitemapURL string, depth int, seen map[string]bool) []string {
	if depth > r.maxDepth || seen[sitemapURL] || ctx.Err() != nil {
		return nil
	}
	seen[sitemapURL] = true

	doc, err := r.fetchDocument(ctx, sitemapURL)
	if err != nil {
		r.metrics.RecordSitemap(0, err)
		r.log.ErrorEvent(err, sitemapURL, "fetch_sitemap")
		return nil
	}

	var locs []string
	if strings.EqualFold(doc.XMLName.Local, "sitemapindex") {
		for _, child := range doc.Sitemaps {
			if loc := strings.TrimSpace(child.Loc); loc != "" {
				locs = append(locs, r.extract(ctx, loc, depth+1, seen)...)
			}
		}
		r.metrics.RecordSitemap(0, nil)
		r.log.SitemapEvent(sitemapURL, len(locs), true)
		return locs
	}

	for _, u := range doc.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			locs = append(locs, loc)
		}
	}
	r.metrics.RecordSitemap(len(locs), nil)
	r.log.SitemapEvent(sitemapURL, len(locs), false)
	return locs
}

func (r *Resolver) fetchDocument(ctx context.Context, sitemapURL string) (*document, error) {
	body, status, err := r.get(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, serrors.CategorizeHTTPStatus(status, sitemapURL)
	}

	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, serrors.NewParseError(sitemapURL, "gunzip", err)
		}
		defer gz.Close()
		if body, err = io.ReadAll(io.LimitReader(gz, maxDocumentSize)); err != nil {
			return nil, serrors.NewParseError(sitemapURL, "gunzip", err)
		}
	}

	var doc document
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, serrors.NewParseError(sitemapURL, "parse_sitemap", err)
	}
	return &doc, nil
}

// get fetches rawURL and returns its body and status. Transport failures
// are categorized; HTTP statuses are left to the caller.
func (r *Resolver) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, serrors.NewParseError(rawURL, "request", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, serrors.Categorize(err, rawURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, resp.StatusCode, serrors.NewNetworkError(rawURL, "read_body", err)
	}
	return body, resp.StatusCode, nil
}

// Sweep discovers every sitemap of baseURL and returns all declared page
// URLs in discovery order, without duplicates.
func (r *Resolver) Sweep(ctx context.Context, baseURL string) []string {
	sitemaps := r.Discover(ctx, baseURL)

	seenDocs := make(map[string]bool)
	seenLocs := make(map[string]bool)
	var out []string
	for _, sm := range sitemaps {
		for _, loc := range r.extract(ctx, sm, 0, seenDocs) {
			if !seenLocs[loc] {
				seenLocs[loc] = true
				out = append(out, loc)
			}
		}
	}
	r.log.Infof("Sitemap sweep found %d URLs in %d candidate sitemaps", len(out), len(sitemaps))
	return out
}
