// Package scope filters sitemap candidates before page-type selection.
// Host filtering is left to the pattern normalizer.
package scope

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
)

// Rules defines which candidate URLs may become representatives.
type Rules struct {
	IncludePatterns []string `json:"include_patterns,omitempty" yaml:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty" yaml:"exclude_patterns,omitempty"`
	// SkipAssets drops URLs whose path ends in a document, image or
	// archive extension.
	SkipAssets bool `json:"skip_assets" yaml:"skip_assets"`
}

// DefaultRules skips assets and matches everything else.
func DefaultRules() Rules {
	return Rules{SkipAssets: true}
}

// assetExtensions never hold page markup.
var assetExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".ico": true, ".svg": true, ".webp": true,
	".css": true, ".js": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".rar": true, ".exe": true, ".dmg": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".xml": true, ".json": true, ".txt": true,
}

// Checker validates URLs against rules. It is immutable and safe for
// concurrent use.
type Checker struct {
	skipAssets     bool
	includeRegexps []*regexp.Regexp
	excludeRegexps []*regexp.Regexp
}

// NewChecker compiles rules. A bad pattern is a configuration error.
func NewChecker(rules Rules) (*Checker, error) {
	c := &Checker{skipAssets: rules.SkipAssets}

	// Compile include patterns
	for _, pattern := range rules.IncludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.NewConfigError("crawl.include_patterns", err.Error())
		}
		c.includeRegexps = append(c.includeRegexps, re)
	}

	// Compile exclude patterns
	for _, pattern := range rules.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.NewConfigError("crawl.exclude_patterns", err.Error())
		}
		c.excludeRegexps = append(c.excludeRegexps, re)
	}

	return c, nil
}

// Allow reports whether urlStr may be selected.
func (c *Checker) Allow(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	if c.skipAssets && IsAsset(parsed.Path) {
		return false
	}

	// Check exclude patterns first (higher priority)
	for _, re := range c.excludeRegexps {
		if re.MatchString(urlStr) {
			return false
		}
	}

	// Check include patterns (if any defined)
	if len(c.includeRegexps) > 0 {
		for _, re := range c.includeRegexps {
			if re.MatchString(urlStr) {
				return true
			}
		}
		return false
	}

	return true
}

// Filter returns the allowed URLs of urls in order.
func (c *Checker) Filter(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if c.Allow(u) {
			out = append(out, u)
		}
	}
	return out
}

// IsAsset reports whether p ends in a non-page file extension.
func IsAsset(p string) bool {
	return assetExtensions[strings.ToLower(path.Ext(p))]
}
