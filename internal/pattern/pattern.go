// Package pattern collapses concrete URLs into page-type keys.
//
// Each path segment is classified by an ordered list of rules. The first
// rule whose predicate matches decides the segment's token: a placeholder
// such as ":id" for volatile segments, or the lower-cased literal for
// segments that look like stable category names.
package pattern

import (
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// Placeholder tokens.
const (
	ID      = ":id"
	UUID    = ":uuid"
	Year    = ":year"
	Date    = ":date"
	Month   = ":month"
	Day     = ":day"
	AlphaID = ":alphaid"
	Slug    = ":slug"

	// Root is the pattern of a URL with no path segments.
	Root = "/"
)

var (
	uuidRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	yearRe    = regexp.MustCompile(`^\d{4}$`)
	dateRe    = regexp.MustCompile(`^\d{4}-\d{2}(-\d{2})?$`)
	twoDigit  = regexp.MustCompile(`^\d{2}$`)
	alphaIDRe = regexp.MustCompile(`^[A-Za-z0-9]{8,}$`)
)

// DefaultStaticPages lists trailing segments that stay literal even though
// they would otherwise be read as a slug.
var DefaultStaticPages = []string{
	"about", "contact", "products", "services", "blog", "news", "faq",
	"pricing", "portfolio", "events", "careers", "team", "home", "index",
	"search", "login", "register", "privacy", "terms", "sitemap", "shop",
	"cart", "checkout", "support", "help", "resources", "solutions",
	"industries", "partners", "press", "gallery", "locations", "jobs",
	"docs", "downloads", "testimonials", "clients", "company", "history",
	"mission", "investors", "media", "articles", "categories", "category",
	"tags", "account", "profile",
}

// Segment is one path segment under classification.
type Segment struct {
	Text string
	Last bool
}

// Rule maps a matching segment to its token.
type Rule struct {
	Name  string
	Match func(s Segment) bool
	Token func(s Segment) string
}

// Normalizer turns URLs into page-type patterns. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	rules  []Rule
	static map[string]struct{}
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithStaticPages replaces the allow-list of static trailing segments.
func WithStaticPages(names []string) Option {
	return func(n *Normalizer) {
		n.static = make(map[string]struct{}, len(names))
		for _, name := range names {
			n.static[strings.ToLower(name)] = struct{}{}
		}
	}
}

// WithExtraRules inserts rules ahead of the built-in list.
func WithExtraRules(rules ...Rule) Option {
	return func(n *Normalizer) {
		n.rules = append(append([]Rule{}, rules...), n.rules...)
	}
}

// New creates a Normalizer with the default rule list.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{}
	WithStaticPages(DefaultStaticPages)(n)
	n.rules = n.defaultRules()
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Rules returns the rule names in evaluation order.
func (n *Normalizer) Rules() []string {
	names := make([]string, len(n.rules))
	for i, r := range n.rules {
		names[i] = r.Name
	}
	return names
}

// Normalize returns the pattern for rawURL, or "" when rawURL does not parse
// or its host differs from siteHost. Host comparison ignores case and port.
func (n *Normalizer) Normalize(rawURL, siteHost string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	if !SameHost(u.Hostname(), siteHost) {
		return ""
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Root
	}

	tokens := make([]string, len(parts))
	for i, p := range parts {
		tokens[i] = n.Classify(Segment{Text: p, Last: i == len(parts)-1})
	}
	return "/" + strings.Join(tokens, "/")
}

// Classify returns the token for a single segment.
func (n *Normalizer) Classify(s Segment) string {
	for _, r := range n.rules {
		if r.Match(s) {
			return r.Token(s)
		}
	}
	return literal(s)
}

// SameHost compares two hosts ignoring case and any port.
func SameHost(a, b string) bool {
	return strings.EqualFold(stripPort(a), stripPort(b))
}

func stripPort(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}

func (n *Normalizer) defaultRules() []Rule {
	return []Rule{
		{Name: "digits", Match: func(s Segment) bool { return isDigits(s.Text) }, Token: constant(ID)},
		{Name: "uuid", Match: func(s Segment) bool { return uuidRe.MatchString(s.Text) }, Token: constant(UUID)},
		// digits precedes year and two-digit, so those only fire for
		// custom rule lists that drop or reorder digits.
		{Name: "year", Match: func(s Segment) bool { return yearRe.MatchString(s.Text) }, Token: constant(Year)},
		{Name: "date", Match: func(s Segment) bool { return dateRe.MatchString(s.Text) }, Token: constant(Date)},
		{Name: "two-digit", Match: func(s Segment) bool { return twoDigit.MatchString(s.Text) }, Token: monthOrDay},
		{Name: "alphaid", Match: isAlphaID, Token: constant(AlphaID)},
		{Name: "separated", Match: func(s Segment) bool { return strings.ContainsAny(s.Text, "-_") }, Token: separated},
		{Name: "long", Match: func(s Segment) bool { return runeLen(s.Text) > 30 }, Token: constant(Slug)},
		{Name: "category", Match: func(s Segment) bool {
			return !s.Last && runeLen(s.Text) <= 20 && isAlnum(s.Text)
		}, Token: literal},
		{Name: "trailing-word", Match: func(s Segment) bool {
			return s.Last && runeLen(s.Text) <= 20 && isAlnum(s.Text)
		}, Token: n.staticOrSlug},
	}
}

func (n *Normalizer) staticOrSlug(s Segment) string {
	lower := strings.ToLower(s.Text)
	if _, ok := n.static[lower]; ok {
		return lower
	}
	return Slug
}

func constant(tok string) func(Segment) string {
	return func(Segment) string { return tok }
}

func literal(s Segment) string {
	return strings.ToLower(s.Text)
}

func monthOrDay(s Segment) string {
	v := int(s.Text[0]-'0')*10 + int(s.Text[1]-'0')
	switch {
	case v >= 1 && v <= 12:
		return Month
	case v >= 13 && v <= 31:
		return Day
	default:
		return ID
	}
}

// separated handles hyphenated or underscored segments. A trailing one is
// always a content slug; an inner one is kept as a category name.
func separated(s Segment) string {
	n := runeLen(s.Text)
	switch {
	case s.Last && n > 15:
		return Slug
	case !s.Last && n <= 25:
		return literal(s)
	case s.Last:
		return Slug
	default:
		return literal(s)
	}
}

func isAlphaID(s Segment) bool {
	if !alphaIDRe.MatchString(s.Text) {
		return false
	}
	var letter, digit bool
	for _, r := range s.Text {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		default:
			letter = true
		}
	}
	return letter && digit
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func runeLen(s string) int {
	return len([]rune(s))
}
