// Package corpus assembles fetched page text into the single grounding
// document used by analysis and Q&A, and splits it back into per-page
// sections.
package corpus

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PentesterFlow/sitesurvey/internal/parser"
)

// Default budgets, in characters.
const (
	DefaultPageBudget   = 4000
	DefaultCorpusBudget = 12000
)

const sectionSeparator = "\n\n"

// markerPattern matches the line that opens every page section.
var markerPattern = regexp.MustCompile(`(?m)^=== PAGE: (\S+) ===$`)

// Marker returns the header line for a page section.
func Marker(url string) string {
	return "=== PAGE: " + url + " ==="
}

// CrawlResult is the corpus together with the URLs whose text it contains,
// in the order their sections appear.
type CrawlResult struct {
	Corpus string   `json:"corpus"`
	URLs   []string `json:"urls"`
}

// Section is one page's slice of a corpus.
type Section struct {
	URL  string
	Text string
}

func (s Section) String() string {
	return Marker(s.URL) + "\n" + s.Text
}

// Assembler builds CrawlResults under a per-page and an aggregate budget.
type Assembler struct {
	pageBudget   int
	corpusBudget int
}

// NewAssembler creates an assembler. Non-positive budgets take the defaults.
func NewAssembler(pageBudget, corpusBudget int) *Assembler {
	if pageBudget <= 0 {
		pageBudget = DefaultPageBudget
	}
	if corpusBudget <= 0 {
		corpusBudget = DefaultCorpusBudget
	}
	return &Assembler{pageBudget: pageBudget, corpusBudget: corpusBudget}
}

// Assemble concatenates the texts of urls, in order, skipping absent and
// empty ones. When the result exceeds the aggregate budget the oldest
// sections are dropped whole, and their URLs with them, so URLs[i] always
// names the i-th section.
func (a *Assembler) Assemble(urls []string, texts map[string]string) CrawlResult {
	seen := make(map[string]bool, len(urls))
	var sections []Section
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		text := strings.TrimSpace(texts[u])
		if text == "" {
			continue
		}
		sections = append(sections, Section{URL: u, Text: parser.Truncate(text, a.pageBudget)})
	}

	sections = a.fit(sections)
	return Build(sections)
}

// fit drops leading sections until the joined corpus fits the budget. A
// lone section that is still too large keeps its marker and the tail of
// its text.
func (a *Assembler) fit(sections []Section) []Section {
	total := 0
	sizes := make([]int, len(sections))
	for i, s := range sections {
		sizes[i] = utf8.RuneCountInString(s.String())
		total += sizes[i]
		if i > 0 {
			total += len(sectionSeparator)
		}
	}

	for len(sections) > 1 && total > a.corpusBudget {
		total -= sizes[0] + len(sectionSeparator)
		sections, sizes = sections[1:], sizes[1:]
	}

	if len(sections) == 1 && total > a.corpusBudget {
		s := sections[0]
		room := a.corpusBudget - utf8.RuneCountInString(Marker(s.URL)) - 1
		if room <= 0 {
			return nil
		}
		runes := []rune(s.Text)
		sections = []Section{{URL: s.URL, Text: string(runes[len(runes)-room:])}}
	}
	return sections
}

// Build joins sections into a CrawlResult without applying any budget.
func Build(sections []Section) CrawlResult {
	result := CrawlResult{URLs: make([]string, 0, len(sections))}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.String())
		result.URLs = append(result.URLs, s.URL)
	}
	result.Corpus = strings.Join(parts, sectionSeparator)
	return result
}

// Split parses a corpus back into its sections. Text before the first
// marker belongs to no page and is discarded.
func Split(corpus string) []Section {
	locs := markerPattern.FindAllStringSubmatchIndex(corpus, -1)
	sections := make([]Section, 0, len(locs))
	for i, loc := range locs {
		end := len(corpus)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, Section{
			URL:  corpus[loc[2]:loc[3]],
			Text: strings.TrimSpace(corpus[loc[1]:end]),
		})
	}
	return sections
}

// Filter returns the part of corpus made of sections whose URL is in keep,
// in their original order.
func Filter(corpus string, keep map[string]bool) string {
	var kept []Section
	for _, s := range Split(corpus) {
		if keep[s.URL] {
			kept = append(kept, s)
		}
	}
	return Build(kept).Corpus
}
