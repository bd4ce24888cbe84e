// Package parser reduces HTML documents to visible text and links.
package parser

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// hiddenElements never contribute visible text.
var hiddenElements = "script, style, noscript, template, svg, iframe, object, canvas"

// HTMLParser parses documents fetched from one page.
type HTMLParser struct {
	baseURL *url.URL
}

// NewHTMLParser creates a parser that resolves links against baseURL.
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &HTMLParser{baseURL: u}, nil
}

// Page is the parsed form of a document.
type Page struct {
	Title string
	Text  string
	Links []string
}

// Parse extracts the title, visible text, and same-host links.
func (p *HTMLParser) Parse(body string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &Page{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  visibleText(doc),
		Links: p.sameHostLinks(doc),
	}, nil
}

// VisibleText returns the human-readable text of an HTML document, with
// runs of whitespace collapsed to a single space.
func VisibleText(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}
	return visibleText(doc), nil
}

func visibleText(doc *goquery.Document) string {
	doc.Find(hiddenElements).Remove()

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// Links returns the document's same-host a[href] targets, resolved, with
// fragments removed, in document order and without duplicates.
func (p *HTMLParser) Links(body string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	return p.sameHostLinks(doc), nil
}

func (p *HTMLParser) sameHostLinks(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	links := make([]string, 0)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved := p.resolveURL(href)
		if resolved == nil || !strings.EqualFold(resolved.Hostname(), p.baseURL.Hostname()) {
			return
		}
		u := resolved.String()
		if !seen[u] {
			seen[u] = true
			links = append(links, u)
		}
	})
	return links
}

func (p *HTMLParser) resolveURL(href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return nil
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	resolved := p.baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil
	}
	resolved.Fragment = ""
	return resolved
}

// Truncate caps s at max runes. max <= 0 returns s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
