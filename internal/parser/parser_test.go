package parser

import (
	"reflect"
	"strings"
	"testing"
)

// =============================================================================
// HTMLParser Tests
// =============================================================================

func TestNewHTMLParser(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid URL", "https://example.com", false},
		{"URL with path", "https://example.com/path/to/page", false},
		{"invalid URL", "://invalid", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewHTMLParser(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewHTMLParser() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && p == nil {
				t.Error("NewHTMLParser() returned nil parser")
			}
		})
	}
}

func TestHTMLParser_Links(t *testing.T) {
	p, _ := NewHTMLParser("https://example.com/blog/")

	body := `
		<html><body>
			<a href="/about">About</a>
			<a href="post-1#comments">Post</a>
			<a href="https://example.com/about">About again</a>
			<a href="https://EXAMPLE.com/contact">Contact</a>
			<a href="https://other.com/x">Elsewhere</a>
			<a href="#top">Top</a>
			<a href="mailto:hi@example.com">Mail</a>
			<a href="javascript:void(0)">JS</a>
			<a href="ftp://example.com/file">FTP</a>
		</body></html>`

	links, err := p.Links(body)
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}

	want := []string{
		"https://example.com/about",
		"https://example.com/blog/post-1",
		"https://EXAMPLE.com/contact",
	}
	if !reflect.DeepEqual(links, want) {
		t.Errorf("Links() = %v, want %v", links, want)
	}
}

func TestHTMLParser_Parse(t *testing.T) {
	p, _ := NewHTMLParser("https://example.com")

	page, err := p.Parse(`<html><head><title> Acme Corp </title></head>
		<body><h1>Welcome</h1><a href="/pricing">Pricing</a></body></html>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if page.Title != "Acme Corp" {
		t.Errorf("Title = %q", page.Title)
	}
	if !strings.Contains(page.Text, "Welcome") || !strings.Contains(page.Text, "Pricing") {
		t.Errorf("Text = %q", page.Text)
	}
	if len(page.Links) != 1 || page.Links[0] != "https://example.com/pricing" {
		t.Errorf("Links = %v", page.Links)
	}
}

// =============================================================================
// Text Tests
// =============================================================================

func TestVisibleText(t *testing.T) {
	body := `<!DOCTYPE html>
		<html>
		<head>
			<title>Home</title>
			<style>body { color: red; }</style>
			<script>var secret = "hidden";</script>
		</head>
		<body>
			<nav>Products   |   Services</nav>
			<noscript>Enable JavaScript</noscript>
			<template><p>template text</p></template>
			<svg><text>icon</text></svg>
			<main>
				<h1>Hello</h1>
				<p>World
				   again</p>
			</main>
			<script src="/app.js"></script>
		</body>
		</html>`

	got, err := VisibleText(body)
	if err != nil {
		t.Fatalf("VisibleText() error = %v", err)
	}

	want := "Home Products | Services Hello World again"
	if got != want {
		t.Errorf("VisibleText() = %q, want %q", got, want)
	}
}

func TestVisibleText_Empty(t *testing.T) {
	got, err := VisibleText(`<html><body><div id="root"></div><script>boot()</script></body></html>`)
	if err != nil {
		t.Fatalf("VisibleText() error = %v", err)
	}
	if got != "" {
		t.Errorf("VisibleText() = %q, want empty", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"hello", 0, "hello"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
