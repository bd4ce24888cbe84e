package scope

import (
	"strings"
	"testing"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
)

// =============================================================================
// Checker Tests
// =============================================================================

func TestNewChecker(t *testing.T) {
	tests := []struct {
		name    string
		rules   Rules
		wantErr bool
	}{
		{"defaults", DefaultRules(), false},
		{"include patterns", Rules{IncludePatterns: []string{`/products/`}}, false},
		{"invalid include", Rules{IncludePatterns: []string{`[invalid`}}, true},
		{"invalid exclude", Rules{ExcludePatterns: []string{`(`}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChecker(tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewChecker() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsType(err, errors.Config) {
				t.Errorf("error type = %v, want config", errors.GetErrorType(err))
			}
		})
	}
}

func TestChecker_Allow(t *testing.T) {
	c, err := NewChecker(Rules{
		IncludePatterns: []string{`/shop/`, `/about$`},
		ExcludePatterns: []string{`/shop/cart`},
		SkipAssets:      true,
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		url  string
		want bool
	}{
		{"https://ex.com/shop/shoes", true},
		{"https://ex.com/about", true},
		{"https://ex.com/blog/1", false},
		{"https://ex.com/shop/cart", false},
		{"https://ex.com/shop/catalog.pdf", false},
		{"ftp://ex.com/shop/x", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		if got := c.Allow(tt.url); got != tt.want {
			t.Errorf("Allow(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestChecker_NoRulesAllowsPages(t *testing.T) {
	c, _ := NewChecker(Rules{})
	if !c.Allow("https://ex.com/brochure.PDF") {
		t.Error("assets should pass when SkipAssets is off")
	}
	if !c.Allow("http://ex.com/") {
		t.Error("root should pass")
	}
}

func TestChecker_Filter(t *testing.T) {
	c, _ := NewChecker(DefaultRules())
	got := c.Filter([]string{
		"https://ex.com/",
		"https://ex.com/logo.PNG",
		"https://ex.com/about",
		"https://ex.com/sitemap-posts.xml",
		"https://ex.com/docs/guide.html",
	})
	want := "https://ex.com/,https://ex.com/about,https://ex.com/docs/guide.html"
	if strings.Join(got, ",") != want {
		t.Errorf("Filter() = %v", got)
	}
}

func TestIsAsset(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/img/a.jpg", true},
		{"/files/Report.XLSX", true},
		{"/products", false},
		{"/page.html", false},
		{"/v1.2/intro", false},
	}
	for _, tt := range tests {
		if got := IsAsset(tt.path); got != tt.want {
			t.Errorf("IsAsset(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
