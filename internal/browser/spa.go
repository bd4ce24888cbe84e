package browser

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// SPAConfig holds the thresholds for the render-fallback decision.
type SPAConfig struct {
	// TextThreshold is the visible-text length (in characters) below which a
	// static fetch is considered suspiciously short.
	TextThreshold int

	// ScriptThreshold is the number of <script> tags above which a short
	// page is treated as client-rendered even without a known marker.
	ScriptThreshold int
}

// DefaultSPAConfig returns the default thresholds.
func DefaultSPAConfig() SPAConfig {
	return SPAConfig{
		TextThreshold:   300,
		ScriptThreshold: 8,
	}
}

// Signals describes what the detector found in raw markup.
type Signals struct {
	ScriptCount int
	Markers     []string
}

// mountIDs are element ids that client frameworks mount into.
var mountIDs = map[string]string{
	"root":      "react-root",
	"app":       "vue-app",
	"__next":    "next",
	"__nuxt":    "nuxt",
	"___gatsby": "gatsby",
	"svelte":    "svelte",
}

// markerAttrs are attributes that only client frameworks emit.
var markerAttrs = map[string]string{
	"data-reactroot":         "react",
	"ng-version":             "angular",
	"ng-app":                 "angularjs",
	"data-ng-app":            "angularjs",
	"data-v-app":             "vue",
	"data-server-rendered":   "vue-ssr",
	"data-sveltekit-hydrate": "sveltekit",
}

// scriptMarkers are substrings of inline scripts or script ids.
var scriptMarkers = map[string]string{
	"__NEXT_DATA__":   "next",
	"window.__NUXT__": "nuxt",
	"__remixContext":  "remix",
	"ng-state":        "angular",
}

// SPADetector decides whether a static fetch should be re-done in a browser.
type SPADetector struct {
	config SPAConfig
}

// NewSPADetector creates a detector. Zero thresholds take the defaults.
func NewSPADetector(config SPAConfig) *SPADetector {
	def := DefaultSPAConfig()
	if config.TextThreshold <= 0 {
		config.TextThreshold = def.TextThreshold
	}
	if config.ScriptThreshold <= 0 {
		config.ScriptThreshold = def.ScriptThreshold
	}
	return &SPADetector{config: config}
}

// Inspect tokenizes raw markup and collects script and framework signals.
// Malformed markup yields whatever was seen before the tokenizer stopped.
func (d *SPADetector) Inspect(rawHTML string) Signals {
	var sig Signals
	seen := make(map[string]bool)
	mark := func(m string) {
		if !seen[m] {
			seen[m] = true
			sig.Markers = append(sig.Markers, m)
		}
	}

	z := html.NewTokenizer(strings.NewReader(rawHTML))
	inScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sig
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "script" {
				sig.ScriptCount++
				inScript = true
			}
			for _, a := range tok.Attr {
				key := strings.ToLower(a.Key)
				if m, ok := markerAttrs[key]; ok {
					mark(m)
				}
				if key == "id" {
					if m, ok := mountIDs[a.Val]; ok {
						mark(m)
					}
					if m, ok := scriptMarkers[a.Val]; ok {
						mark(m)
					}
				}
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "script" {
				inScript = false
			}
		case html.TextToken:
			if !inScript {
				continue
			}
			text := string(z.Text())
			for needle, m := range scriptMarkers {
				if strings.Contains(text, needle) {
					mark(m)
				}
			}
		}
	}
}

// NeedsRender reports whether a static fetch that produced text from
// rawHTML should be retried with the browser.
func (d *SPADetector) NeedsRender(text, rawHTML string) bool {
	if utf8.RuneCountInString(text) >= d.config.TextThreshold {
		return false
	}
	sig := d.Inspect(rawHTML)
	return len(sig.Markers) > 0 || sig.ScriptCount > d.config.ScriptThreshold
}
