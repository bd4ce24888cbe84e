package analysis

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Reuse markers written to Component.Reusable.
const (
	ReusableYes = "Yes"
	ReusableNo  = "No"
)

// UncategorizedType is the page type given to pages the model left untyped.
const UncategorizedType = "Uncategorized"

// Document is the RFP analysis of a crawled site.
type Document struct {
	Overview        Overview      `json:"overview"`
	PageTypes       []PageType    `json:"page_types"`
	Components      []Component   `json:"components"`
	Pages           []Page        `json:"pages"`
	Integrations    []Integration `json:"third_party_integrations"`
	Recommendations []string      `json:"recommendations"`
}

// Overview summarizes the site.
type Overview struct {
	SiteName           string `json:"site_name,omitempty"`
	Summary            string `json:"summary,omitempty"`
	Complexity         string `json:"complexity,omitempty"`
	TotalPagesAnalyzed Count  `json:"total_pages_analyzed"`
}

// PageType is a template shared by several pages. The last three fields
// are derived by Annotate.
type PageType struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Count       Count      `json:"count"`
	ExampleURLs StringList `json:"example_urls"`

	Components         string `json:"components,omitempty"`
	ReusableComponents string `json:"reusable_components,omitempty"`
	ComponentCount     int    `json:"component_count"`
}

// Component is a UI building block.
type Component struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	FoundOnURLs StringList `json:"found_on_urls"`
	Reusable    string     `json:"reusable,omitempty"`
}

// Page is one analyzed URL.
type Page struct {
	URL        string     `json:"url"`
	Title      string     `json:"title,omitempty"`
	PageType   string     `json:"page_type"`
	Components StringList `json:"components"`
}

// Integration is a third-party service detected on the site.
type Integration struct {
	Name           string     `json:"name"`
	Category       string     `json:"category,omitempty"`
	Description    string     `json:"description,omitempty"`
	DetectedOnURLs StringList `json:"detected_on_urls"`
}

// Count is an integer that also accepts numeric strings and floats, which
// models emit often enough to matter.
type Count int

func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*c = Count(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Non-numeric counts are treated as unknown.
		*c = 0
		return nil
	}
	*c = Count(int(f))
	return nil
}

// StringList decodes a JSON array of strings, a single string, or an array
// of objects carrying a "name" or "url" field.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = nil
	switch v := raw.(type) {
	case nil:
	case string:
		if s := strings.TrimSpace(v); s != "" {
			*l = StringList{s}
		}
	case []interface{}:
		for _, item := range v {
			if s := listItem(item); s != "" {
				*l = append(*l, s)
			}
		}
	}
	return nil
}

func listItem(item interface{}) string {
	switch v := item.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]interface{}:
		for _, key := range []string{"name", "url"} {
			if s, ok := v[key].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// key folds a model-supplied name for grouping. Output keeps the first
// casing seen.
func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func urlKey(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
