package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/PentesterFlow/sitesurvey/internal/llm"
)

// ToolName is the function the model is forced to call.
const ToolName = "submit_rfp_analysis"

func stringArray(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": desc,
		"items":       map[string]interface{}{"type": "string"},
	}
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"required":   required,
		"properties": props,
	}
}

func str(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

// documentSchema describes a batch payload. It doubles as the tool
// parameters and as the validation schema for what comes back.
var documentSchema = object(
	[]string{"overview", "page_types", "components", "pages", "third_party_integrations", "recommendations"},
	map[string]interface{}{
		"overview": object([]string{"total_pages_analyzed"}, map[string]interface{}{
			"site_name":            str("Name of the site or organization"),
			"summary":              str("Two or three sentences on what the site is and does"),
			"complexity":           map[string]interface{}{"type": "string", "enum": []string{"Low", "Medium", "High"}},
			"total_pages_analyzed": map[string]interface{}{"type": "integer"},
		}),
		"page_types": map[string]interface{}{
			"type": "array",
			"items": object([]string{"name", "count", "example_urls"}, map[string]interface{}{
				"name":         str("Template name, e.g. Product Detail"),
				"description":  str("What this template presents"),
				"count":        map[string]interface{}{"type": "integer"},
				"example_urls": stringArray("Up to three URLs from the supplied list"),
			}),
		},
		"components": map[string]interface{}{
			"type": "array",
			"items": object([]string{"name", "found_on_urls"}, map[string]interface{}{
				"name":          str("Component name, e.g. Hero Banner"),
				"description":   str("What the component shows and how editors would use it"),
				"found_on_urls": stringArray("URLs on which the component appears"),
			}),
		},
		"pages": map[string]interface{}{
			"type": "array",
			"items": object([]string{"url", "page_type", "components"}, map[string]interface{}{
				"url":        str("Exactly one of the supplied URLs"),
				"title":      str("Page title"),
				"page_type":  str("Name of one of the page_types"),
				"components": stringArray("Names of components on this page"),
			}),
		},
		"third_party_integrations": map[string]interface{}{
			"type": "array",
			"items": object([]string{"name"}, map[string]interface{}{
				"name":             str("Service or product name"),
				"category":         str("e.g. Analytics, Payments, Search, Forms, Chat"),
				"description":      str("How the site uses it"),
				"detected_on_urls": stringArray("URLs where evidence was found"),
			}),
		},
		"recommendations": stringArray("CMS implementation recommendations"),
	},
)

// Tool returns the function definition sent with every batch.
func Tool() *llm.Tool {
	return &llm.Tool{
		Name:        ToolName,
		Description: "Submit the structured RFP analysis for the supplied pages.",
		Parameters:  documentSchema,
	}
}

// Validator checks batch payloads against the document schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the document schema.
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(documentSchema))
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns one message per schema violation. A nil slice means
// the payload conforms.
func (v *Validator) Validate(payload json.RawMessage) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}
