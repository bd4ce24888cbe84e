package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
)

// GeminiProvider calls Google Gemini through the official SDK.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiProvider creates the SDK client. APIURL, when set, overrides the
// service endpoint.
func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.APIURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.New(errors.Config, "", "gemini_client", "failed to create Gemini client", err)
	}
	return &GeminiProvider{client: client, model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.NewInputError("gemini_complete", "no messages")
	}

	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(float32(req.Temperature))
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	model.SetMaxOutputTokens(int32(maxTokens))
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Tool != nil {
		model.Tools = []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        req.Tool.Name,
				Description: req.Tool.Description,
				Parameters:  toGeminiSchema(req.Tool.Parameters),
			}},
		}}
		model.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingAny,
				AllowedFunctionNames: []string{req.Tool.Name},
			},
		}
	}

	cs := model.StartChat()
	last := len(req.Messages) - 1
	for _, m := range req.Messages[:last] {
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	out, err := cs.SendMessage(ctx, genai.Text(req.Messages[last].Content))
	if err != nil {
		return nil, categorizeGemini(err)
	}
	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil {
		return nil, errors.NewParseError("", "gemini_response", errEmptyChoices)
	}

	cand := out.Candidates[0]
	resp := &Response{FinishReason: cand.FinishReason.String()}
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil {
				return nil, errors.NewParseError("", "gemini_function_args", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{Name: v.Name, Arguments: string(args)})
		}
	}
	resp.Content = text.String()
	return resp, nil
}

// Close releases the SDK client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func geminiRole(role string) string {
	if role == RoleAssistant {
		return "model"
	}
	return "user"
}

func categorizeGemini(err error) error {
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		if se := errors.CategorizeHTTPStatus(apiErr.Code, ""); se != nil {
			se.Cause = err
			return se
		}
	}
	return errors.Categorize(err, "")
}

// toGeminiSchema converts the JSON-schema subset used by tool definitions.
func toGeminiSchema(m map[string]interface{}) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = geminiType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := m["enum"].([]string); ok {
		s.Enum = enum
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		s.Items = toGeminiSchema(items)
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if child, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = toGeminiSchema(child)
			}
		}
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = req
	case []interface{}:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}
