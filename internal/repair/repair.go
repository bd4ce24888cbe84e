// Package repair coerces language-model output into valid JSON.
//
// Raw text is passed through an ordered list of stages. Each stage is a
// chain of text sanitizers followed by a strict parse; the first stage whose
// output parses wins.
package repair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	serrors "github.com/PentesterFlow/sitesurvey/internal/errors"
)

// Sanitizer is a pure text transform.
type Sanitizer func(string) string

// Stage is one repair attempt.
type Stage struct {
	Name       string
	Sanitizers []Sanitizer
}

// Result is the repaired document and the stage that produced it.
type Result struct {
	JSON  json.RawMessage
	Stage string
}

// Kind selects the top-level JSON shape a pipeline accepts.
type Kind int

const (
	Object Kind = iota
	Array
)

func (k Kind) delimiters() (byte, byte) {
	if k == Array {
		return '[', ']'
	}
	return '{', '}'
}

// Pipeline is an ordered list of stages for one top-level shape.
type Pipeline struct {
	kind   Kind
	stages []Stage
}

var (
	greedyObject = regexp.MustCompile(`(?s)\{.*\}`)
	greedyArray  = regexp.MustCompile(`(?s)\[.*\]`)
)

// NewPipeline returns the default stages for kind: direct parse, sanitized
// parse, first balanced span, and greedy outermost span.
func NewPipeline(kind Kind) *Pipeline {
	open, close := kind.delimiters()
	greedy := greedyObject
	if kind == Array {
		greedy = greedyArray
	}
	return &Pipeline{
		kind: kind,
		stages: []Stage{
			{Name: "direct"},
			{Name: "sanitized", Sanitizers: []Sanitizer{StripFences, EscapeNewlinesInStrings, StripTrailingCommas}},
			{Name: "balanced", Sanitizers: []Sanitizer{StripFences, ExtractBalanced(open, close), EscapeNewlinesInStrings, StripTrailingCommas}},
			{Name: "greedy", Sanitizers: []Sanitizer{StripFences, greedyMatch(greedy), EscapeNewlinesInStrings, StripTrailingCommas}},
		},
	}
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run tries each stage in order and returns the first that parses.
func (p *Pipeline) Run(raw string) (*Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, serrors.NewParseError("", "repair", fmt.Errorf("empty response"))
	}

	var lastErr error
	for _, st := range p.stages {
		text := raw
		for _, s := range st.Sanitizers {
			text = s(text)
		}
		out, err := p.parse(text)
		if err == nil {
			return &Result{JSON: out, Stage: st.Name}, nil
		}
		lastErr = fmt.Errorf("%s: %w", st.Name, err)
	}
	return nil, serrors.NewParseError("", "repair", lastErr)
}

func (p *Pipeline) parse(text string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(text))
	open, _ := p.kind.delimiters()
	if len(trimmed) == 0 || trimmed[0] != open {
		return nil, fmt.Errorf("expected %q at start of document", open)
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return json.RawMessage(trimmed), nil
}

var (
	objectPipeline = NewPipeline(Object)
	arrayPipeline  = NewPipeline(Array)
)

// Repair returns raw as a valid JSON object.
func Repair(raw string) (*Result, error) {
	return objectPipeline.Run(raw)
}

// RepairList returns raw as a valid JSON array.
func RepairList(raw string) (*Result, error) {
	return arrayPipeline.Run(raw)
}

// Decode repairs raw as an object and unmarshals it into v.
func Decode(raw string, v interface{}) (string, error) {
	res, err := Repair(raw)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(res.JSON, v); err != nil {
		return res.Stage, serrors.NewParseError("", "decode", err)
	}
	return res.Stage, nil
}

// DecodeList repairs raw as an array and unmarshals it into v.
func DecodeList(raw string, v interface{}) (string, error) {
	res, err := RepairList(raw)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(res.JSON, v); err != nil {
		return res.Stage, serrors.NewParseError("", "decode", err)
	}
	return res.Stage, nil
}

func greedyMatch(re *regexp.Regexp) Sanitizer {
	return func(s string) string {
		if m := re.FindString(s); m != "" {
			return m
		}
		return s
	}
}
