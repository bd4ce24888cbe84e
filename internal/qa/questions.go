package qa

import (
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/llm"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/parser"
	"github.com/PentesterFlow/sitesurvey/internal/repair"
)

//go:embed rfp_questions.json
var defaultCatalog []byte

var errEmptyAnswer = stderrors.New("model returned no text")

// Question is a suggested discovery question. UILabel is shown to the user
// and AIPrompt is what gets asked when they pick it.
type Question struct {
	ID       string `json:"id"`
	UILabel  string `json:"ui_label"`
	AIPrompt string `json:"ai_prompt"`
}

// Catalog is the static question set.
type Catalog struct {
	StaticQuestions []Question `json:"static_questions"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := parseCatalog(defaultCatalog)
	if err != nil {
		panic("qa: embedded catalog is invalid: " + err.Error())
	}
	return c
}

// LoadCatalog reads a catalog file. An empty path yields the built-in
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("questions.catalog_path", err.Error())
	}
	c, err := parseCatalog(data)
	if err != nil {
		return nil, errors.NewConfigError("questions.catalog_path", fmt.Sprintf("%s: %v", path, err))
	}
	return c, nil
}

func parseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// fallbackQuestions are returned when generation fails.
var fallbackQuestions = []Question{
	{
		ID:       "content_modeling",
		UILabel:  "What content types and templates are needed?",
		AIPrompt: "Analyze the website to infer required content types, templates, and reusable content models suitable for CMS implementation.",
	},
	{
		ID:       "navigation_structure",
		UILabel:  "How complex is the site's navigation and IA?",
		AIPrompt: "Evaluate navigation structure, page hierarchy, and internal linking to assess CMS navigation modeling and information architecture complexity.",
	},
}

// Fallback returns up to n fixed questions.
func Fallback(n int) []Question {
	if n > len(fallbackQuestions) {
		n = len(fallbackQuestions)
	}
	if n < 0 {
		n = 0
	}
	return append([]Question(nil), fallbackQuestions[:n]...)
}

const (
	suggestSystem = "You are a CMS architect. Never return an empty array. " +
		"Always return exactly the requested number of questions."

	suggestTemperature = 0.6
	contextBudget      = 6000
)

const suggestPrompt = `You are a SENIOR CMS PRESALES ARCHITECT.

Propose DISCOVERY QUESTIONS that a CMS architect would ask when analyzing THIS
website for an RFP. These are architecture and estimation questions, not content
summaries. Even when the content is thin or generic, still produce relevant
CMS/RFP questions and use the content only to tailor wording and focus.

Return exactly %d questions as a JSON array and nothing else:
[{"id": "snake_case_id", "ui_label": "short one-line question", "ai_prompt": "detailed analysis instruction for this website"}]

Website context (partial):
%s
`

// SuggestOptions configures a Suggester.
type SuggestOptions struct {
	StaticCount int
	AICount     int
	Shuffle     bool
	// Seed fixes the shuffle order when non-zero.
	Seed int64
}

// DefaultSuggestOptions returns two static and two generated questions.
func DefaultSuggestOptions() SuggestOptions {
	return SuggestOptions{StaticCount: 2, AICount: 2, Shuffle: true}
}

// Suggester mixes catalog questions with generated ones.
type Suggester struct {
	client  llm.Client
	catalog *Catalog
	opts    SuggestOptions
	log     *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSuggester creates a suggester. A nil catalog uses the built-in one.
func NewSuggester(client llm.Client, catalog *Catalog, opts SuggestOptions, log *logger.Logger) *Suggester {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Suggester{
		client:  client,
		catalog: catalog,
		opts:    opts,
		log:     logger.OrNop(log).WithComponent("questions"),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Suggest returns the static sample followed by the generated questions.
// Generation problems are logged and replaced by the fallback pair, so
// Suggest does not fail.
func (s *Suggester) Suggest(ctx context.Context, corpus string) []Question {
	out := s.static()
	return append(out, s.Generate(ctx, corpus, s.opts.AICount)...)
}

func (s *Suggester) static() []Question {
	qs := append([]Question(nil), s.catalog.StaticQuestions...)
	if s.opts.Shuffle {
		s.mu.Lock()
		s.rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
		s.mu.Unlock()
	}
	n := s.opts.StaticCount
	if n > len(qs) {
		n = len(qs)
	}
	if n < 0 {
		n = 0
	}
	return qs[:n]
}

// Generate asks the model for n questions tailored to corpus.
func (s *Suggester) Generate(ctx context.Context, corpus string, n int) []Question {
	if n <= 0 {
		return nil
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		System:      suggestSystem,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(suggestPrompt, n, parser.Truncate(corpus, contextBudget))}},
		Temperature: suggestTemperature,
	})
	if err != nil {
		s.log.ErrorEvent(err, "", "generate_questions")
		return Fallback(n)
	}

	var qs []Question
	stage, err := repair.DecodeList(resp.Content, &qs)
	if err != nil {
		s.log.WithError(err).Warn("Generated questions did not parse; using fallback")
		return Fallback(n)
	}
	if len(qs) != n || !complete(qs) {
		s.log.Warnf("Expected %d complete questions, got %d; using fallback", n, len(qs))
		return Fallback(n)
	}
	if stage != "direct" {
		s.log.WithField("stage", stage).Debug("Repaired generated questions")
	}
	for i := range qs {
		if strings.TrimSpace(qs[i].ID) == "" {
			qs[i].ID = fmt.Sprintf("ai_question_%d", i+1)
		}
	}
	return qs
}

func complete(qs []Question) bool {
	for _, q := range qs {
		if strings.TrimSpace(q.UILabel) == "" || strings.TrimSpace(q.AIPrompt) == "" {
			return false
		}
	}
	return true
}
