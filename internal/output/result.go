package output

import (
	"github.com/PentesterFlow/sitesurvey/internal/analysis"
	"github.com/PentesterFlow/sitesurvey/internal/metrics"
	"github.com/PentesterFlow/sitesurvey/internal/qa"
)

// CrawlOutput is printed by the crawl command.
type CrawlOutput struct {
	Target string                 `json:"target"`
	Corpus string                 `json:"corpus"`
	URLs   []string               `json:"urls"`
	Stats  map[string]interface{} `json:"stats,omitempty"`
}

// AnalysisOutput is printed by the analyze command.
type AnalysisOutput struct {
	Target   string                 `json:"target"`
	ReportID string                 `json:"report_id,omitempty"`
	URLs     []string               `json:"urls"`
	Document *analysis.Document     `json:"document"`
	Stats    map[string]interface{} `json:"stats,omitempty"`
}

// AnswerOutput is printed by the ask command in JSON mode.
type AnswerOutput struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QuestionsOutput is printed by the questions command.
type QuestionsOutput struct {
	Questions []qa.Question `json:"questions"`
}

// Stats returns the summary of s, or nil when stats were not requested.
func Stats(s *metrics.Snapshot, enabled bool) map[string]interface{} {
	if !enabled || s == nil {
		return nil
	}
	return s.Summary()
}
