package server

import "encoding/json"

// Request types.
const (
	TypeCrawl     = "crawl"
	TypeAnalyze   = "analyze"
	TypeAsk       = "ask"
	TypeQuestions = "questions"
	TypeReports   = "reports"
	TypeReport    = "report"
)

// Response types.
const (
	TypeResult   = "result"
	TypeError    = "error"
	TypeProgress = "progress"
)

// Request is one client envelope. Every request carries what it needs;
// the server keeps no corpus between requests.
type Request struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// crawl
	URL         string `json:"url,omitempty"`
	MaxPages    int    `json:"max_pages,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	RenderJS    bool   `json:"render_js,omitempty"`
	Sitemap     bool   `json:"sitemap,omitempty"`

	// analyze, ask, questions
	Corpus    string   `json:"corpus,omitempty"`
	URLs      []string `json:"urls,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"`
	Question  string   `json:"question,omitempty"`
	Save      bool     `json:"save,omitempty"`

	// report
	ReportID string `json:"report_id,omitempty"`
}

// Response is one server envelope. A request gets any number of progress
// responses followed by exactly one result or error.
type Response struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ProgressPayload reports one fetched page during a crawl.
type ProgressPayload struct {
	URL      string `json:"url"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
	OK       bool   `json:"ok"`
	Strategy string `json:"strategy,omitempty"`
}
