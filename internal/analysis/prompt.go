package analysis

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a senior CMS solutions architect preparing an RFP response.
You receive extracted text from a set of web pages, each introduced by a line
"=== PAGE: <url> ===". Identify page templates, reusable UI components,
third-party integrations and implementation recommendations.

Rules:
- The pages array must contain exactly one entry for every supplied URL and no other URLs.
- Copy URLs character for character from the supplied list.
- Every page_type of a page must be the name of an entry in page_types.
- Every component named on a page must also appear in components with that URL in found_on_urls.
- Where a page has little text, infer its template from its URL and neighbours rather than omitting it.
- Respond only by calling ` + ToolName + `.`

// batchPrompt builds the user message for one batch.
func batchPrompt(urls []string, content string, index, total int) string {
	var b strings.Builder
	if total > 1 {
		fmt.Fprintf(&b, "This is batch %d of %d. Analyze only the URLs below.\n\n", index, total)
	}
	fmt.Fprintf(&b, "URLs (%d):\n", len(urls))
	for _, u := range urls {
		b.WriteString("- ")
		b.WriteString(u)
		b.WriteByte('\n')
	}
	b.WriteString("\nPage content:\n")
	if strings.TrimSpace(content) == "" {
		b.WriteString("(no extracted text for these URLs; infer from the URLs)\n")
	} else {
		b.WriteString(content)
		b.WriteByte('\n')
	}
	return b.String()
}
