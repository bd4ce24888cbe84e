// Package qa answers questions about a crawled site and suggests discovery
// questions for the presales conversation. Every call carries its own
// corpus; nothing is kept between calls.
package qa

import (
	"context"
	"strings"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/llm"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
)

const answerPrompt = `You are a CMS presales consultant answering questions about a website.
Answer using only the website content below. When it does not state something
directly, infer a reasonable conclusion from what it does show and say that it
is an inference. Say you don't know only when the content gives no basis at all.

Website content:
`

// DefaultTemperature is used for answers.
const DefaultTemperature = 0.2

// Service answers questions against a corpus.
type Service struct {
	client      llm.Client
	temperature float64
	log         *logger.Logger
}

// NewService creates a Q&A service. log may be nil.
func NewService(client llm.Client, log *logger.Logger) *Service {
	return &Service{
		client:      client,
		temperature: DefaultTemperature,
		log:         logger.OrNop(log).WithComponent("qa"),
	}
}

// Ask answers question using corpus as the only grounding.
func (s *Service) Ask(ctx context.Context, question, corpus string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.NewInputError("ask", "question is empty")
	}
	if strings.TrimSpace(corpus) == "" {
		return "", errors.NewInputError("ask", "no website content; crawl the site first")
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		System:      answerPrompt + corpus,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: question}},
		Temperature: s.temperature,
	})
	if err != nil {
		s.log.ErrorEvent(err, "", "ask")
		return "", err
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", errors.NewParseError("", "ask", errEmptyAnswer)
	}
	return answer, nil
}
