package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	constants "multisource-digest/api/constants"
	markdown "multisource-digest/api/markdown"
	models "multisource-digest/api/models"
)

// Processor turns one reference into a bounded summary or a failure
// outcome. Collaborator errors never escape as Go errors.
type Processor interface {
	Process(ctx context.Context, ref string) models.Outcome
}

// Inferer is the inference unit the processors summarize with.
type Inferer interface {
	Infer(ctx context.Context, prompt string, passages []string) (string, error)
}

// Fetcher retrieves raw text for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// DocumentStore ingests documents and answers retrieval queries over them.
type DocumentStore interface {
	Ingest(ctx context.Context, sources []string) error
	Query(ctx context.Context, question string, k int, sources ...string) ([]string, error)
}

// maxPromptChars bounds the source text sent along with a prompt.
const maxPromptChars = 24000

var unusablePhrases = []string{
	"insufficient information",
	"not enough information",
	"no relevant information",
	"i don't have enough information",
	"unable to summarize",
}

// Unusable reports whether an inference reply declines to answer.
func Unusable(reply string) bool {
	lower := strings.ToLower(reply)
	for _, p := range unusablePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Placeholder is the summary recorded for a reference that produced no
// usable output.
func Placeholder(ref, reason string) string {
	return fmt.Sprintf("[No summary available for %s: %s]", ref, reason)
}

func failed(summary, warning string) models.Outcome {
	return models.Outcome{Summary: summary, Failed: true, Warning: warning}
}

type summarizer struct {
	llm      Inferer
	maxChars int
}

func newSummarizer(llm Inferer) (summarizer, error) {
	if llm == nil {
		return summarizer{}, errors.New("processor: inference unit must not be nil")
	}
	return summarizer{llm: llm, maxChars: constants.MaxSummaryChars}, nil
}

func (s summarizer) summarize(ctx context.Context, ref, prompt string, passages []string) models.Outcome {
	reply, err := s.llm.Infer(ctx, prompt, passages)
	var reason string
	switch {
	case err != nil:
		reason = err.Error()
	case strings.TrimSpace(reply) == "":
		reason = "empty response"
	case Unusable(reply):
		reason = "insufficient information"
	}
	if reason != "" {
		constants.Logger.Warn("No usable summary", "ref", ref, "reason", reason)
		return failed(Placeholder(ref, reason), fmt.Sprintf("Failed to summarize %s: %s", ref, reason))
	}

	summary := strings.TrimSpace(reply)
	if err := markdown.ValidateSummaryLength(summary, s.maxChars); err != nil {
		constants.Logger.Debug("Clipping summary", "ref", ref, "error", err)
		summary = markdown.Truncate(summary, s.maxChars)
	}
	return models.Outcome{Summary: summary}
}

func summaryPrompt(kind, body string) string {
	return fmt.Sprintf(`Summarize the following %s in at most %d characters.
Keep the key facts, figures and conclusions. Write plain prose, no preamble.
If the content is empty or irrelevant, reply exactly: "Unable to summarize due to insufficient information."

%s`, kind, constants.MaxSummaryChars, markdown.Truncate(body, maxPromptChars))
}
