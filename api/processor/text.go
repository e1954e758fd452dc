package processor

import (
	"context"
	"fmt"
	"strings"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
)

const TooShort = "Input text is too short to summarize."

// Text answers or summarizes free text.
type Text struct {
	sum summarizer
}

func NewText(llm Inferer) (*Text, error) {
	sum, err := newSummarizer(llm)
	if err != nil {
		return nil, err
	}
	return &Text{sum: sum}, nil
}

func (t *Text) Process(ctx context.Context, text string) models.Outcome {
	if len(strings.Fields(text)) < constants.MinTextWords {
		return models.Outcome{Summary: TooShort, Failed: true}
	}
	prompt := fmt.Sprintf(`Answer the request below, or summarize it if it is not a question, in at most %d characters.
Write plain prose, no preamble.

%s`, constants.MaxSummaryChars, text)
	return t.sum.summarize(ctx, "text input", prompt, nil)
}
