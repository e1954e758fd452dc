package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
)

var (
	ErrMalformedRecord = errors.New("router: malformed routing record")
	ErrNoResponse      = errors.New("router: no response from url handler")
)

// Router turns a prompt into a routing record.
type Router interface {
	Route(ctx context.Context, text string) (models.RoutingRecord, error)
}

// Inferer is the inference unit used by the assisted router.
type Inferer interface {
	Infer(ctx context.Context, prompt string, context []string) (string, error)
}

// Local classifies with the deterministic rules only.
type Local struct{}

func (Local) Route(_ context.Context, text string) (models.RoutingRecord, error) {
	return Classify(text), nil
}

// Assisted delegates classification to the inference unit and repairs its
// output. A record that cannot be repaired, even after one correction pass,
// yields ErrMalformedRecord together with the fallback record.
type Assisted struct {
	llm Inferer
}

func NewAssisted(llm Inferer) (*Assisted, error) {
	if llm == nil {
		return nil, errors.New("router: inference unit must not be nil")
	}
	return &Assisted{llm: llm}, nil
}

func (a *Assisted) Route(ctx context.Context, text string) (models.RoutingRecord, error) {
	raw, err := a.llm.Infer(ctx, ClassifierPrompt(text), nil)
	if err != nil {
		return Fallback(text), fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	if strings.TrimSpace(raw) == "" {
		return Fallback(text), ErrNoResponse
	}

	rec, ok := Repair(raw, text)
	if !ok {
		constants.Logger.Warn("Routing record needs correction", "raw", raw)
		corrected, err := a.llm.Infer(ctx, CorrectorPrompt(raw), nil)
		if err != nil {
			return rec, fmt.Errorf("%w: corrector failed: %w", ErrMalformedRecord, err)
		}
		if rec, ok = Repair(corrected, text); !ok || gaveUp(rec) {
			return Fallback(text), fmt.Errorf("%w: %q", ErrMalformedRecord, truncate(corrected, 120))
		}
	}
	return Rebucket(rec), nil
}

// gaveUp reports whether the corrector returned its own failure record.
func gaveUp(rec models.RoutingRecord) bool {
	for _, e := range rec.Errors {
		if e == FailedToCorrect {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const recordShape = `{"pdf_urls":[],"youtube_urls":[],"web_urls":[],"remaining_text":"string","errors":[]}`

// ClassifierPrompt asks the inference unit for a routing record.
func ClassifierPrompt(text string) string {
	return `You classify the URLs found in a prompt and return a single JSON object.

1. Extract URLs with this pattern: (?:https?://|www\.)[^\s<>']+|[^\s<>']+\.(?:com|org|net|edu|gov|io)[^\s<>']*
2. Normalize each URL: add "https://" when the scheme is missing; append ".com" when there is no top-level domain, except for "youtu.be".
3. Classify: "pdf" when the path ends with .pdf; "youtube" when the host is youtube.com or youtu.be and carries a video ID; "webpage" otherwise.
4. remaining_text is the prompt with every URL removed.
5. If no URL is found, add "No valid URLs found" to errors and still return the record.

Return ONLY this structure, with no markdown and no commentary:
` + recordShape + `

Example input: summarize https://example.com/doc.pdf
Example output: {"pdf_urls":["https://example.com/doc.pdf"],"youtube_urls":[],"web_urls":[],"remaining_text":"summarize","errors":[]}

Example input: summarize the
Example output: {"pdf_urls":[],"youtube_urls":[],"web_urls":[],"remaining_text":"summarize the","errors":["No valid URLs found"]}

Prompt:
` + text
}

// CorrectorPrompt asks the inference unit to fix a malformed routing record.
func CorrectorPrompt(raw string) string {
	return `Fix the following output so it is a single valid JSON object with exactly this structure:
` + recordShape + `

Strip markdown fences, close unclosed brackets or quotes, drop nested objects and fill missing fields with empty values.
If it cannot be fixed return: {"pdf_urls":[],"youtube_urls":[],"web_urls":[],"remaining_text":"","errors":["` + FailedToCorrect + `"]}
Return ONLY the JSON.

Output to fix:
` + raw
}
