package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
	retry "multisource-digest/api/retry"
)

const WebFailure = "Failed to extract meaningful content from the webpage."

var errThinContent = errors.New("not enough substantive content")

// Web summarizes a webpage. Scraping is retried with exponential backoff and
// jitter; a page with under MinContentChars of text counts as a failed scrape.
type Web struct {
	pages Fetcher
	sum   summarizer
	sleep func(ctx context.Context, d time.Duration) error
}

type WebOption func(*Web)

// WithSleep replaces the wait between scrape attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) WebOption {
	return func(w *Web) { w.sleep = sleep }
}

func NewWeb(pages Fetcher, llm Inferer, opts ...WebOption) (*Web, error) {
	if pages == nil {
		return nil, errors.New("processor: page fetcher must not be nil")
	}
	sum, err := newSummarizer(llm)
	if err != nil {
		return nil, err
	}
	w := &Web{pages: pages, sum: sum}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

func (w *Web) Process(ctx context.Context, url string) models.Outcome {
	text, err := retry.Value(ctx, retry.Policy{
		Name:        "scrape " + url,
		MaxAttempts: constants.ScrapeAttempts,
		Backoff:     retry.Exponential(500*time.Millisecond, 500*time.Millisecond),
		Sleep:       w.sleep,
	}, func(ctx context.Context, _ int) (string, error) {
		text, err := w.pages.Fetch(ctx, url)
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if len([]rune(text)) < constants.MinContentChars {
			return "", fmt.Errorf("%w: %d characters", errThinContent, len([]rune(text)))
		}
		return text, nil
	})
	if err != nil {
		return failed(WebFailure, fmt.Sprintf("Failed to scrape %s: %v", url, err))
	}
	return w.sum.summarize(ctx, url, summaryPrompt("webpage", text), nil)
}
