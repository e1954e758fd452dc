package processor

import (
	"context"
	"errors"
	"fmt"

	models "multisource-digest/api/models"
)

const pdfQuestion = "What are the main points, findings and conclusions of this document?"

// PDF summarizes documents through the content store: the URL is ingested,
// the most relevant passages are retrieved and the summary is written from
// those passages only.
type PDF struct {
	store DocumentStore
	sum   summarizer
	topK  int
}

func NewPDF(store DocumentStore, llm Inferer, topK int) (*PDF, error) {
	if store == nil {
		return nil, errors.New("processor: content store must not be nil")
	}
	sum, err := newSummarizer(llm)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	return &PDF{store: store, sum: sum, topK: topK}, nil
}

func (p *PDF) Process(ctx context.Context, url string) models.Outcome {
	if err := p.store.Ingest(ctx, []string{url}); err != nil {
		return pdfFailure(url, err)
	}
	passages, err := p.store.Query(ctx, pdfQuestion, p.topK, url)
	if err != nil {
		return pdfFailure(url, err)
	}
	return p.sum.summarize(ctx, url, summaryPrompt("document", "The document is provided as context passages."), passages)
}

func pdfFailure(url string, err error) models.Outcome {
	return failed(fmt.Sprintf("Failed to process PDF: %v", err), fmt.Sprintf("Failed to process PDF %s: %v", url, err))
}
