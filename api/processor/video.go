package processor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	models "multisource-digest/api/models"
	scraper "multisource-digest/api/scraper"
)

var (
	cueTokens    = regexp.MustCompile(`(?i)\[(music|applause|laughter|inaudible)\]`)
	fillerTokens = regexp.MustCompile(`(?i)\b(um+|uh+|you know)\b,?`)
)

// Video summarizes the caption track of a video.
type Video struct {
	transcripts Fetcher
	sum         summarizer
}

func NewVideo(transcripts Fetcher, llm Inferer) (*Video, error) {
	if transcripts == nil {
		return nil, errors.New("processor: transcript fetcher must not be nil")
	}
	sum, err := newSummarizer(llm)
	if err != nil {
		return nil, err
	}
	return &Video{transcripts: transcripts, sum: sum}, nil
}

func (v *Video) Process(ctx context.Context, url string) models.Outcome {
	transcript, err := v.transcripts.Fetch(ctx, url)
	if err == nil {
		transcript = StripFiller(transcript)
	}
	if err != nil || transcript == "" {
		msg := fmt.Sprintf("No transcript available for %s.", url)
		if err != nil && !errors.Is(err, scraper.ErrNoTranscript) {
			return failed(msg, fmt.Sprintf("Failed to fetch transcript for %s: %v", url, err))
		}
		return failed(msg, msg)
	}
	return v.sum.summarize(ctx, url, summaryPrompt("video transcript", transcript), nil)
}

// StripFiller removes stage cues and spoken filler from a transcript.
func StripFiller(transcript string) string {
	s := cueTokens.ReplaceAllString(transcript, " ")
	s = fillerTokens.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
