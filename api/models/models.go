package models

import "encoding/json"

// Bucket tags a class of content a processor handles.
type Bucket string

const (
	BucketPDF   Bucket = "pdf"
	BucketVideo Bucket = "video"
	BucketWeb   Bucket = "web"
	BucketText  Bucket = "text"
)

// RoutingRecord is the structured classification of a prompt.
// Every field is always present in its JSON form, even when empty.
type RoutingRecord struct {
	PDFURLs       []string `json:"pdf_urls"`
	YouTubeURLs   []string `json:"youtube_urls"`
	WebURLs       []string `json:"web_urls"`
	RemainingText string   `json:"remaining_text"`
	Errors        []string `json:"errors"`
}

// NewRoutingRecord returns a record with non-nil slices.
func NewRoutingRecord() RoutingRecord {
	return RoutingRecord{
		PDFURLs:     []string{},
		YouTubeURLs: []string{},
		WebURLs:     []string{},
		Errors:      []string{},
	}
}

// HasURLs reports whether any URL bucket is non-empty.
func (r RoutingRecord) HasURLs() bool {
	return len(r.PDFURLs) > 0 || len(r.YouTubeURLs) > 0 || len(r.WebURLs) > 0
}

// URLs returns the URLs of one bucket.
func (r RoutingRecord) URLs(b Bucket) []string {
	switch b {
	case BucketPDF:
		return r.PDFURLs
	case BucketVideo:
		return r.YouTubeURLs
	case BucketWeb:
		return r.WebURLs
	}
	return nil
}

type Speaker string

const (
	SpeakerA Speaker = "A"
	SpeakerB Speaker = "B"
)

// ConversationSegment is one speaker turn. VoiceID is derived from Speaker.
type ConversationSegment struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
}

// Outcome is what a processor returns for one reference.
type Outcome struct {
	Summary string
	Failed  bool
	Warning string
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusCached = "cached"
)

// Metadata travels with a WorkflowResult and is serialized into the cache.
type Metadata struct {
	Warnings   []string       `json:"warnings"`
	Status     string         `json:"status,omitempty"`
	Routing    *RoutingRecord `json:"routing,omitempty"`
	Artifacts  []string       `json:"artifacts,omitempty"`
	AudioURL   string         `json:"audio_url,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// WorkflowResult is returned by a run and stored in the response cache.
type WorkflowResult struct {
	Content  string   `json:"content"`
	Audio    string   `json:"audio,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// ArtifactPaths lists every local file the result depends on.
func (r WorkflowResult) ArtifactPaths() []string {
	var paths []string
	if r.Audio != "" {
		paths = append(paths, r.Audio)
	}
	return append(paths, r.Metadata.Artifacts...)
}

// CacheEntry is one persisted row of the response cache.
type CacheEntry struct {
	Prompt    string          `json:"prompt"`
	Response  json.RawMessage `json:"response"`
	Timestamp int64           `json:"timestamp"`
}
