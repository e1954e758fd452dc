package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	constants "multisource-digest/api/constants"
	router "multisource-digest/api/router"
)

var ErrNoTranscript = errors.New("scraper: no transcript available")

const captionMarker = `"captionTracks":`

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type timedText struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Body  string `xml:",chardata"`
	} `xml:"text"`
}

// Transcripts reads the caption track of a YouTube video.
type Transcripts struct {
	client   *http.Client
	baseURL  string
	language string
}

type TranscriptOption func(*Transcripts)

// WithWatchBaseURL points watch-page requests at another host.
func WithWatchBaseURL(u string) TranscriptOption {
	return func(t *Transcripts) { t.baseURL = strings.TrimRight(u, "/") }
}

func WithLanguage(code string) TranscriptOption {
	return func(t *Transcripts) { t.language = code }
}

func NewTranscripts(client *http.Client, opts ...TranscriptOption) *Transcripts {
	if client == nil {
		client = &http.Client{Timeout: constants.ScrapeTimeout}
	}
	t := &Transcripts{client: client, baseURL: "https://www.youtube.com", language: "en"}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Fetch returns the transcript text of the video at rawURL, or
// ErrNoTranscript when the video carries no captions.
func (t *Transcripts) Fetch(ctx context.Context, rawURL string) (string, error) {
	id, ok := router.VideoID(rawURL)
	if !ok {
		return "", fmt.Errorf("scraper: not a video url: %s", rawURL)
	}

	page, _, err := get(ctx, t.client, t.baseURL+"/watch?v="+url.QueryEscape(id))
	if err != nil {
		return "", err
	}
	tracks, err := captionTracks(page)
	if err != nil {
		return "", err
	}
	track := t.pick(tracks)

	raw, _, err := get(ctx, t.client, track.BaseURL)
	if err != nil {
		return "", err
	}
	var tt timedText
	if err := xml.Unmarshal(raw, &tt); err != nil {
		return "", fmt.Errorf("scraper: decode transcript for %s: %w", id, err)
	}

	parts := make([]string, 0, len(tt.Texts))
	for _, line := range tt.Texts {
		text := collapse(html.UnescapeString(line.Body))
		if text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoTranscript
	}
	constants.Logger.Info("Fetched transcript", "video", id, "language", track.LanguageCode, "lines", len(parts))
	return strings.Join(parts, " "), nil
}

// pick prefers a manual track in the configured language, then an
// auto-generated one, then whatever comes first.
func (t *Transcripts) pick(tracks []captionTrack) captionTrack {
	var auto *captionTrack
	for i := range tracks {
		if !strings.HasPrefix(tracks[i].LanguageCode, t.language) {
			continue
		}
		if tracks[i].Kind != "asr" {
			return tracks[i]
		}
		if auto == nil {
			auto = &tracks[i]
		}
	}
	if auto != nil {
		return *auto
	}
	return tracks[0]
}

func captionTracks(page []byte) ([]captionTrack, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("scraper: parse watch page: %w", err)
	}

	var tracks []captionTrack
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		body := s.Text()
		idx := strings.Index(body, captionMarker)
		if idx < 0 {
			return true
		}
		list, ok := balancedArray(body[idx+len(captionMarker):])
		if !ok {
			return true
		}
		if err := json.Unmarshal([]byte(list), &tracks); err != nil {
			constants.Logger.Warn("Failed to decode caption tracks", "error", err)
			return true
		}
		return false
	})

	usable := tracks[:0]
	for _, tr := range tracks {
		if tr.BaseURL != "" {
			usable = append(usable, tr)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoTranscript
	}
	return usable, nil
}

// balancedArray returns the JSON array at the start of s.
func balancedArray(s string) (string, bool) {
	s = strings.TrimLeft(s, " \t\n")
	if !strings.HasPrefix(s, "[") {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
