package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	constants "multisource-digest/api/constants"
)

const maxAudioBytes = 32 << 20

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("speech: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Speech is the speech unit backed by the ElevenLabs text-to-speech API.
// Audio is requested as raw 16-bit mono PCM at SampleRate.
type Speech struct {
	apiKey     string
	baseURL    string
	modelID    string
	sampleRate int
	httpClient *http.Client
}

type SpeechOption func(*Speech)

func WithSpeechBaseURL(u string) SpeechOption {
	return func(s *Speech) { s.baseURL = strings.TrimRight(strings.TrimSpace(u), "/") }
}

func WithSpeechModel(id string) SpeechOption { return func(s *Speech) { s.modelID = id } }

func WithSampleRate(rate int) SpeechOption { return func(s *Speech) { s.sampleRate = rate } }

func WithSpeechHTTPClient(h *http.Client) SpeechOption { return func(s *Speech) { s.httpClient = h } }

func NewSpeech(apiKey string, opts ...SpeechOption) (*Speech, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("speech: api key must not be empty")
	}
	s := &Speech{
		apiKey:     apiKey,
		baseURL:    "https://api.elevenlabs.io",
		modelID:    "eleven_multilingual_v2",
		sampleRate: constants.DefaultSampleRate,
		httpClient: &http.Client{Timeout: constants.SpeechTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// SampleRate is the PCM rate of the audio Speak returns.
func (s *Speech) SampleRate() int { return s.sampleRate }

// Speak converts text to PCM audio spoken with voiceID.
func (s *Speech) Speak(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, errors.New("speech: voice id must not be empty")
	}
	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": s.modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		s.baseURL, url.PathEscape(voiceID), s.sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	constants.Logger.Info("Request duration", "duration", time.Since(start).Seconds(), "voice", voiceID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("speech: timeout calling %s: %w", s.baseURL, err)
		}
		return nil, fmt.Errorf("speech: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint, Body: strings.TrimSpace(string(snippet))}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("speech: read audio: %w", err)
	}
	return audio, nil
}
