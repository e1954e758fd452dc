package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient("", "m")
	require.Error(t, err)
	_, err = NewClient("k", " ")
	require.Error(t, err)
}

func TestClient_Infer(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, "<think>hmm</think>  A short summary.  ", &seen)
	defer srv.Close()

	c, err := NewClient("test-key", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	require.NoError(t, err)

	out, err := c.Infer(context.Background(), "summarize this", []string{"passage one", "passage two"})
	require.NoError(t, err)
	require.Equal(t, "A short summary.", out)

	msgs, ok := seen["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	system := msgs[0].(map[string]any)
	require.Equal(t, "system", system["role"])
	require.Contains(t, system["content"], "[2] passage two")
	require.Equal(t, "gpt-4o-mini", seen["model"])
}

func TestClient_InferEmpty(t *testing.T) {
	srv := chatServer(t, "   ", nil)
	defer srv.Close()

	c, err := NewClient("test-key", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	require.NoError(t, err)

	_, err = c.Infer(context.Background(), "x", nil)
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestStripThinkBlocks(t *testing.T) {
	require.Equal(t, "answer", StripThinkBlocks("<think>a</think>answer"))
	require.Equal(t, "before", StripThinkBlocks("before <think>never closed"))
	require.Equal(t, "a b", StripThinkBlocks("a <think>x</think>b"))
}

func TestSpeech_Speak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		require.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))
		require.Equal(t, "secret", r.Header.Get("xi-api-key"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "hello", body["text"])
		_, _ = w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	s, err := NewSpeech("secret", WithSpeechBaseURL(srv.URL), WithSampleRate(16000))
	require.NoError(t, err)
	require.Equal(t, 16000, s.SampleRate())

	audio, err := s.Speak(context.Background(), "hello", "voice-1")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, audio)
}

func TestSpeech_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s, err := NewSpeech("secret", WithSpeechBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = s.Speak(context.Background(), "hello", "voice-1")
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "quota exceeded")
}

func TestSpeech_Validates(t *testing.T) {
	_, err := NewSpeech("")
	require.Error(t, err)

	s, _ := NewSpeech("k")
	_, err = s.Speak(context.Background(), "x", "")
	require.Error(t, err)
}
