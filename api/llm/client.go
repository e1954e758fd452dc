package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	constants "multisource-digest/api/constants"
)

var ErrEmptyResponse = errors.New("llm: empty response")

// Client is the inference unit backed by an OpenAI-compatible chat API.
type Client struct {
	api         openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

type Option func(*clientConfig)

type clientConfig struct {
	baseURL     string
	httpClient  *http.Client
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

func WithBaseURL(u string) Option { return func(c *clientConfig) { c.baseURL = u } }

func WithHTTPClient(h *http.Client) Option { return func(c *clientConfig) { c.httpClient = h } }

func WithTemperature(t float64) Option { return func(c *clientConfig) { c.temperature = t } }

func WithMaxTokens(n int64) Option { return func(c *clientConfig) { c.maxTokens = n } }

func WithTimeout(d time.Duration) Option { return func(c *clientConfig) { c.timeout = d } }

func NewClient(apiKey, model string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: api key must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("llm: model must not be empty")
	}
	cfg := clientConfig{temperature: 0.6, maxTokens: 2048, timeout: constants.LlmTimeout}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(cfg.timeout),
		option.WithMaxRetries(1),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Client{
		api:         openai.NewClient(reqOpts...),
		model:       model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
	}, nil
}

// Infer sends prompt with optional retrieval passages and returns the
// trimmed completion text. Empty output is reported as ErrEmptyResponse.
func (c *Client) Infer(ctx context.Context, prompt string, passages []string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if len(passages) > 0 {
		messages = append(messages, openai.SystemMessage(contextBlock(passages)))
	}
	messages = append(messages, openai.UserMessage(prompt))

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	})
	constants.Logger.Debug("Inference request", "model", c.model, "duration", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("timeout calling inference API: %w", err)
		}
		return "", fmt.Errorf("failed to call inference API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := StripThinkBlocks(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func contextBlock(passages []string) string {
	var b strings.Builder
	b.WriteString("Use only the following context to answer. If it does not contain the answer, say you have insufficient information.\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, strings.TrimSpace(p))
	}
	return b.String()
}

// StripThinkBlocks removes <think>...</think> reasoning sections some models
// emit ahead of the answer.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end < 0 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}
