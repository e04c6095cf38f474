package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultTimeout = 60 * time.Second

// openAIClient serves every OpenAI-compatible backend: OpenAI itself,
// OpenRouter, LM Studio and Ollama's /v1 endpoint.
type openAIClient struct {
	client      *openai.Client
	model       string
	embedModel  string
	temperature float32
	maxTokens   int
}

// headerTransport adds fixed headers to every outgoing request.
type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func newOpenAI(cfg Config) *openAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var rt http.RoundTripper = http.DefaultTransport
	if cfg.Name == OpenRouter {
		h := http.Header{}
		h.Set("HTTP-Referer", "https://github.com/kalambet/chatty")
		h.Set("X-Title", "chatty")
		rt = headerTransport{rt: rt, headers: h}
	}
	oc.HTTPClient = &http.Client{Timeout: timeout, Transport: rt}

	return &openAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		embedModel:  cfg.EmbedModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedModel == "" {
		return nil, fmt.Errorf("%w: no embedding model configured", ErrEmbeddingsUnsupported)
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response is empty")
	}
	return resp.Data[0].Embedding, nil
}
