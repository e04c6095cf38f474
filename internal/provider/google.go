package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGoogleEmbedModel = "gemini-embedding-001"

// googleClient uses the Gemini API. Assistant turns map to the "model" role
// and system messages become the SystemInstruction.
type googleClient struct {
	client      *genai.Client
	model       string
	embedModel  string
	temperature float32
	maxTokens   int
}

func newGoogle(ctx context.Context, cfg Config) (*googleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: google API key is not set", ErrNotConfigured)
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = defaultGoogleEmbedModel
	}
	return &googleClient{
		client:      client,
		model:       cfg.Model,
		embedModel:  embedModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// toGenAI converts a transcript into Gemini contents plus an optional system instruction.
func toGenAI(messages []Message) (*genai.Content, []*genai.Content) {
	system, turns := splitSystem(messages)
	var instruction *genai.Content
	if system != "" {
		instruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return instruction, contents
}

func (c *googleClient) Generate(ctx context.Context, messages []Message) (string, error) {
	instruction, contents := toGenAI(messages)
	temp := c.temperature
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: instruction,
		Temperature:       &temp,
		MaxOutputTokens:   int32(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}

func (c *googleClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.client.Models.EmbedContent(ctx, c.embedModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}
