// Package provider normalizes chat completion and embedding calls across LLM
// backends behind a single Generate(messages) -> text contract.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/chatty/internal/metrics"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Google     = "google"
	OpenRouter = "openrouter"
	LMStudio   = "lmstudio"
	Ollama     = "ollama"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000

	openRouterBaseURL = "https://openrouter.ai/api/v1"
	anthropicBaseURL  = "https://api.anthropic.com/"
	lmStudioBaseURL   = "http://localhost:1234/v1"
	ollamaBaseURL     = "http://localhost:11434"
)

var (
	// ErrUnknownProvider is returned for provider names outside the supported set.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotConfigured is returned when a provider lacks its credentials.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrEmbeddingsUnsupported is returned by NewEmbedder for chat-only providers.
	ErrEmbeddingsUnsupported = errors.New("provider does not support embeddings")
)

// Message is one entry of an ordered chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator turns an ordered message list into assistant text.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and parameterizes one backend. It is passed by value; a
// per-request provider or model override resolves a fresh Config from Settings.
type Config struct {
	Name        string
	Model       string
	APIKey      string
	BaseURL     string
	EmbedModel  string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Settings holds credentials and endpoints for every supported backend.
type Settings struct {
	Default       string
	Model         string
	EmbedModel    string
	OpenAIKey     string
	OpenAIBaseURL string
	AnthropicKey  string
	GoogleKey     string
	OpenRouterKey string
	LMStudioURL   string
	OllamaURL     string
}

// Info describes a backend for the settings API. Keys are never included.
type Info struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Local      bool   `json:"local"`
	Model      string `json:"model,omitempty"`
}

var defaultModels = map[string]string{
	OpenAI:     "gpt-4o-mini",
	Anthropic:  "claude-3-5-sonnet-latest",
	Google:     "gemini-2.0-flash",
	OpenRouter: "openai/gpt-4o-mini",
	LMStudio:   "local-model",
	Ollama:     "llama3.2",
}

// Names lists supported providers in display order.
func Names() []string {
	return []string{OpenAI, Anthropic, Google, OpenRouter, LMStudio, Ollama}
}

// Resolve builds the Config for the named provider. Empty name and model fall
// back to the configured defaults.
func (s Settings) Resolve(name, model string) (Config, error) {
	if name == "" {
		name = s.Default
	}
	name = strings.ToLower(name)
	if model == "" && name == strings.ToLower(s.Default) {
		model = s.Model
	}
	if model == "" {
		model = defaultModels[name]
	}

	cfg := Config{
		Name:        name,
		Model:       model,
		EmbedModel:  s.EmbedModel,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	switch name {
	case OpenAI:
		cfg.APIKey, cfg.BaseURL = s.OpenAIKey, s.OpenAIBaseURL
	case Anthropic:
		cfg.APIKey, cfg.BaseURL = s.AnthropicKey, anthropicBaseURL
	case Google:
		cfg.APIKey = s.GoogleKey
	case OpenRouter:
		cfg.APIKey, cfg.BaseURL = s.OpenRouterKey, openRouterBaseURL
	case LMStudio:
		cfg.APIKey, cfg.BaseURL = "lm-studio", strings.TrimRight(orDefault(s.LMStudioURL, lmStudioBaseURL), "/")
	case Ollama:
		cfg.APIKey, cfg.BaseURL = "ollama", strings.TrimRight(orDefault(s.OllamaURL, ollamaBaseURL), "/")+"/v1"
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("%w: %s API key is not set", ErrNotConfigured, name)
	}
	return cfg, nil
}

// Available reports which providers are usable with the current settings.
func (s Settings) Available() []Info {
	var out []Info
	for _, name := range Names() {
		_, err := s.Resolve(name, "")
		info := Info{
			Name:       name,
			Configured: err == nil,
			Local:      name == LMStudio || name == Ollama,
		}
		if strings.EqualFold(name, s.Default) {
			info.Model = s.Model
		}
		out = append(out, info)
	}
	return out
}

// New returns a Generator for cfg. Every call is recorded in the provider metrics.
func New(ctx context.Context, cfg Config) (Generator, error) {
	var g Generator
	switch cfg.Name {
	case OpenAI, OpenRouter, LMStudio, Ollama:
		g = newOpenAI(cfg)
	case Anthropic:
		g = newAnthropic(cfg)
	case Google:
		gg, err := newGoogle(ctx, cfg)
		if err != nil {
			return nil, err
		}
		g = gg
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
	return observed{name: cfg.Name, next: g}, nil
}

// NewEmbedder returns an Embedder for cfg, or ErrEmbeddingsUnsupported.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	switch cfg.Name {
	case OpenAI, OpenRouter, LMStudio, Ollama:
		return newOpenAI(cfg), nil
	case Google:
		g, err := newGoogle(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingsUnsupported, cfg.Name)
	}
}

type observed struct {
	name string
	next Generator
}

func (o observed) Generate(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	out, err := o.next.Generate(ctx, messages)
	metrics.RecordProviderCall(o.name, err, time.Since(start).Seconds())
	return out, err
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// splitSystem separates system instructions from the conversational turns.
// Multiple system messages are joined with blank lines.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}
