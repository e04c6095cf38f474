package api

import (
	"net/http"

	"github.com/kalambet/chatty/internal/provider"
)

// Settings are read-only over HTTP; persistent changes go through the CLI.
func handleAISettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := deps.Providers
		writeJSON(w, http.StatusOK, map[string]any{
			"provider":           p.Default,
			"model":              p.Model,
			"embed_model":        p.EmbedModel,
			"has_openai_key":     p.OpenAIKey != "",
			"has_anthropic_key":  p.AnthropicKey != "",
			"has_google_key":     p.GoogleKey != "",
			"has_openrouter_key": p.OpenRouterKey != "",
			"lm_studio_url":      p.LMStudioURL,
			"ollama_url":         p.OllamaURL,
		})
	}
}

func handleAIProviders(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := deps.Providers.Available()
		configured := make([]provider.Info, 0, len(all))
		for _, info := range all {
			if info.Configured {
				configured = append(configured, info)
			}
		}
		var current any
		if len(configured) > 0 {
			current = deps.Providers.Default
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"providers":        configured,
			"current_provider": current,
		})
	}
}
