package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// account names the secret in the platform store; aliasEnv is the
	// provider's conventional variable, consulted after env.
	account  string
	aliasEnv string
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

func str(get func(*Config) *string) (func(*Config, any), func(Config) any) {
	return func(cfg *Config, v any) { *get(cfg) = v.(string) },
		func(cfg Config) any { return *get(&cfg) }
}

func num(get func(*Config) *int) (func(*Config, any), func(Config) any) {
	return func(cfg *Config, v any) { *get(cfg) = v.(int) },
		func(cfg Config) any { return *get(&cfg) }
}

func stringKey(key, env string, get func(*Config) *string) keySpec {
	apply, extract := str(get)
	return keySpec{key: key, typ: kString, env: env, apply: apply, extract: extract}
}

func intKey(key, env string, get func(*Config) *int) keySpec {
	apply, extract := num(get)
	return keySpec{key: key, typ: kInt, env: env, apply: apply, extract: extract}
}

func secretKey(key, env, aliasEnv, account string, get func(*Config) *string) keySpec {
	s := stringKey(key, env, get)
	s.secret, s.aliasEnv, s.account = true, aliasEnv, account
	return s
}

var specs = []keySpec{
	intKey("server.port", "CHATTY_SERVER_PORT", func(c *Config) *int { return &c.Server.Port }),
	stringKey("storage.data_dir", "CHATTY_STORAGE_DATA_DIR", func(c *Config) *string { return &c.Storage.DataDir }),
	stringKey("log.level", "CHATTY_LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),

	stringKey("provider.name", "CHATTY_PROVIDER_NAME", func(c *Config) *string { return &c.Provider.Name }),
	stringKey("provider.model", "CHATTY_PROVIDER_MODEL", func(c *Config) *string { return &c.Provider.Model }),
	stringKey("provider.base_url", "CHATTY_PROVIDER_BASE_URL", func(c *Config) *string { return &c.Provider.BaseURL }),
	stringKey("provider.embed_model", "CHATTY_PROVIDER_EMBED_MODEL", func(c *Config) *string { return &c.Provider.EmbedModel }),
	stringKey("provider.lmstudio_base_url", "CHATTY_PROVIDER_LMSTUDIO_BASE_URL", func(c *Config) *string { return &c.Provider.LMStudioBaseURL }),
	stringKey("provider.ollama_base_url", "CHATTY_PROVIDER_OLLAMA_BASE_URL", func(c *Config) *string { return &c.Provider.OllamaBaseURL }),
	secretKey("provider.openai_api_key", "CHATTY_OPENAI_API_KEY", "OPENAI_API_KEY", "openai_api_key",
		func(c *Config) *string { return &c.Provider.OpenAIAPIKey }),
	secretKey("provider.anthropic_api_key", "CHATTY_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY", "anthropic_api_key",
		func(c *Config) *string { return &c.Provider.AnthropicAPIKey }),
	secretKey("provider.google_api_key", "CHATTY_GOOGLE_API_KEY", "GOOGLE_API_KEY", "google_api_key",
		func(c *Config) *string { return &c.Provider.GoogleAPIKey }),
	secretKey("provider.openrouter_api_key", "CHATTY_OPENROUTER_API_KEY", "OPENROUTER_API_KEY", "openrouter_api_key",
		func(c *Config) *string { return &c.Provider.OpenRouterKey }),

	stringKey("cache.redis_url", "CHATTY_CACHE_REDIS_URL", func(c *Config) *string { return &c.Cache.RedisURL }),
	intKey("share.expiry_days", "CHATTY_SHARE_EXPIRY_DAYS", func(c *Config) *int { return &c.Share.ExpiryDays }),
	intKey("intelligence.analyze_every", "CHATTY_INTELLIGENCE_ANALYZE_EVERY", func(c *Config) *int { return &c.Intelligence.AnalyzeEvery }),

	stringKey("tasks.summarize_schedule", "CHATTY_TASKS_SUMMARIZE_SCHEDULE", func(c *Config) *string { return &c.Tasks.SummarizeSchedule }),
	stringKey("tasks.analyze_schedule", "CHATTY_TASKS_ANALYZE_SCHEDULE", func(c *Config) *string { return &c.Tasks.AnalyzeSchedule }),
	stringKey("tasks.cleanup_schedule", "CHATTY_TASKS_CLEANUP_SCHEDULE", func(c *Config) *string { return &c.Tasks.CleanupSchedule }),
	intKey("tasks.inactivity_minutes", "CHATTY_TASKS_INACTIVITY_MINUTES", func(c *Config) *int { return &c.Tasks.InactivityMinutes }),
	intKey("tasks.archive_days", "CHATTY_TASKS_ARCHIVE_DAYS", func(c *Config) *int { return &c.Tasks.ArchiveDays }),
	intKey("tasks.analyze_limit", "CHATTY_TASKS_ANALYZE_LIMIT", func(c *Config) *int { return &c.Tasks.AnalyzeLimit }),
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" && s.aliasEnv != "" {
			raw = os.Getenv(s.aliasEnv)
		}
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env, using default", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}

// applySecretStore fills secrets still empty after env from the platform store.
func applySecretStore(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := kc.Get("chatty", s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
