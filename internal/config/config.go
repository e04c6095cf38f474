package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/chatty/internal/provider"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Log          LogConfig
	Provider     ProviderConfig
	Cache        CacheConfig
	Share        ShareConfig
	Intelligence IntelligenceConfig
	Tasks        TasksConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ProviderConfig struct {
	Name            string
	Model           string
	BaseURL         string
	EmbedModel      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	OpenRouterKey   string
	LMStudioBaseURL string
	OllamaBaseURL   string
}

type CacheConfig struct {
	// RedisURL selects the Redis share cache. Empty keeps shares in SQLite.
	RedisURL string
}

type ShareConfig struct {
	ExpiryDays int
}

type IntelligenceConfig struct {
	AnalyzeEvery int
}

type TasksConfig struct {
	SummarizeSchedule string
	AnalyzeSchedule   string
	CleanupSchedule   string
	InactivityMinutes int
	ArchiveDays       int
	AnalyzeLimit      int
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 8000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Provider: ProviderConfig{
			Name:            provider.OpenAI,
			Model:           "gpt-4o-mini",
			EmbedModel:      "text-embedding-3-small",
			LMStudioBaseURL: "http://localhost:1234/v1",
			OllamaBaseURL:   "http://localhost:11434",
		},
		Share:        ShareConfig{ExpiryDays: 7},
		Intelligence: IntelligenceConfig{AnalyzeEvery: 4},
		Tasks: TasksConfig{
			SummarizeSchedule: "@every 30m",
			AnalyzeSchedule:   "@every 2h",
			CleanupSchedule:   "0 2 * * *",
			InactivityMinutes: 30,
			ArchiveDays:       90,
			AnalyzeLimit:      20,
		},
	}
}

// Load reads configuration from the YAML file backend, a .env file in the
// working directory, environment variables, and the platform secret store.
//
// The file lives at $XDG_CONFIG_HOME/chatty/config.yaml (on macOS under
// ~/Library/Application Support/chatty). Environment variables (CHATTY_*)
// override file values; variables already set win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
	return loadWith(newFileBackend(configFilePath()), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecretStore(&cfg, kc)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, err := c.ProviderSettings().Resolve("", ""); err != nil && !errors.Is(err, provider.ErrNotConfigured) {
		return fmt.Errorf("invalid provider.name %q: %w", c.Provider.Name, err)
	}
	return nil
}

// SlogLevel maps log.level onto a slog level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProviderSettings builds the explicit provider selection passed to the chat
// service and the embedder.
func (c Config) ProviderSettings() provider.Settings {
	p := c.Provider
	return provider.Settings{
		Default:       p.Name,
		Model:         p.Model,
		EmbedModel:    p.EmbedModel,
		OpenAIKey:     p.OpenAIAPIKey,
		OpenAIBaseURL: p.BaseURL,
		AnthropicKey:  p.AnthropicAPIKey,
		GoogleKey:     p.GoogleAPIKey,
		OpenRouterKey: p.OpenRouterKey,
		LMStudioURL:   p.LMStudioBaseURL,
		OllamaURL:     p.OllamaBaseURL,
	}
}

func (t TasksConfig) Inactivity() time.Duration {
	return time.Duration(t.InactivityMinutes) * time.Minute
}

func (t TasksConfig) ArchiveAfter() time.Duration {
	return time.Duration(t.ArchiveDays) * 24 * time.Hour
}

// keychainReader reads secrets from the platform store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
