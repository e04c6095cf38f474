// Package summarize asks a language model for conversation summaries, key
// topics, and answers about past conversations.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/storage"
)

// ErrEmptyConversation is returned when there is nothing to summarize.
var ErrEmptyConversation = errors.New("conversation has no messages")

// Summarizer wraps a Generator with the summary, topic and Q&A prompts.
type Summarizer struct {
	gen provider.Generator
}

// New creates a Summarizer over gen.
func New(gen provider.Generator) *Summarizer {
	return &Summarizer{gen: gen}
}

// Summary returns a concise summary of msgs.
func (s *Summarizer) Summary(ctx context.Context, msgs []storage.Message) (string, error) {
	if len(msgs) == 0 {
		return "", ErrEmptyConversation
	}
	out, err := s.gen.Generate(ctx, BuildSummaryPrompt(msgs))
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Topics returns the key topics of msgs parsed from a comma-separated reply.
// Empty items are dropped.
func (s *Summarizer) Topics(ctx context.Context, msgs []storage.Message) ([]string, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyConversation
	}
	out, err := s.gen.Generate(ctx, BuildTopicsPrompt(msgs))
	if err != nil {
		return nil, fmt.Errorf("extracting topics: %w", err)
	}
	return ParseTopics(out), nil
}

// ParseTopics splits a comma-separated model reply into trimmed topics.
func ParseTopics(reply string) []string {
	topics := []string{}
	for _, t := range strings.Split(reply, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// Answer responds to query using the given past conversations as context.
func (s *Summarizer) Answer(ctx context.Context, query string, sources []Source) (string, error) {
	out, err := s.gen.Generate(ctx, BuildAnswerPrompt(query, sources))
	if err != nil {
		return "", fmt.Errorf("answering query: %w", err)
	}
	return out, nil
}
