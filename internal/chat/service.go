// Package chat implements the conversation lifecycle: creating conversations,
// exchanging messages with a provider, ending and summarizing them, and the
// per-message bookmark, reaction and reply operations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/chatty/internal/composer"
	"github.com/kalambet/chatty/internal/intelligence"
	"github.com/kalambet/chatty/internal/metrics"
	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/storage"
	"github.com/kalambet/chatty/internal/summarize"
)

const (
	providerErrorPrefix = "Error generating response: "
	maxQuerySources     = 10
)

// Store is the persistence the chat service needs. Implemented by storage.Store.
type Store interface {
	CreateConversation(c storage.Conversation) (storage.Conversation, error)
	GetConversation(id int64) (storage.Conversation, error)
	ListConversations(userID string, limit, offset int) ([]storage.Conversation, error)
	UpdateConversation(c storage.Conversation) error
	DeleteConversation(id int64) error
	EndedMatching(query string, limit int) ([]storage.Conversation, error)

	AddMessage(m storage.Message) (storage.Message, error)
	GetMessage(id int64) (storage.Message, error)
	ListMessages(conversationID int64) ([]storage.Message, error)
	CountMessages(conversationID int64) (int, error)
	ListReplies(parentID int64) ([]storage.Message, error)
	SetBookmark(id int64, bookmarked bool, at time.Time) error
	AddReaction(id int64, reaction string) (map[string]int, error)

	EnqueueIndex(conversationID int64) (string, error)
}

// Personalizer returns the personalization context of a user.
type Personalizer interface {
	Context(userID string) (string, error)
}

// Analyzer runs the intelligence pipeline over one conversation.
type Analyzer interface {
	Analyze(ctx context.Context, conversationID int64) (intelligence.Analysis, error)
}

// GeneratorFactory builds a Generator for a resolved provider config.
type GeneratorFactory func(ctx context.Context, cfg provider.Config) (provider.Generator, error)

// Config holds the chat service settings.
type Config struct {
	Providers provider.Settings
	// AnalyzeEvery triggers intelligence analysis whenever the message count
	// of a conversation is a multiple of it. Zero disables it.
	AnalyzeEvery int
	// NewGenerator defaults to provider.New.
	NewGenerator GeneratorFactory
}

// Service coordinates storage, providers and the learning loop.
type Service struct {
	store        Store
	cfg          Config
	composer     *composer.Composer
	personalizer Personalizer
	analyzer     Analyzer
	now          func() time.Time
}

// NewService creates a Service. personalizer and analyzer may be nil.
func NewService(store Store, cfg Config, personalizer Personalizer, analyzer Analyzer) *Service {
	if cfg.NewGenerator == nil {
		cfg.NewGenerator = provider.New
	}
	return &Service{
		store:        store,
		cfg:          cfg,
		composer:     composer.New(0),
		personalizer: personalizer,
		analyzer:     analyzer,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Generator resolves a Generator for the given override, falling back to
// the configured default provider and model.
func (s *Service) Generator(ctx context.Context, name, model string) (provider.Generator, error) {
	cfg, err := s.cfg.Providers.Resolve(name, model)
	if err != nil {
		return nil, err
	}
	return s.cfg.NewGenerator(ctx, cfg)
}

// --- Conversations ---

// CreateConversation starts an active conversation. An empty title becomes
// "Conversation <id>".
func (s *Service) CreateConversation(userID, title string, metadata map[string]any) (storage.Conversation, error) {
	c, err := s.store.CreateConversation(storage.Conversation{
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		StartedAt: s.now(),
		Metadata:  metadata,
	})
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	if c.Title == "" {
		c.Title = fmt.Sprintf("Conversation %d", c.ID)
		if err := s.store.UpdateConversation(c); err != nil {
			return storage.Conversation{}, fmt.Errorf("naming conversation %d: %w", c.ID, err)
		}
	}
	return c, nil
}

// Conversation returns a conversation and its messages.
func (s *Service) Conversation(id int64) (storage.Conversation, []storage.Message, error) {
	c, err := s.store.GetConversation(id)
	if err != nil {
		return storage.Conversation{}, nil, err
	}
	msgs, err := s.store.ListMessages(id)
	if err != nil {
		return storage.Conversation{}, nil, fmt.Errorf("listing messages: %w", err)
	}
	return c, msgs, nil
}

// ListConversations returns conversations newest first.
func (s *Service) ListConversations(userID string, limit, offset int) ([]storage.Conversation, error) {
	return s.store.ListConversations(userID, limit, offset)
}

// DeleteConversation removes a conversation and its messages.
func (s *Service) DeleteConversation(id int64) error {
	return s.store.DeleteConversation(id)
}

// EndConversation marks an active conversation ended, stores its summary and
// merges topics, message_count and duration_seconds into its metadata.
// Provider failures leave the summary empty and are logged.
func (s *Service) EndConversation(ctx context.Context, id int64) (storage.Conversation, error) {
	c, msgs, err := s.Conversation(id)
	if err != nil {
		return storage.Conversation{}, err
	}
	if c.Status == storage.StatusEnded {
		return storage.Conversation{}, ErrConversationEnded
	}

	end := s.now()
	c.Status = storage.StatusEnded
	c.EndedAt = &end

	topics := []string{}
	if len(msgs) > 0 {
		gen, err := s.Generator(ctx, "", "")
		if err != nil {
			slog.Warn("no provider for summary", "conversation_id", id, "error", err)
		} else {
			sum := summarize.New(gen)
			if c.Summary, err = sum.Summary(ctx, msgs); err != nil {
				slog.Warn("summarizing conversation failed", "conversation_id", id, "error", err)
			}
			if t, err := sum.Topics(ctx, msgs); err != nil {
				slog.Warn("extracting topics failed", "conversation_id", id, "error", err)
			} else {
				topics = t
			}
		}
	}

	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata["topics"] = topics
	c.Metadata["message_count"] = len(msgs)
	c.Metadata["duration_seconds"] = int64(c.Duration(end).Seconds())

	if err := s.store.UpdateConversation(c); err != nil {
		return storage.Conversation{}, fmt.Errorf("ending conversation %d: %w", id, err)
	}
	if _, err := s.store.EnqueueIndex(id); err != nil {
		slog.Warn("queueing index job failed", "conversation_id", id, "error", err)
	}
	return c, nil
}

// GenerateSummary returns a fresh summary without changing the conversation.
func (s *Service) GenerateSummary(ctx context.Context, id int64) (string, error) {
	_, msgs, err := s.Conversation(id)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", invalid("conversation_id", "conversation has no messages to summarize")
	}
	gen, err := s.Generator(ctx, "", "")
	if err != nil {
		return "", err
	}
	return summarize.New(gen).Summary(ctx, msgs)
}

// QueryResult is the answer to a question about past conversations.
type QueryResult struct {
	Answer  string
	Sources []storage.Conversation
}

// Query answers a question using up to 10 ended conversations, optionally
// narrowed by keywords.
func (s *Service) Query(ctx context.Context, query, keywords string) (QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return QueryResult{}, invalid("query", "query is required")
	}
	convs, err := s.store.EndedMatching(strings.TrimSpace(keywords), maxQuerySources)
	if err != nil {
		return QueryResult{}, fmt.Errorf("selecting conversations: %w", err)
	}
	sources := make([]summarize.Source, 0, len(convs))
	for _, c := range convs {
		msgs, err := s.store.ListMessages(c.ID)
		if err != nil {
			return QueryResult{}, fmt.Errorf("listing messages of %d: %w", c.ID, err)
		}
		sources = append(sources, summarize.Source{Conversation: c, Messages: msgs})
	}

	gen, err := s.Generator(ctx, "", "")
	if err != nil {
		return QueryResult{}, err
	}
	answer, err := summarize.New(gen).Answer(ctx, query, sources)
	if err != nil {
		return QueryResult{}, err
	}
	if len(convs) > 5 {
		convs = convs[:5]
	}
	return QueryResult{Answer: answer, Sources: convs}, nil
}

// --- Messages ---

// SendRequest is one user turn.
type SendRequest struct {
	ConversationID int64
	Content        string
	ParentID       *int64
	// Provider and Model override the configured default for this call only.
	Provider string
	Model    string
}

// SendResult holds both persisted sides of a turn.
type SendResult struct {
	UserMessage storage.Message
	AIMessage   storage.Message
}

// SendMessage stores the user message, asks the provider for a reply and
// stores that reply as a child of the user message. A provider failure is
// stored as the reply text instead of failing the call.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.ConversationID == 0 {
		return SendResult{}, invalid("conversation_id", "conversation_id and content are required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return SendResult{}, invalid("content", "conversation_id and content are required")
	}

	conv, err := s.store.GetConversation(req.ConversationID)
	if err != nil {
		return SendResult{}, err
	}
	if conv.Status != storage.StatusActive {
		return SendResult{}, ErrConversationEnded
	}
	if err := s.checkParent(conv.ID, req.ParentID); err != nil {
		return SendResult{}, err
	}

	cfg, cfgErr := s.cfg.Providers.Resolve(req.Provider, req.Model)
	if errors.Is(cfgErr, provider.ErrUnknownProvider) {
		return SendResult{}, invalid("provider", cfgErr.Error())
	}

	userMsg, err := s.store.AddMessage(storage.Message{
		ConversationID: conv.ID,
		Sender:         storage.SenderUser,
		Content:        req.Content,
		CreatedAt:      s.now(),
		ParentID:       req.ParentID,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("saving user message: %w", err)
	}
	metrics.RecordMessage(storage.SenderUser)

	reply := s.reply(ctx, conv, cfg, cfgErr)

	aiMsg, err := s.store.AddMessage(storage.Message{
		ConversationID: conv.ID,
		Sender:         storage.SenderAI,
		Content:        reply,
		CreatedAt:      s.now(),
		ParentID:       &userMsg.ID,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("saving ai message: %w", err)
	}
	metrics.RecordMessage(storage.SenderAI)

	s.maybeAnalyze(ctx, conv.ID)
	return SendResult{UserMessage: userMsg, AIMessage: aiMsg}, nil
}

func (s *Service) checkParent(conversationID int64, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	parent, err := s.store.GetMessage(*parentID)
	if errors.Is(err, storage.ErrNotFound) {
		return invalid("parent_message_id", "parent message not found")
	}
	if err != nil {
		return fmt.Errorf("loading parent message: %w", err)
	}
	if parent.ConversationID != conversationID {
		return ErrParentMismatch
	}
	return nil
}

func (s *Service) reply(ctx context.Context, conv storage.Conversation, cfg provider.Config, cfgErr error) string {
	if cfgErr != nil {
		slog.Warn("provider unavailable", "conversation_id", conv.ID, "error", cfgErr)
		return providerErrorPrefix + cfgErr.Error()
	}

	history, err := s.store.ListMessages(conv.ID)
	if err != nil {
		return providerErrorPrefix + err.Error()
	}
	personalization := ""
	if s.personalizer != nil {
		if personalization, err = s.personalizer.Context(conv.UserID); err != nil {
			slog.Warn("loading personalization failed", "user_id", conv.UserID, "error", err)
			personalization = ""
		}
	}

	gen, err := s.cfg.NewGenerator(ctx, cfg)
	if err != nil {
		slog.Warn("creating provider client failed", "provider", cfg.Name, "error", err)
		return providerErrorPrefix + err.Error()
	}
	text, err := gen.Generate(ctx, s.composer.Compose(history, personalization))
	if err != nil {
		slog.Warn("provider call failed", "provider", cfg.Name, "conversation_id", conv.ID, "error", err)
		return providerErrorPrefix + err.Error()
	}
	return text
}

// maybeAnalyze runs the learning loop on every AnalyzeEvery-th message.
// Failures never reach the caller.
func (s *Service) maybeAnalyze(ctx context.Context, conversationID int64) {
	if s.analyzer == nil || s.cfg.AnalyzeEvery <= 0 {
		return
	}
	n, err := s.store.CountMessages(conversationID)
	if err != nil || n%s.cfg.AnalyzeEvery != 0 {
		return
	}
	if _, err := s.analyzer.Analyze(ctx, conversationID); err != nil {
		slog.Warn("live analysis failed", "conversation_id", conversationID, "error", err)
	}
}

// ToggleBookmark flips the bookmark flag of a message and returns it.
func (s *Service) ToggleBookmark(messageID int64) (storage.Message, error) {
	m, err := s.store.GetMessage(messageID)
	if err != nil {
		return storage.Message{}, err
	}
	m.Bookmarked = !m.Bookmarked
	at := s.now()
	if err := s.store.SetBookmark(messageID, m.Bookmarked, at); err != nil {
		return storage.Message{}, fmt.Errorf("bookmarking message %d: %w", messageID, err)
	}
	m.BookmarkedAt = nil
	if m.Bookmarked {
		m.BookmarkedAt = &at
	}
	return m, nil
}

// React increments a named reaction on a message.
func (s *Service) React(messageID int64, reaction string) (map[string]int, error) {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" {
		return nil, invalid("reaction", "reaction is required")
	}
	return s.store.AddReaction(messageID, reaction)
}

// Replies returns the direct replies of a message.
func (s *Service) Replies(messageID int64) ([]storage.Message, error) {
	if _, err := s.store.GetMessage(messageID); err != nil {
		return nil, err
	}
	return s.store.ListReplies(messageID)
}
