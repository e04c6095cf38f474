package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chatty/internal/insight"
	"github.com/kalambet/chatty/internal/intelligence"
	"github.com/kalambet/chatty/internal/search"
	"github.com/kalambet/chatty/internal/storage"
)

// MCPIntelligence is the learning-loop surface exposed to MCP clients.
type MCPIntelligence interface {
	Analyze(ctx context.Context, conversationID int64) (intelligence.Analysis, error)
	Profile(userID string) (intelligence.Profile, error)
	History(userID, kind string, limit int) ([]storage.LearningEvent, error)
}

// MCPPersonalizer produces the personalization text for a user.
type MCPPersonalizer interface {
	Context(userID string) (string, error)
	AverageConfidence(userID string) (float64, error)
}

// MCPSearcher abstracts conversation search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, userID, query string, limit int, semantic bool) ([]search.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Intelligence MCPIntelligence
	Profile      MCPPersonalizer
	Search       MCPSearcher
}

// NewMCPServer creates an MCP server with the intelligence tools and the
// user://intelligence resource registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"chatty",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("chatty: conversation history and what has been learned about the user."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_personalized_context",
			mcp.WithDescription("Return the personalization text injected into prompts for a user, with the average confidence of what was learned."),
			mcp.WithString("user_id", mcp.Description("User ID (default default_user)")),
		),
		mcpPersonalizedContext(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_conversation",
			mcp.WithDescription("Extract behavioral insight from a conversation and fold it into its owner's profile."),
			mcp.WithNumber("conversation_id", mcp.Description("Conversation ID"), mcp.Required()),
		),
		mcpAnalyzeConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("learning_history",
			mcp.WithDescription("List the newest learning events for a user."),
			mcp.WithString("user_id", mcp.Description("User ID (default default_user)")),
			mcp.WithString("event_type", mcp.Description("Only events of this type")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 20)")),
		),
		mcpLearningHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("search_conversations",
			mcp.WithDescription("Search past conversations by keyword or semantic similarity."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithBoolean("semantic", mcp.Description("Use the vector index (default false)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithString("user_id", mcp.Description("User ID (default default_user)")),
		),
		mcpSearchConversations(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://intelligence",
			"User Intelligence",
			mcp.WithResourceDescription("Learned profile of the default user as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceIntelligence(deps),
	)

	return s
}

func mcpUser(req mcp.CallToolRequest) string {
	return orDefaultUser(req.GetString("user_id", ""))
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpPersonalizedContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := mcpUser(req)
		text, err := deps.Profile.Context(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("building context failed: %v", err)), nil
		}
		confidence, err := deps.Profile.AverageConfidence(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("reading confidence failed: %v", err)), nil
		}
		return mcpJSON(map[string]any{"context": text, "confidence": confidence}), nil
	}
}

func mcpAnalyzeConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("conversation_id", 0))
		if id <= 0 {
			return mcpError("conversation_id is required"), nil
		}

		analysis, err := deps.Intelligence.Analyze(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, insight.ErrTooFewMessages):
			return mcpError(fmt.Sprintf("conversation %d not found or has no messages", id)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		return mcpJSON(map[string]any{
			"insight": newInsightView(analysis.Insight),
			"learned": newEventViews(analysis.Events),
		}), nil
	}
}

func mcpLearningHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		events, err := deps.Intelligence.History(mcpUser(req), req.GetString("event_type", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("reading history failed: %v", err)), nil
		}
		return mcpJSON(newEventViews(events)), nil
	}
}

func mcpSearchConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", search.DefaultLimit)
		if limit <= 0 {
			limit = search.DefaultLimit
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Search.Search(ctx, mcpUser(req), query, limit, req.GetBool("semantic", false))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type hit struct {
			ConversationID int64   `json:"conversation_id"`
			Title          string  `json:"title"`
			Summary        string  `json:"summary,omitempty"`
			Score          float64 `json:"score"`
			Method         string  `json:"method"`
			MessageCount   int     `json:"message_count"`
		}
		hits := make([]hit, len(results))
		for i, r := range results {
			hits[i] = hit{
				ConversationID: r.Conversation.ID,
				Title:          r.Conversation.Title,
				Summary:        r.Conversation.Summary,
				Score:          r.Score,
				Method:         r.Method,
				MessageCount:   r.MessageCount,
			}
		}
		return mcpJSON(hits), nil
	}
}

func mcpResourceIntelligence(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Intelligence.Profile(storage.DefaultUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
