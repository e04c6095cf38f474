package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chatty/internal/export"
	"github.com/kalambet/chatty/internal/storage"
)

type createConversationRequest struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)

		convs, err := deps.Chat.ListConversations(userParam(r), limit, offset)
		if err != nil {
			writeError(w, err, "conversations")
			return
		}

		now := deps.now()
		out := make([]conversationView, 0, len(convs))
		for _, c := range convs {
			n, err := deps.Store.CountMessages(c.ID)
			if err != nil {
				writeError(w, err, "conversation")
				return
			}
			out = append(out, newConversationView(c, n, now))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCreateConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createConversationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := deps.Chat.CreateConversation(orDefaultUser(req.UserID), req.Title, req.Metadata)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusCreated, newConversationView(c, 0, deps.now()))
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		c, msgs, err := deps.Chat.Conversation(id)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusOK, newConversationDetail(c, msgs, deps.now()))
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		if err := deps.Chat.DeleteConversation(id); err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleEndConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		c, err := deps.Chat.EndConversation(r.Context(), id)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		_, msgs, err := deps.Chat.Conversation(id)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation": newConversationDetail(c, msgs, deps.now()),
			"summary":      c.Summary,
		})
	}
}

func handleGenerateSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		summary, err := deps.Chat.GenerateSummary(r.Context(), id)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "summary": summary})
	}
}

func handleSearchConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter 'q' is required")
			return
		}
		semantic := strings.EqualFold(r.URL.Query().Get("semantic"), "true")
		limit := parseIntParam(r, "limit", 0, 100)

		results, err := deps.Search.Search(r.Context(), userParam(r), q, limit, semantic)
		if err != nil {
			writeError(w, err, "conversations")
			return
		}
		now := deps.now()
		out := make([]searchResultView, 0, len(results))
		for _, res := range results {
			out = append(out, newSearchResultView(res, now))
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
	}
}

func handleExportConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		c, msgs, err := deps.Chat.Conversation(id)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		doc, err := export.Render(chi.URLParam(r, "format"), c, msgs, deps.now())
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		w.Header().Set("Content-Type", doc.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Filename))
		w.Write(doc.Body)
	}
}

type shareRequest struct {
	ExpiryDays int `json:"expiry_days"`
}

func handleShareConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req shareRequest
		if !decodeBody(w, r, &req) {
			return
		}
		link, err := deps.Share.Create(r.Context(), id, req.ExpiryDays)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusCreated, link)
	}
}

func handleConversationStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		st, err := deps.Analytics.ConversationStats(id)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleGetShared(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shared, err := deps.Share.Get(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			writeError(w, err, "shared conversation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation":   newConversationDetail(shared.Conversation, shared.Messages, deps.now()),
			"share_metadata": shared.Metadata,
		})
	}
}

func handleRevokeShared(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Share.Revoke(r.Context(), chi.URLParam(r, "token")); err != nil {
			writeError(w, err, "shared conversation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}

func handleTrends(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trends, err := deps.Analytics.Trends(parseIntParam(r, "days", 30, 365))
		if err != nil {
			writeError(w, err, "analytics")
			return
		}
		writeJSON(w, http.StatusOK, trends)
	}
}

// countMessages is used where only a conversation row is at hand.
func countMessages(deps AppDeps, c storage.Conversation) int {
	n, err := deps.Store.CountMessages(c.ID)
	if err != nil {
		return 0
	}
	return n
}
