package api

import (
	"net/http"

	"github.com/kalambet/chatty/internal/chat"
)

type sendMessageRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	ParentID       *int64 `json:"parent_message_id"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

func handleSendMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := deps.Chat.SendMessage(r.Context(), chat.SendRequest{
			ConversationID: req.ConversationID,
			Content:        req.Content,
			ParentID:       req.ParentID,
			Provider:       req.Provider,
			Model:          req.Model,
		})
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"user_message": newMessageView(res.UserMessage),
			"ai_message":   newMessageView(res.AIMessage),
		})
	}
}

func handleBookmark(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		m, err := deps.Chat.ToggleBookmark(id)
		if err != nil {
			writeError(w, err, "message")
			return
		}
		writeJSON(w, http.StatusOK, newMessageView(m))
	}
}

type reactRequest struct {
	Reaction string `json:"reaction"`
}

func handleReact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req reactRequest
		if !decodeBody(w, r, &req) {
			return
		}
		reactions, err := deps.Chat.React(id, req.Reaction)
		if err != nil {
			writeError(w, err, "message")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message_id": id, "reactions": reactions})
	}
}

func handleReplies(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		replies, err := deps.Chat.Replies(id)
		if err != nil {
			writeError(w, err, "message")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message_id": id, "replies": newMessageViews(replies)})
	}
}
