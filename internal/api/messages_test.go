package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/kalambet/chatty/internal/storage"
)

type sendResponse struct {
	User messageView `json:"user_message"`
	AI   messageView `json:"ai_message"`
}

func TestSendMessage(t *testing.T) {
	app := setupApp(t)
	app.gen.response = "Hello there!"
	c := app.seedConversation(t, "chat")

	rr := app.do(t, http.MethodPost, "/api/messages/send", fmt.Sprintf(`{"conversation_id":%d,"content":"Hi"}`, c.ID))
	expectStatus(t, rr, http.StatusCreated)
	got := decodeJSON[sendResponse](t, rr)
	if got.User.Content != "Hi" || got.User.Sender != storage.SenderUser || got.User.Parent != nil {
		t.Errorf("user message = %+v", got.User)
	}
	if got.AI.Content != "Hello there!" || got.AI.Parent == nil || *got.AI.Parent != got.User.ID {
		t.Errorf("ai message = %+v", got.AI)
	}

	rr = app.do(t, http.MethodGet, fmt.Sprintf("/api/messages/%d/replies", got.User.ID), "")
	expectStatus(t, rr, http.StatusOK)
	replies := decodeJSON[struct {
		Replies []messageView `json:"replies"`
	}](t, rr)
	if len(replies.Replies) != 1 || replies.Replies[0].ID != got.AI.ID {
		t.Errorf("replies = %+v", replies.Replies)
	}
}

func TestSendMessage_ProviderFailureStillPersists(t *testing.T) {
	app := setupApp(t)
	app.gen.err = errors.New("upstream down")
	c := app.seedConversation(t, "chat")

	rr := app.do(t, http.MethodPost, "/api/messages/send", fmt.Sprintf(`{"conversation_id":%d,"content":"Hi"}`, c.ID))
	expectStatus(t, rr, http.StatusCreated)
	got := decodeJSON[sendResponse](t, rr)
	if !strings.HasPrefix(got.AI.Content, "Error generating response: ") {
		t.Errorf("ai content = %q", got.AI.Content)
	}
	if n, _ := app.store.CountMessages(c.ID); n != 2 {
		t.Errorf("stored %d messages, want 2", n)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	app := setupApp(t)
	active := app.seedConversation(t, "active", "first")
	other := app.seedConversation(t, "other", "elsewhere")
	ended, _ := app.store.CreateConversation(storage.Conversation{Status: storage.StatusEnded})
	otherMsgs, _ := app.store.ListMessages(other.ID)

	cases := []struct {
		name string
		body string
		code int
		msg  string
	}{
		{"missing conversation", `{"content":"hi"}`, http.StatusBadRequest, "conversation_id and content are required"},
		{"blank content", fmt.Sprintf(`{"conversation_id":%d,"content":"  "}`, active.ID), http.StatusBadRequest, "conversation_id and content are required"},
		{"unknown conversation", `{"conversation_id":999,"content":"hi"}`, http.StatusNotFound, "conversation not found"},
		{"ended conversation", fmt.Sprintf(`{"conversation_id":%d,"content":"hi"}`, ended.ID), http.StatusBadRequest, "conversation has already ended"},
		{"parent elsewhere", fmt.Sprintf(`{"conversation_id":%d,"content":"hi","parent_message_id":%d}`, active.ID, otherMsgs[0].ID), http.StatusBadRequest, "parent message belongs to a different conversation"},
		{"unknown provider", fmt.Sprintf(`{"conversation_id":%d,"content":"hi","provider":"nope"}`, active.ID), http.StatusBadRequest, ""},
		{"malformed body", `{"conversation_id":`, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := app.do(t, http.MethodPost, "/api/messages/send", tc.body)
			expectStatus(t, rr, tc.code)
			if tc.msg != "" {
				if msg := errorMessage(t, rr); msg != tc.msg {
					t.Errorf("message = %q, want %q", msg, tc.msg)
				}
			}
		})
	}

	if n, _ := app.store.CountMessages(active.ID); n != 1 {
		t.Errorf("rejected sends stored messages: count = %d", n)
	}
}

func TestBookmarkToggle(t *testing.T) {
	app := setupApp(t)
	c := app.seedConversation(t, "b", "remember this")
	msgs, _ := app.store.ListMessages(c.ID)
	path := fmt.Sprintf("/api/messages/%d/bookmark", msgs[0].ID)

	rr := app.do(t, http.MethodPost, path, "")
	expectStatus(t, rr, http.StatusOK)
	if m := decodeJSON[messageView](t, rr); !m.Bookmarked || m.BookmarkedAt == nil {
		t.Errorf("after first toggle = %+v", m)
	}

	rr = app.do(t, http.MethodPost, path, "")
	expectStatus(t, rr, http.StatusOK)
	if m := decodeJSON[messageView](t, rr); m.Bookmarked || m.BookmarkedAt != nil {
		t.Errorf("after second toggle = %+v", m)
	}

	rr = app.do(t, http.MethodPost, "/api/messages/999/bookmark", "")
	expectStatus(t, rr, http.StatusNotFound)
	if msg := errorMessage(t, rr); msg != "message not found" {
		t.Errorf("message = %q", msg)
	}
}

func TestReact(t *testing.T) {
	app := setupApp(t)
	c := app.seedConversation(t, "r", "nice")
	msgs, _ := app.store.ListMessages(c.ID)
	path := fmt.Sprintf("/api/messages/%d/react", msgs[0].ID)

	app.do(t, http.MethodPost, path, `{"reaction":"👍"}`)
	rr := app.do(t, http.MethodPost, path, `{"reaction":"👍"}`)
	expectStatus(t, rr, http.StatusOK)
	got := decodeJSON[struct {
		Reactions map[string]int `json:"reactions"`
	}](t, rr)
	if got.Reactions["👍"] != 2 {
		t.Errorf("reactions = %v", got.Reactions)
	}

	rr = app.do(t, http.MethodPost, path, `{"reaction":""}`)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = app.do(t, http.MethodPost, "/api/messages/999/react", `{"reaction":"👍"}`)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestReplies_UnknownMessage(t *testing.T) {
	app := setupApp(t)
	rr := app.do(t, http.MethodGet, "/api/messages/999/replies", "")
	expectStatus(t, rr, http.StatusNotFound)
}
