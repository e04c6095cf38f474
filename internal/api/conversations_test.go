package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/kalambet/chatty/internal/storage"
)

func TestCreateAndListConversations(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodPost, "/api/conversations", `{"metadata":{"source":"test"}}`)
	expectStatus(t, rr, http.StatusCreated)
	created := decodeJSON[conversationView](t, rr)
	if created.Title != fmt.Sprintf("Conversation %d", created.ID) {
		t.Errorf("title = %q", created.Title)
	}
	if created.UserID != storage.DefaultUserID || created.Status != storage.StatusActive {
		t.Errorf("created = %+v", created)
	}

	app.store.AddMessage(storage.Message{ConversationID: created.ID, Sender: storage.SenderUser, Content: "hi"})

	rr = app.do(t, http.MethodGet, "/api/conversations", "")
	expectStatus(t, rr, http.StatusOK)
	list := decodeJSON[[]conversationView](t, rr)
	if len(list) != 1 || list[0].MessageCount != 1 || list[0].Metadata["source"] != "test" {
		t.Errorf("list = %+v", list)
	}

	rr = app.do(t, http.MethodGet, "/api/conversations?user_id=someone-else", "")
	expectStatus(t, rr, http.StatusOK)
	if other := decodeJSON[[]conversationView](t, rr); len(other) != 0 {
		t.Errorf("other user sees %d conversations", len(other))
	}
}

func TestCreateConversation_InvalidBody(t *testing.T) {
	app := setupApp(t)
	rr := app.do(t, http.MethodPost, "/api/conversations", `{"title":`)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestGetAndDeleteConversation(t *testing.T) {
	app := setupApp(t)
	c := app.seedConversation(t, "detail", "question", "answer")

	rr := app.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d", c.ID), "")
	expectStatus(t, rr, http.StatusOK)
	detail := decodeJSON[conversationDetail](t, rr)
	if len(detail.Messages) != 2 || detail.MessageCount != 2 || detail.Messages[1].Sender != storage.SenderAI {
		t.Errorf("detail = %+v", detail)
	}

	rr = app.do(t, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", c.ID), "")
	expectStatus(t, rr, http.StatusOK)

	rr = app.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d", c.ID), "")
	expectStatus(t, rr, http.StatusNotFound)
	if msg := errorMessage(t, rr); msg != "conversation not found" {
		t.Errorf("message = %q", msg)
	}

	rr = app.do(t, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", c.ID), "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestConversation_BadID(t *testing.T) {
	app := setupApp(t)
	for _, path := range []string{"/api/conversations/abc", "/api/conversations/0", "/api/conversations/-3"} {
		rr := app.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, rr.Code)
		}
	}
}

func TestEndConversation(t *testing.T) {
	app := setupApp(t)
	app.gen.response = "A chat about Go."
	c := app.seedConversation(t, "ending", "How do goroutines work?", "They are scheduled by the runtime.")

	rr := app.do(t, http.MethodPost, fmt.Sprintf("/api/conversations/%d/end", c.ID), "")
	expectStatus(t, rr, http.StatusOK)
	got := decodeJSON[struct {
		Conversation conversationDetail `json:"conversation"`
		Summary      string             `json:"summary"`
	}](t, rr)
	if got.Summary != "A chat about Go." || got.Conversation.Status != storage.StatusEnded || got.Conversation.EndedAt == nil {
		t.Errorf("end = %+v", got)
	}
	if got.Conversation.Metadata["message_count"] != float64(2) {
		t.Errorf("metadata = %v", got.Conversation.Metadata)
	}

	rr = app.do(t, http.MethodPost, fmt.Sprintf("/api/conversations/%d/end", c.ID), "")
	expectStatus(t, rr, http.StatusBadRequest)

	rr = app.do(t, http.MethodPost, "/api/conversations/999/end", "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestGenerateSummary(t *testing.T) {
	app := setupApp(t)
	app.gen.response = "Fresh summary."
	c := app.seedConversation(t, "s", "one", "two")

	rr := app.do(t, http.MethodPost, fmt.Sprintf("/api/conversations/%d/generate-summary", c.ID), "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSON[map[string]any](t, rr); got["summary"] != "Fresh summary." {
		t.Errorf("summary = %v", got)
	}

	stored, _ := app.store.GetConversation(c.ID)
	if stored.Summary != "" {
		t.Errorf("generate-summary must not store the summary, got %q", stored.Summary)
	}

	empty := app.seedConversation(t, "empty")
	rr = app.do(t, http.MethodPost, fmt.Sprintf("/api/conversations/%d/generate-summary", empty.ID), "")
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestSearchConversations(t *testing.T) {
	app := setupApp(t)
	app.seedConversation(t, "Kubernetes deployment", "how to deploy", "use helm")
	app.seedConversation(t, "Cooking", "pasta recipe", "boil water")

	rr := app.do(t, http.MethodGet, "/api/conversations/search", "")
	expectStatus(t, rr, http.StatusBadRequest)
	if msg := errorMessage(t, rr); msg != "query parameter 'q' is required" {
		t.Errorf("message = %q", msg)
	}

	rr = app.do(t, http.MethodGet, "/api/conversations/search?q=kubernetes", "")
	expectStatus(t, rr, http.StatusOK)
	got := decodeJSON[struct {
		Results []searchResultView `json:"results"`
	}](t, rr)
	if len(got.Results) != 1 || got.Results[0].Title != "Kubernetes deployment" || got.Results[0].Method != "keyword" {
		t.Fatalf("results = %+v", got.Results)
	}
	if got.Results[0].Score <= 0 || got.Results[0].MessageCount != 2 {
		t.Errorf("result = %+v", got.Results[0])
	}

	// No embedder is configured, so semantic search falls back to keywords.
	rr = app.do(t, http.MethodGet, "/api/conversations/search?q=pasta&semantic=true", "")
	expectStatus(t, rr, http.StatusOK)
	got = decodeJSON[struct {
		Results []searchResultView `json:"results"`
	}](t, rr)
	if len(got.Results) != 1 || got.Results[0].Title != "Cooking" {
		t.Errorf("semantic fallback results = %+v", got.Results)
	}
}

func TestExportConversation(t *testing.T) {
	app := setupApp(t)
	c := app.seedConversation(t, "Exported", "hello", "world")

	rr := app.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d/export/markdown", c.ID), "")
	expectStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	want := fmt.Sprintf(`attachment; filename="conversation_%d.md"`, c.ID)
	if cd := rr.Header().Get("Content-Disposition"); cd != want {
		t.Errorf("Content-Disposition = %q, want %q", cd, want)
	}
	if !strings.HasPrefix(rr.Body.String(), "# Exported\n") {
		t.Errorf("body = %q", rr.Body.String())
	}

	rr = app.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d/export/pdf", c.ID), "")
	expectStatus(t, rr, http.StatusOK)
	if !strings.HasPrefix(rr.Body.String(), "%PDF-") {
		t.Error("pdf export does not start with a PDF header")
	}

	rr = app.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d/export/docx", c.ID), "")
	expectStatus(t, rr, http.StatusBadRequest)

	rr = app.do(t, http.MethodGet, "/api/conversations/999/export/json", "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestShareLifecycle(t *testing.T) {
	app := setupApp(t)
	c := app.seedConversation(t, "Shared", "hello", "world")

	rr := app.do(t, http.MethodPost, fmt.Sprintf("/api/conversations/%d/share", c.ID), `{"expiry_days":3}`)
	expectStatus(t, rr, http.StatusCreated)
	link := decodeJSON[map[string]any](t, rr)
	token, _ := link["share_token"].(string)
	if token == "" || link["share_url"] != "/shared/"+token {
		t.Fatalf("link = %v", link)
	}

	rr = app.do(t, http.MethodGet, "/api/shared/"+token, "")
	expectStatus(t, rr, http.StatusOK)
	shared := decodeJSON[struct {
		Conversation conversationDetail `json:"conversation"`
		Metadata     map[string]any     `json:"share_metadata"`
	}](t, rr)
	if shared.Conversation.ID != c.ID || len(shared.Conversation.Messages) != 2 {
		t.Errorf("shared = %+v", shared)
	}

	rr = app.do(t, http.MethodDelete, "/api/shared/"+token, "")
	expectStatus(t, rr, http.StatusOK)

	rr = app.do(t, http.MethodGet, "/api/shared/"+token, "")
	expectStatus(t, rr, http.StatusNotFound)
	rr = app.do(t, http.MethodDelete, "/api/shared/"+token, "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestShare_InvalidExpiry(t *testing.T) {
	app := setupApp(t)
	c := app.seedConversation(t, "Shared")

	rr := app.do(t, http.MethodPost, fmt.Sprintf("/api/conversations/%d/share", c.ID), `{"expiry_days":-1}`)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = app.do(t, http.MethodPost, "/api/conversations/999/share", "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestConversationStatsEndpoint(t *testing.T) {
	app := setupApp(t)
	c := app.seedConversation(t, "Stats", "one two three", "four five")

	rr := app.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/%d/stats", c.ID), "")
	expectStatus(t, rr, http.StatusOK)
	got := decodeJSON[map[string]any](t, rr)
	words := got["word_counts"].(map[string]any)
	if words["user"] != float64(3) || words["ai"] != float64(2) || words["total"] != float64(5) {
		t.Errorf("word_counts = %v", words)
	}

	rr = app.do(t, http.MethodGet, "/api/conversations/999/stats", "")
	expectStatus(t, rr, http.StatusNotFound)
}
