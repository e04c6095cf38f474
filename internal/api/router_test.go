package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/chatty/internal/analytics"
	"github.com/kalambet/chatty/internal/chat"
	"github.com/kalambet/chatty/internal/intelligence"
	"github.com/kalambet/chatty/internal/profile"
	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/search"
	"github.com/kalambet/chatty/internal/share"
	"github.com/kalambet/chatty/internal/storage"
)

type stubGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (g *stubGenerator) Generate(ctx context.Context, messages []provider.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.response, g.err
}

type testApp struct {
	handler http.Handler
	store   *storage.Store
	gen     *stubGenerator
	deps    AppDeps
}

func testSettings() provider.Settings {
	return provider.Settings{
		Default:   provider.OpenAI,
		Model:     "gpt-test",
		OpenAIKey: "sk-test",
	}
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gen := &stubGenerator{response: "Go, testing"}
	intel := intelligence.NewService(store, nil)
	builder := profile.NewBuilder(store)
	intel.SetInvalidator(builder)

	chatSvc := chat.NewService(store, chat.Config{
		Providers:    testSettings(),
		AnalyzeEvery: 4,
		NewGenerator: func(ctx context.Context, cfg provider.Config) (provider.Generator, error) {
			return gen, nil
		},
	}, builder, intel)

	deps := AppDeps{
		Store:        store,
		Chat:         chatSvc,
		Intelligence: intel,
		Profile:      builder,
		Search:       search.NewService(store, search.NewVectors(store.DB()), nil, ""),
		Share:        share.NewService(store, share.NewSQLiteCache(store)),
		Analytics:    analytics.NewService(store),
		Providers:    testSettings(),
		Now:          func() time.Time { return time.Now().UTC() },
	}
	return &testApp{handler: NewAppHandler(deps), store: store, gen: gen, deps: deps}
}

func (a *testApp) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSON[struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}](t, rr)
	return body.Error.Message
}

// seedConversation creates a conversation with alternating user/ai messages.
func (a *testApp) seedConversation(t *testing.T, title string, texts ...string) storage.Conversation {
	t.Helper()
	c, err := a.store.CreateConversation(storage.Conversation{Title: title, StartedAt: time.Now().Add(-time.Hour).UTC()})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for i, text := range texts {
		sender := storage.SenderUser
		if i%2 == 1 {
			sender = storage.SenderAI
		}
		if _, err := a.store.AddMessage(storage.Message{ConversationID: c.ID, Sender: sender, Content: text}); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	return c
}

func TestHealth(t *testing.T) {
	app := setupApp(t)
	rr := app.do(t, http.MethodGet, "/health", "")
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.String() != `{"status":"ok"}` {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := setupApp(t)
	app.do(t, http.MethodGet, "/api/conversations", "")

	rr := app.do(t, http.MethodGet, "/metrics", "")
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `chatty_http_requests_total{method="GET",route="/api/conversations`) {
		t.Errorf("request metric missing from /metrics output")
	}
}

func TestUnknownRoute(t *testing.T) {
	app := setupApp(t)
	rr := app.do(t, http.MethodGet, "/api/nope", "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestAISettings(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodGet, "/api/settings/ai", "")
	expectStatus(t, rr, http.StatusOK)
	got := decodeJSON[map[string]any](t, rr)
	if got["provider"] != "openai" || got["model"] != "gpt-test" || got["has_openai_key"] != true || got["has_anthropic_key"] != false {
		t.Errorf("settings = %v", got)
	}
	if strings.Contains(rr.Body.String(), "sk-test") {
		t.Error("settings response leaks the API key")
	}

	rr = app.do(t, http.MethodGet, "/api/settings/ai/providers", "")
	expectStatus(t, rr, http.StatusOK)
	providers := decodeJSON[struct {
		Providers []provider.Info `json:"providers"`
		Current   string          `json:"current_provider"`
	}](t, rr)
	if providers.Current != "openai" {
		t.Errorf("current_provider = %q", providers.Current)
	}
	names := map[string]bool{}
	for _, p := range providers.Providers {
		names[p.Name] = true
	}
	if !names["openai"] || !names["lmstudio"] || !names["ollama"] || names["anthropic"] || names["google"] {
		t.Errorf("configured providers = %v", names)
	}
}

func TestTrendsEndpoint(t *testing.T) {
	app := setupApp(t)
	app.seedConversation(t, "one", "hello", "hi")

	rr := app.do(t, http.MethodGet, "/api/analytics/trends?days=7", "")
	expectStatus(t, rr, http.StatusOK)
	got := decodeJSON[analytics.Trends](t, rr)
	if got.Period.Days != 7 || got.Summary.TotalConversations != 1 || got.Summary.TotalMessages != 2 {
		t.Errorf("trends = %+v", got)
	}
}
