package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/chatty/internal/analytics"
	"github.com/kalambet/chatty/internal/chat"
	"github.com/kalambet/chatty/internal/intelligence"
	"github.com/kalambet/chatty/internal/metrics"
	"github.com/kalambet/chatty/internal/profile"
	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/search"
	"github.com/kalambet/chatty/internal/share"
	"github.com/kalambet/chatty/internal/storage"
)

// AppDeps holds everything the HTTP handlers call into.
type AppDeps struct {
	Store        *storage.Store
	Chat         *chat.Service
	Intelligence *intelligence.Service
	Profile      *profile.Builder
	Search       *search.Service
	Share        *share.Service
	Analytics    *analytics.Service
	Providers    provider.Settings

	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

func (d AppDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// NewAppHandler returns the full HTTP surface: /health, /metrics and the
// JSON API under /api.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(deps))
			r.Post("/", handleCreateConversation(deps))
			r.Get("/search", handleSearchConversations(deps))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handleGetConversation(deps))
				r.Delete("/", handleDeleteConversation(deps))
				r.Post("/end", handleEndConversation(deps))
				r.Post("/generate-summary", handleGenerateSummary(deps))
				r.Get("/export/{format}", handleExportConversation(deps))
				r.Post("/share", handleShareConversation(deps))
				r.Get("/stats", handleConversationStats(deps))
			})
		})

		r.Get("/shared/{token}", handleGetShared(deps))
		r.Delete("/shared/{token}", handleRevokeShared(deps))

		r.Route("/messages", func(r chi.Router) {
			r.Post("/send", handleSendMessage(deps))
			r.Post("/{id}/bookmark", handleBookmark(deps))
			r.Post("/{id}/react", handleReact(deps))
			r.Get("/{id}/replies", handleReplies(deps))
		})

		r.Route("/intelligence", func(r chi.Router) {
			r.Post("/query", handleQueryIntelligence(deps))
			r.Post("/analyze/{conversation_id}", handleAnalyzeConversation(deps))
			r.Get("/user", handleUserIntelligence(deps))
			r.Get("/context", handlePersonalizedContext(deps))
			r.Get("/history", handleLearningHistory(deps))
			r.Post("/analyze-all", handleAnalyzeAll(deps))
			r.Delete("/reset", handleResetIntelligence(deps))
		})

		r.Get("/analytics/trends", handleTrends(deps))
		r.Get("/settings/ai", handleAISettings(deps))
		r.Get("/settings/ai/providers", handleAIProviders(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// instrument records request count and latency per matched route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(start).Seconds())
	})
}
