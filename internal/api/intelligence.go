package api

import (
	"net/http"
	"time"

	"github.com/kalambet/chatty/internal/storage"
)

// maxAnalyzeAll caps how many conversations one analyze-all call visits.
const maxAnalyzeAll = 1000

type queryRequest struct {
	Query          string `json:"query"`
	SearchKeywords string `json:"search_keywords"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func (u userRequest) resolve(r *http.Request) string {
	if u.UserID != "" {
		return u.UserID
	}
	return userParam(r)
}

func handleQueryIntelligence(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := deps.Chat.Query(r.Context(), req.Query, req.SearchKeywords)
		if err != nil {
			writeError(w, err, "conversations")
			return
		}
		now := deps.now()
		sources := make([]conversationView, 0, len(res.Sources))
		for _, c := range res.Sources {
			sources = append(sources, newConversationView(c, countMessages(deps, c), now))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"answer":                 res.Answer,
			"relevant_conversations": sources,
		})
	}
}

type insightView struct {
	ConversationID     int64    `json:"conversation_id"`
	UserID             string   `json:"user_id"`
	AvgMessageLength   int      `json:"avg_message_length"`
	Topics             []string `json:"topics_discussed"`
	QuestionTypes      []string `json:"question_types"`
	FollowUps          int      `json:"follow_up_questions"`
	Clarifications     int      `json:"clarification_requests"`
	ConversationLength int      `json:"conversation_length"`
	SessionSeconds     int64    `json:"session_duration"`
	Preferences        struct {
		Detailed   *bool `json:"detailed_responses"`
		Code       *bool `json:"code_examples"`
		StepByStep *bool `json:"step_by_step"`
	} `json:"preferences"`
}

func newInsightView(in storage.Insight) insightView {
	v := insightView{
		ConversationID:     in.ConversationID,
		UserID:             in.UserID,
		AvgMessageLength:   in.AvgMessageLength,
		Topics:             nonNilStrings(in.Topics),
		QuestionTypes:      nonNilStrings(in.QuestionTypes),
		FollowUps:          in.FollowUps,
		Clarifications:     in.Clarifications,
		ConversationLength: in.ConversationLength,
		SessionSeconds:     in.SessionSeconds,
	}
	v.Preferences.Detailed = in.PrefersDetailed
	v.Preferences.Code = in.PrefersCode
	v.Preferences.StepByStep = in.PrefersStepByStep
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func handleAnalyzeConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "conversation_id")
		if !ok {
			return
		}
		analysis, err := deps.Intelligence.Analyze(r.Context(), id)
		if err != nil {
			writeError(w, err, "conversation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"insight": newInsightView(analysis.Insight),
			"learned": newEventViews(analysis.Events),
		})
	}
}

func handleUserIntelligence(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userParam(r)
		p, err := deps.Intelligence.Profile(userID)
		if err != nil {
			writeError(w, err, "profile")
			return
		}
		st, err := deps.Intelligence.Stats(userID)
		if err != nil {
			writeError(w, err, "profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profile": p, "stats": st})
	}
}

func handlePersonalizedContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userParam(r)
		text, err := deps.Profile.Context(userID)
		if err != nil {
			writeError(w, err, "profile")
			return
		}
		confidence, err := deps.Profile.AverageConfidence(userID)
		if err != nil {
			writeError(w, err, "profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"context": text, "confidence": confidence})
	}
}

func handleLearningHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		events, err := deps.Intelligence.History(userParam(r), r.URL.Query().Get("event_type"), limit)
		if err != nil {
			writeError(w, err, "learning history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": newEventViews(events)})
	}
}

func handleAnalyzeAll(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if !decodeBody(w, r, &req) {
			return
		}
		n, err := deps.Intelligence.AnalyzeUser(r.Context(), req.resolve(r), maxAnalyzeAll)
		if err != nil {
			writeError(w, err, "conversations")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"analyzed":             n,
			"intelligence_updated": n > 0,
			"completed_at":         deps.now().Format(time.RFC3339),
		})
	}
}

func handleResetIntelligence(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if !decodeBody(w, r, &req) {
			return
		}
		counts, err := deps.Intelligence.Reset(req.resolve(r))
		if err != nil {
			writeError(w, err, "profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"deleted": map[string]int64{
				"intelligence_records": counts.Intelligence,
				"insights":             counts.Insights,
				"learning_events":      counts.Events,
			},
		})
	}
}
