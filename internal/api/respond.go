package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chatty/internal/chat"
	"github.com/kalambet/chatty/internal/export"
	"github.com/kalambet/chatty/internal/insight"
	"github.com/kalambet/chatty/internal/search"
	"github.com/kalambet/chatty/internal/share"
	"github.com/kalambet/chatty/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// writeError maps service errors onto status codes. what names the resource
// in not-found messages.
func writeError(w http.ResponseWriter, err error, what string) {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", verr.Msg)
	case errors.Is(err, insight.ErrTooFewMessages):
		httpError(w, http.StatusNotFound, "not_found", "conversation not found or has no messages")
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s not found", what)
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, share.ErrInvalidExpiry),
		errors.Is(err, export.ErrUnknownFormat):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		slog.Error("request failed", "resource", what, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid %s", key)
		return 0, false
	}
	return id, true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func userParam(r *http.Request) string {
	if u := r.URL.Query().Get("user_id"); u != "" {
		return u
	}
	return storage.DefaultUserID
}

func orDefaultUser(u string) string {
	if u == "" {
		return storage.DefaultUserID
	}
	return u
}
