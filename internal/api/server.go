// Package api serves the clinic chat web UI, its JSON endpoints, the
// token-protected management API, and the MCP tool surface.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/metrics"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/pipeline"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/session"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/storage"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/uploads"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 64 << 20 // 64MB
)

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Store    *storage.Store
	Uploads  *uploads.Dir
	Sessions *session.Store
	Metrics  *metrics.Metrics

	// Token protects /api. An empty token leaves /api unmounted.
	Token string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// NewHandler returns the full HTTP surface.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Sessions(deps.SecureCookies))

		r.Get("/", handleIndex(deps))
		r.Post("/ask", handleAsk(deps))
		r.Post("/stop_execution", handleStop(deps))
		r.Post("/upload", handleUpload(deps))
		r.Post("/delete_file", handleDeleteFile(deps))
		r.Post("/clear_chat", handleClearChat(deps))
	})

	if deps.Token != "" {
		r.Mount("/api", NewManagementHandler(deps))
	}
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
