package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/storage"
)

// NewManagementHandler returns the bearer-protected /api routes.
func NewManagementHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/history", handleListHistory(deps))
	r.Delete("/history", handleClearHistory(deps))
	r.Get("/file", handleGetFile(deps))

	return r
}

type historyPage struct {
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
	Records []storage.ChatRecord `json:"records"`
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 1, 100)
		offset := parseIntParam(r, "offset", 0, 0, 0)

		records, err := deps.Store.ListChats(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list chat history: %v", err)
			return
		}
		total, err := deps.Store.CountChats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count chat history: %v", err)
			return
		}

		if records == nil {
			records = []storage.ChatRecord{}
		}
		writeJSON(w, historyPage{Total: total, Limit: limit, Offset: offset, Records: records})
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.ClearChats(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear chat history: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func handleGetFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := deps.Store.ActiveFile()
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no file uploaded")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read active file: %v", err)
			return
		}
		writeJSON(w, f)
	}
}

// parseIntParam reads an integer query parameter. Missing, malformed or
// below-minVal values give defaultVal; maxVal > 0 caps the result.
func parseIntParam(r *http.Request, key string, defaultVal, minVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < minVal {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
