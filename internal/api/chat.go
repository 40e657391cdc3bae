package api

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/pipeline"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/session"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/storage"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/uploads"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

type indexData struct {
	Filename string
	History  []session.Entry
}

func handleIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := deps.Sessions.Open(SessionID(r.Context()))
		data := indexData{History: sess.History()}

		f, err := deps.Store.ActiveFile()
		switch {
		case err == nil:
			data.Filename = f.Filename
		case !errors.Is(err, storage.ErrNotFound):
			slog.Error("reading active file", "error", err)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTmpl.Execute(w, data); err != nil {
			slog.Error("rendering index", "error", err)
		}
	}
}

type askRequest struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type askResponse struct {
	Response  string `json:"response"`
	RequestID string `json:"request_id,omitempty"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// A malformed body is treated as an empty message so the caller gets
		// the usual in-band reply.
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Debug("ask: undecodable body", "error", err)
		}

		res := deps.Pipeline.Run(r.Context(), pipeline.Request{
			Session:   deps.Sessions.Open(SessionID(r.Context())),
			Message:   req.Message,
			RequestID: req.RequestID,
		})
		writeJSON(w, askResponse{Response: res.Response, RequestID: res.RequestID})
	}
}

type stopRequest struct {
	RequestID string `json:"request_id"`
}

func handleStop(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req stopRequest
		// Body is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)

		sid := SessionID(r.Context())
		n := deps.Pipeline.Interrupts().Stop(sid, req.RequestID)
		deps.Metrics.StopRequested()
		slog.Info("execution stop requested", "session", sid, "request_id", req.RequestID, "stopped", n)

		writeJSON(w, map[string]string{"status": "stopped"})
	}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer http.Redirect(w, r, "/", http.StatusSeeOther)

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			slog.Warn("upload: no file in request", "error", err)
			deps.Metrics.Upload("missing")
			return
		}
		defer file.Close()

		name, err := deps.Uploads.Save(header.Filename, file)
		if err != nil {
			if errors.Is(err, uploads.ErrNotAllowed) || errors.Is(err, uploads.ErrInvalidName) {
				deps.Metrics.Upload("rejected")
			} else {
				deps.Metrics.Upload("error")
			}
			slog.Warn("upload rejected", "filename", header.Filename, "error", err)
			return
		}

		if err := deps.Store.ReplaceActiveFile(name); err != nil {
			deps.Metrics.Upload("error")
			slog.Error("setting active file", "filename", name, "error", err)
			return
		}
		deps.Sessions.Clear(SessionID(r.Context()))
		deps.Metrics.Upload("ok")
		slog.Info("uploaded file", "filename", name, "size", header.Size)
	}
}

func handleDeleteFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer http.Redirect(w, r, "/", http.StatusSeeOther)

		f, err := deps.Store.ActiveFile()
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		if err != nil {
			slog.Error("reading active file", "error", err)
			return
		}

		if err := deps.Uploads.Remove(f.Filename); err != nil {
			slog.Error("removing uploaded file", "filename", f.Filename, "error", err)
		}
		if err := deps.Store.ResetActiveFile(); err != nil {
			slog.Error("clearing active file", "error", err)
			return
		}
		deps.Sessions.Clear(SessionID(r.Context()))
		slog.Info("deleted file", "filename", f.Filename)
	}
}

func handleClearChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Sessions.Clear(SessionID(r.Context()))
		if err := deps.Store.ClearChats(); err != nil {
			slog.Error("clearing chat history", "error", err)
		}
		slog.Info("cleared chat history")
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}
