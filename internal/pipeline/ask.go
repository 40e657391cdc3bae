// Package pipeline answers one chat question about the active dataset:
// validation, file loading, the cancellable work phase, prompt composition,
// the model call, formatting, and bookkeeping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/composer"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/dataset"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/formatter"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/interrupt"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/llm"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/metrics"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/session"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/storage"
)

// Fixed replies.
const (
	MsgInvalid   = "Please enter a valid message."
	MsgNoFile    = "⚠️ No file uploaded. Please upload a CSV first."
	MsgStopped   = "Request stopped by user."
	msgLoadError = "Error loading CSV file: %v"
	msgLLMError  = "Error generating response: %v"
)

// Outcome classifies how a question ended.
type Outcome string

const (
	OutcomeInvalid   Outcome = "invalid"
	OutcomeNoFile    Outcome = "no_file"
	OutcomeLoadError Outcome = "load_error"
	OutcomeStopped   Outcome = "stopped"
	OutcomeLLMError  Outcome = "llm_error"
	OutcomeAnswered  Outcome = "answered"
)

// Result is the reply to one question.
type Result struct {
	Response  string
	Outcome   Outcome
	RequestID string
	Filename  string
}

// Store is the persistence the pipeline needs.
type Store interface {
	ActiveFile() (storage.ActiveFile, error)
	AppendChat(message, response string) (int64, error)
}

// Files resolves a stored filename to its path on disk.
type Files interface {
	Path(name string) string
}

// Config tunes the pipeline. Zero values take the defaults.
type Config struct {
	Chunks          int
	ChunkDelay      time.Duration
	SampleRows      int
	MaxHistoryChars int
}

const (
	defaultChunks     = 10
	defaultChunkDelay = 500 * time.Millisecond
)

// Pipeline answers questions. It is safe for concurrent use.
type Pipeline struct {
	store      Store
	files      Files
	model      llm.Completer
	interrupts *interrupt.Registry
	metrics    *metrics.Metrics
	cfg        Config
}

// New creates a Pipeline. m may be nil.
func New(store Store, files Files, model llm.Completer, interrupts *interrupt.Registry, m *metrics.Metrics, cfg Config) *Pipeline {
	if cfg.Chunks <= 0 {
		cfg.Chunks = defaultChunks
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	} else if cfg.ChunkDelay == 0 {
		cfg.ChunkDelay = defaultChunkDelay
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = composer.DefaultMaxRows
	}
	if cfg.MaxHistoryChars <= 0 {
		cfg.MaxHistoryChars = composer.DefaultMaxHistoryChars
	}
	return &Pipeline{
		store:      store,
		files:      files,
		model:      model,
		interrupts: interrupts,
		metrics:    m,
		cfg:        cfg,
	}
}

// Interrupts returns the registry stop requests should go to.
func (p *Pipeline) Interrupts() *interrupt.Registry { return p.interrupts }

// Request is one question from one session.
type Request struct {
	Session *session.Session
	Message string
	// RequestID lets the caller stop this run without stopping other runs of
	// the same session.
	RequestID string
}

// Ask answers message for sess.
func (p *Pipeline) Ask(ctx context.Context, sess *session.Session, message string) Result {
	return p.Run(ctx, Request{Session: sess, Message: message})
}

// Run answers req. Stopped, invalid, and load-failure runs leave history and
// the chat log untouched.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	done := p.metrics.AskStarted()
	defer done()

	runCtx, tok := p.interrupts.Arm(ctx, req.Session.ID(), req.RequestID)
	defer tok.Complete()

	res := p.run(ctx, runCtx, tok, req)
	res.RequestID = tok.RequestID()
	p.metrics.AskFinished(string(res.Outcome))
	slog.Info("question handled",
		"session", req.Session.ID(),
		"request_id", res.RequestID,
		"outcome", res.Outcome,
		"file", res.Filename,
	)
	return res
}

func (p *Pipeline) run(ctx, runCtx context.Context, tok *interrupt.Token, req Request) Result {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Result{Response: MsgInvalid, Outcome: OutcomeInvalid}
	}

	file, err := p.store.ActiveFile()
	if errors.Is(err, storage.ErrNotFound) {
		return Result{Response: MsgNoFile, Outcome: OutcomeNoFile}
	}
	if err != nil {
		slog.Error("reading active file", "error", err)
		return Result{Response: MsgNoFile, Outcome: OutcomeNoFile}
	}

	tbl, err := dataset.Load(p.files.Path(file.Filename))
	if err != nil {
		slog.Warn("loading dataset", "file", file.Filename, "error", err)
		return Result{Response: fmt.Sprintf(msgLoadError, err), Outcome: OutcomeLoadError, Filename: file.Filename}
	}

	if tok.Stopped() || !p.work(runCtx, tok) {
		return Result{Response: MsgStopped, Outcome: OutcomeStopped, Filename: file.Filename}
	}

	prompt := composer.Build(composer.Input{
		Message:         msg,
		Table:           tbl,
		History:         req.Session.History(),
		MaxRows:         p.cfg.SampleRows,
		MaxHistoryChars: p.cfg.MaxHistoryChars,
	})
	slog.Debug("sending prompt", "tokens_est", composer.EstimateTokens(prompt), "rows", tbl.Len())

	// The model call runs on the request context, not the run context, so a
	// stop arriving now does not abort it.
	start := time.Now()
	text, err := p.model.Complete(ctx, prompt)
	p.metrics.ObserveLLM(time.Since(start), err)

	res := Result{Outcome: OutcomeAnswered, Filename: file.Filename}
	if err != nil {
		slog.Error("model call failed", "error", err)
		res.Response = fmt.Sprintf(msgLLMError, err)
		res.Outcome = OutcomeLLMError
	} else {
		res.Response = formatter.Format(text)
	}

	req.Session.Add(msg, res.Response)
	if _, err := p.store.AppendChat(msg, res.Response); err != nil {
		slog.Error("saving chat history", "error", err)
	}
	return res
}

// work runs the pausable work phase. It reports false when the run was
// stopped or its context ended.
func (p *Pipeline) work(ctx context.Context, tok *interrupt.Token) bool {
	timer := time.NewTimer(p.cfg.ChunkDelay)
	defer timer.Stop()

	for i := 0; i < p.cfg.Chunks; i++ {
		if i > 0 {
			timer.Reset(p.cfg.ChunkDelay)
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
		if tok.Stopped() {
			return false
		}
	}
	return true
}
