// Package llm selects and wraps the text-completion backend used to answer
// questions about the uploaded dataset.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/ollama"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/proxy"
)

// Completer turns a prompt into model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Completer.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Supported backends.
const (
	BackendOpenRouter = "openrouter"
	BackendGemini     = "gemini"
	BackendOllama     = "ollama"
)

// Default model per backend.
var defaultModels = map[string]string{
	BackendOpenRouter: "google/gemini-2.0-flash-001",
	BackendGemini:     "gemini-2.0-flash",
	BackendOllama:     "llama3.2",
}

// Config selects a backend.
type Config struct {
	Backend           string
	Model             string
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
}

// ModelName returns the configured model or the backend default.
func (c Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return defaultModels[strings.ToLower(c.Backend)]
}

// modelClient is implemented by the proxy and ollama clients.
type modelClient interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

type bound struct {
	client modelClient
	model  string
}

func (b bound) Complete(ctx context.Context, prompt string) (string, error) {
	return b.client.Complete(ctx, b.model, prompt)
}

// New builds the Completer described by cfg, wrapped in a rate limiter when
// cfg.RequestsPerMinute > 0.
func New(ctx context.Context, cfg Config) (Completer, error) {
	backend := strings.ToLower(cfg.Backend)
	if backend == "" {
		backend = BackendOpenRouter
	}
	cfg.Backend = backend
	model := cfg.ModelName()

	var c Completer
	switch backend {
	case BackendOpenRouter:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openrouter backend requires llm.api_key")
		}
		client := proxy.NewClient(cfg.APIKey)
		if cfg.BaseURL != "" {
			client = proxy.NewClientWithBaseURL(cfg.APIKey, cfg.BaseURL)
		}
		c = bound{client: client, model: model}
	case BackendOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ollama.DefaultBaseURL
		}
		c = bound{client: ollama.New(baseURL), model: model}
	case BackendGemini:
		g, err := newGemini(ctx, cfg.APIKey, model)
		if err != nil {
			return nil, err
		}
		c = g
	default:
		return nil, fmt.Errorf("unknown llm backend %q (want %s, %s or %s)", cfg.Backend, BackendOpenRouter, BackendGemini, BackendOllama)
	}

	if cfg.RequestsPerMinute > 0 {
		c = RateLimited(c, cfg.RequestsPerMinute)
	}
	return c, nil
}
