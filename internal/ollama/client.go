// Package ollama talks to a local Ollama server, used as an offline model
// backend for the clinic assistant.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is where a local Ollama listens unless configured otherwise.
const DefaultBaseURL = "http://localhost:11434"

// Message is one chat turn in Ollama's format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls one Ollama instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL. Requests carry no client timeout; callers
// bound them with ctx.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// call sends a JSON request and returns the response when the status is 200.
// in may be nil for GET. The caller closes the body.
func (c *Client) call(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Models lists the locally installed model names, e.g. "llama3.2:latest".
func (c *Client) Models(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Reachable reports whether the server answers a model listing within 2s.
func (c *Client) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.Models(ctx)
	return err == nil
}

// installed reports whether model is among names. An untagged model matches
// any tag of the same name.
func installed(names []string, model string) bool {
	for _, n := range names {
		if n == model || strings.HasPrefix(n, model+":") {
			return true
		}
	}
	return false
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Percent returns completion in 0..100, or -1 when the line has no size.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// Pull downloads model, calling onProgress (if non-nil) for each streamed line.
func (c *Client) Pull(ctx context.Context, model string, onProgress func(PullProgress)) error {
	resp, err := c.call(ctx, http.MethodPost, "/api/pull", map[string]any{"name": model, "stream": true})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", model, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Chat sends messages to model and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	resp, err := c.call(ctx, http.MethodPost, "/api/chat", chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Message Message `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	return out.Message.Content, nil
}

// Complete sends prompt as a single user message.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	return c.Chat(ctx, model, []Message{{Role: "user", Content: prompt}})
}
