package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/pipeline"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/session"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/storage"
)

// DefaultMCPSession is the session id MCP calls share when none is configured.
const DefaultMCPSession = "mcp"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline *pipeline.Pipeline
	Store    *storage.Store
	Sessions *session.Store
	// SessionID scopes history and stop requests for MCP callers.
	SessionID string
	Version   string
}

// NewMCPServer creates an MCP server exposing the dataset assistant.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.SessionID == "" {
		deps.SessionID = DefaultMCPSession
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := server.NewMCPServer(
		"clinicchat",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("clinicchat answers questions about the uploaded dental clinic dataset."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_dataset",
			mcp.WithDescription("Ask a natural-language question about the active dental clinic dataset (patients, invoices, doctors, appointments)."),
			mcp.WithString("message", mcp.Description("The question"), mcp.Required()),
		),
		mcpAskDataset(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_history",
			mcp.WithDescription("Clear the conversation window and the durable chat log."),
		),
		mcpClearHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"clinic://active-file",
			"Active File",
			mcp.WithResourceDescription("The dataset currently used to answer questions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceActiveFile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"clinic://history",
			"Chat History",
			mcp.WithResourceDescription("Last 10 questions and answers from the chat log"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpAskDataset(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		res := deps.Pipeline.Ask(ctx, deps.Sessions.Open(deps.SessionID), message)
		if res.Outcome != pipeline.OutcomeAnswered {
			return mcpError(res.Response), nil
		}
		return mcpText(res.Response), nil
	}
}

func mcpClearHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.Sessions.Clear(deps.SessionID)
		if err := deps.Store.ClearChats(); err != nil {
			return mcpError(fmt.Sprintf("failed to clear chat log: %v", err)), nil
		}
		return mcpText("Chat history cleared."), nil
	}
}

func mcpResourceActiveFile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		var payload any = map[string]any{"filename": nil}
		f, err := deps.Store.ActiveFile()
		switch {
		case err == nil:
			payload = f
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to read active file: %w", err)
		}

		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal active file: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Store.ListChats(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list chat history: %w", err)
		}

		type chatSummary struct {
			ID        int64  `json:"id"`
			CreatedAt string `json:"created_at"`
			Message   string `json:"message"`
			Response  string `json:"response"`
		}

		summaries := make([]chatSummary, len(records))
		for i, rec := range records {
			summaries[i] = chatSummary{
				ID:        rec.ID,
				CreatedAt: rec.CreatedAt.Format(time.RFC3339),
				Message:   clip(rec.Message, 200),
				Response:  clip(rec.Response, 200),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal chat history: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
