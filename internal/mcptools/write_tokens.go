package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// TokensWriter is the narrow Registry dependency write_tokens needs.
type TokensWriter interface {
	WriteExtractedTokens(id string, tokens registry.DesignTokens) error
}

// WriteTokensTool handles the redesign-only write_tokens MCP tool.
type WriteTokensTool struct {
	store TokensWriter
}

// NewWriteTokensTool creates a WriteTokensTool.
func NewWriteTokensTool(store TokensWriter) *WriteTokensTool {
	return &WriteTokensTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *WriteTokensTool) Definition() mcp.Tool {
	return mcp.NewTool("write_tokens",
		mcp.WithDescription("Emit the extracted DesignTokens for a Redesign session's extracting phase."),
		mcp.WithString("session", mcp.Required(), mcp.Description("RedesignSession id")),
		mcp.WithString("tokens", mcp.Required(), mcp.Description("DesignTokens as JSON")),
	)
}

// Handle processes the write_tokens tool call.
func (t *WriteTokensTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := req.GetString("session", "")
	raw := req.GetString("tokens", "")
	if session == "" || raw == "" {
		return mcp.NewToolResultError("'session' and 'tokens' are required"), nil
	}

	var tokens registry.DesignTokens
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("'tokens' must be valid DesignTokens JSON: %v", err)), nil
	}

	if err := t.store.WriteExtractedTokens(session, tokens); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("tokens recorded"), nil
}
