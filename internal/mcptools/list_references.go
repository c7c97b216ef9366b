package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// ReferenceLister is the narrow Registry dependency list_references needs.
type ReferenceLister interface {
	ListReferences(sessionID string) ([]registry.Reference, error)
}

// ListReferencesTool handles the redesign-only list_references MCP tool.
type ListReferencesTool struct {
	store ReferenceLister
}

// NewListReferencesTool creates a ListReferencesTool.
func NewListReferencesTool(store ReferenceLister) *ListReferencesTool {
	return &ListReferencesTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ListReferencesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_references",
		mcp.WithDescription("List the References collected so far for a Redesign session."),
		mcp.WithString("session", mcp.Required(), mcp.Description("RedesignSession id")),
	)
}

// Handle processes the list_references tool call.
func (t *ListReferencesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := req.GetString("session", "")
	if session == "" {
		return mcp.NewToolResultError("'session' is required"), nil
	}

	refs, err := t.store.ListReferences(session)
	if err != nil {
		return toolError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "| id | type | page_identifier |\n|---|---|---|\n")
	for _, r := range refs {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", r.ID, r.Type, r.PageIdentifier)
	}
	return mcp.NewToolResultText(b.String()), nil
}
