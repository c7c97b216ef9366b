package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// FeatureLister is the narrow Registry dependency list_features needs.
type FeatureLister interface {
	ListFeatures(projectID string) ([]registry.Feature, error)
}

// ListFeaturesTool handles the list_features MCP tool.
type ListFeaturesTool struct {
	store FeatureLister
}

// NewListFeaturesTool creates a ListFeaturesTool.
func NewListFeaturesTool(store FeatureLister) *ListFeaturesTool {
	return &ListFeaturesTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ListFeaturesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_features",
		mcp.WithDescription("List every feature in the project's backlog, ordered by ordinal."),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project id"),
		),
	)
}

// Handle processes the list_features tool call.
func (t *ListFeaturesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("'project' is required"), nil
	}

	features, err := t.store.ListFeatures(project)
	if err != nil {
		return toolError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "| ordinal | id | title | category | status | attempts |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	for _, f := range features {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %d |\n",
			f.Ordinal, f.ID, f.Title, f.Category, f.Status, f.AttemptCount)
	}
	return mcp.NewToolResultText(b.String()), nil
}
