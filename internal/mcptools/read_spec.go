package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// SpecReader is the narrow Registry dependency read_spec needs.
type SpecReader interface {
	GetActiveSpec(projectID string) (*registry.SpecArtifact, error)
}

// ReadSpecTool handles the read_spec MCP tool.
type ReadSpecTool struct {
	store SpecReader
}

// NewReadSpecTool creates a ReadSpecTool.
func NewReadSpecTool(store SpecReader) *ReadSpecTool {
	return &ReadSpecTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ReadSpecTool) Definition() mcp.Tool {
	return mcp.NewTool("read_spec",
		mcp.WithDescription("Read the project's currently active spec text."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
	)
}

// Handle processes the read_spec tool call.
func (t *ReadSpecTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("'project' is required"), nil
	}

	spec, err := t.store.GetActiveSpec(project)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(spec.SourceText), nil
}
