package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// FeatureUnclaimer is the narrow Registry dependency unclaim needs.
type FeatureUnclaimer interface {
	UnclaimFeature(projectID, featureID, runID string) (*registry.Feature, error)
}

// UnclaimTool handles the unclaim MCP tool.
type UnclaimTool struct {
	store FeatureUnclaimer
}

// NewUnclaimTool creates an UnclaimTool.
func NewUnclaimTool(store FeatureUnclaimer) *UnclaimTool {
	return &UnclaimTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *UnclaimTool) Definition() mcp.Tool {
	return mcp.NewTool("unclaim",
		mcp.WithDescription("Release the calling run's claimed feature back to pending, "+
			"without recording a failure reason."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("feature_id", mcp.Required(), mcp.Description("Feature id to release")),
	)
}

// Handle processes the unclaim tool call.
func (t *UnclaimTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	featureID := req.GetString("feature_id", "")
	if project == "" || featureID == "" {
		return mcp.NewToolResultError("'project' and 'feature_id' are required"), nil
	}

	runID := RunIDFromContext(ctx)
	if _, err := t.store.UnclaimFeature(project, featureID, runID); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("released feature %s", featureID)), nil
}
