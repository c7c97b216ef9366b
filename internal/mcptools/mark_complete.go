package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// FeatureCompleter is the narrow Registry dependency mark_complete needs.
type FeatureCompleter interface {
	CompleteFeature(projectID, featureID, runID, summary string, artifacts []string) (*registry.Feature, error)
}

// MarkCompleteTool handles the mark_complete MCP tool. It is idempotent
// on re-entry from the same run with identical arguments (spec.md §4.3).
type MarkCompleteTool struct {
	store FeatureCompleter
}

// NewMarkCompleteTool creates a MarkCompleteTool.
func NewMarkCompleteTool(store FeatureCompleter) *MarkCompleteTool {
	return &MarkCompleteTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *MarkCompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("mark_complete",
		mcp.WithDescription("Mark the calling run's claimed feature done. Fails if the feature "+
			"is not in_progress claimed by this run. Safe to call again with identical arguments."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("feature_id", mcp.Required(), mcp.Description("Feature id to complete")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Summary of what was done")),
		mcp.WithString("artifacts", mcp.Description("JSON array of artifact paths produced, e.g. [\"internal/foo.go\"]")),
	)
}

// Handle processes the mark_complete tool call.
func (t *MarkCompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	featureID := req.GetString("feature_id", "")
	summary := req.GetString("summary", "")
	if project == "" || featureID == "" || summary == "" {
		return mcp.NewToolResultError("'project', 'feature_id', and 'summary' are required"), nil
	}

	var artifacts []string
	if raw := req.GetString("artifacts", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &artifacts); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'artifacts' must be a JSON array of strings: %v", err)), nil
		}
	}

	runID := RunIDFromContext(ctx)
	if _, err := t.store.CompleteFeature(project, featureID, runID, summary, artifacts); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("completed feature %s", featureID)), nil
}
