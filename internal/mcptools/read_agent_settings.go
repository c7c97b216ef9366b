package mcptools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// ProjectReader is the narrow Registry dependency read_agent_settings needs.
type ProjectReader interface {
	GetProject(id string) (*registry.Project, error)
}

// ReadAgentSettingsTool handles the read_agent_settings MCP tool.
type ReadAgentSettingsTool struct {
	store ProjectReader
}

// NewReadAgentSettingsTool creates a ReadAgentSettingsTool.
func NewReadAgentSettingsTool(store ProjectReader) *ReadAgentSettingsTool {
	return &ReadAgentSettingsTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ReadAgentSettingsTool) Definition() mcp.Tool {
	return mcp.NewTool("read_agent_settings",
		mcp.WithDescription("Read the project's current AgentSettings as JSON."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
	)
}

// Handle processes the read_agent_settings tool call.
func (t *ReadAgentSettingsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("'project' is required"), nil
	}

	p, err := t.store.GetProject(project)
	if err != nil {
		return toolError(err)
	}

	out, err := json.Marshal(p.AgentSettings)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}
