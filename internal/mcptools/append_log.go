package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/eventbus"
)

// LogPublisher is the narrow Event Bus dependency append_log needs.
type LogPublisher interface {
	Publish(topic string, payload any) (eventbus.Event, error)
}

// LogLine is the payload published to a run's log topic.
type LogLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// AppendLogTool handles the append_log MCP tool.
type AppendLogTool struct {
	bus LogPublisher
}

// NewAppendLogTool creates an AppendLogTool.
func NewAppendLogTool(bus LogPublisher) *AppendLogTool {
	return &AppendLogTool{bus: bus}
}

// Definition returns the MCP tool definition for registration.
func (t *AppendLogTool) Definition() mcp.Tool {
	return mcp.NewTool("append_log",
		mcp.WithDescription("Push a log line onto the run's Event Bus topic (run.<id>.log)."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id this log line belongs to")),
		mcp.WithString("level", mcp.Required(), mcp.Description("Log level, e.g. info/warn/error")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Log line content")),
	)
}

// Handle processes the append_log tool call.
func (t *AppendLogTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := req.GetString("run_id", "")
	level := req.GetString("level", "")
	message := req.GetString("message", "")
	if runID == "" || level == "" || message == "" {
		return mcp.NewToolResultError("'run_id', 'level', and 'message' are required"), nil
	}

	if ctxRunID := RunIDFromContext(ctx); ctxRunID != "" && ctxRunID != runID {
		return toolError(apperr.New(apperr.Unauthorized, "run_id does not match the calling subprocess's credential"))
	}

	if _, err := t.bus.Publish(fmt.Sprintf("run.%s.log", runID), LogLine{Level: level, Message: message}); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("ok"), nil
}
