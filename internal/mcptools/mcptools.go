// Package mcptools implements the MCP Tool Surface (spec.md §4.3): one
// file per tool, each a struct with a Definition() mcp.Tool and a
// Handle(ctx, req) method, following the teacher's internal/tools
// convention exactly (SRP: one file per tool; DIP: tools depend on
// narrow interfaces, not concrete stores).
//
// The surface is stateless across calls — every tool reads/writes
// through the Registry (and, for log/event tools, the Run Log and
// Event Bus) rather than holding any in-memory session state. Every
// call is associated with the run id of the calling subprocess, carried
// on ctx by the composition root's MCP session middleware rather than
// passed as a tool argument — an agent cannot claim to be a different
// run than the one the supervisor spawned it as.
package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

type runIDKey struct{}

// WithRunID returns a context carrying the calling subprocess's run id,
// set once by the composition root's per-connection MCP session setup.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id associated with ctx, or "" if
// none was set.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// toolError maps an apperr.Kind to the MCP error taxonomy spec.md §4.3
// requires be "surfaced verbatim in responses": `{kind}: {message}` as
// the tool result's error text. An Internal-kind error (a failure the
// tool wasn't expecting, e.g. a driver error) propagates as a Go error
// instead, matching the teacher's own "non-domain failures propagate as
// an error, not a tool result" convention in tools/init.go.
func toolError(err error) (*mcp.CallToolResult, error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		return nil, err
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", kind, err.Error())), nil
}
