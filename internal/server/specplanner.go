package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/speccompiler"
)

// cliAgent backs both speccompiler.Planner and speccompiler.Extractor
// by asking the Claude Code CLI itself, out of band from any supervised
// run, to draft a backlog or extract one chunk's requirements — exactly
// what speccompiler's own Planner doc comment anticipates ("a real
// deployment backs this with the Claude Code CLI itself"). Unlike
// internal/supervisor's Spawn, this is a short synchronous
// print-one-JSON-value-and-exit call, not a long-lived MCP-driven
// agent session, so it shells out directly rather than going through
// the Process Supervisor's admission/streaming machinery.
type cliAgent struct {
	binary  string
	timeout time.Duration
}

func newCLIAgent(binary string) *cliAgent {
	if binary == "" {
		binary = "claude"
	}
	return &cliAgent{binary: binary, timeout: 2 * time.Minute}
}

const planPromptTemplate = `You are drafting the initial feature backlog for a new project from its spec text below.
Respond with ONLY a JSON array of objects: {"ordinal":int,"title":string,"description":string,"category":string,"depends_on":[string]}.
No prose, no markdown fences.

Skills context:
%s

Spec text:
%s`

// Plan implements speccompiler.Planner.
func (a *cliAgent) Plan(ctx context.Context, specText, skillsContext string) ([]registry.Feature, error) {
	out, err := a.run(ctx, fmt.Sprintf(planPromptTemplate, skillsContext, specText))
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Ordinal     int                      `json:"ordinal"`
		Title       string                   `json:"title"`
		Description string                   `json:"description"`
		Category    registry.FeatureCategory `json:"category"`
		DependsOn   []string                 `json:"depends_on"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, apperr.Wrap(apperr.ExtractionFailed, "parsing planner output", err)
	}
	features := make([]registry.Feature, len(raw))
	for i, r := range raw {
		features[i] = registry.Feature{
			Ordinal: r.Ordinal, Title: r.Title, Description: r.Description,
			Category: r.Category, DependsOn: r.DependsOn,
		}
	}
	return features, nil
}

const extractPromptTemplate = `Extract normalized requirements from the spec chunk below.
Respond with ONLY a JSON array of objects:
{"req_id":string,"title":string,"description":string,"acceptance":[string],"constraints":[string],"priority":"high"|"medium"|"low","tags":[string],"source_anchor":string}.
No prose, no markdown fences.

Heading: %s

Body:
%s`

// Extract implements speccompiler.Extractor.
func (a *cliAgent) Extract(chunk speccompiler.Chunk) ([]speccompiler.Requirement, error) {
	out, err := a.run(context.Background(), fmt.Sprintf(extractPromptTemplate, chunk.Heading, chunk.Body))
	if err != nil {
		return nil, err
	}
	var reqs []speccompiler.Requirement
	if err := json.Unmarshal(out, &reqs); err != nil {
		return nil, apperr.Wrap(apperr.ExtractionFailed, "parsing extractor output", err)
	}
	return reqs, nil
}

func (a *cliAgent) run(ctx context.Context, prompt string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.binary, "--print", "--append-system-prompt", prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, apperr.Wrap(apperr.ExtractionFailed, fmt.Sprintf("cli agent failed: %s", stderr.String()), err)
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}
