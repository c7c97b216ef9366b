// Package server wires the Registry, Event Bus, Process Supervisor,
// Run Orchestrator, Redesign Engine, and Redesign Ingest into the MCP
// tool surface and a small control-plane HTTP API, and creates the
// server instance.
//
// This is the composition root (DIP): it creates concrete
// implementations and injects them into the tools and engines that
// depend on narrow interfaces. No business logic lives here — only
// wiring. One Harness is one long-running "serve" process; its
// Orchestrator and Redesign Engine are each shared across every
// project/session they ever drive, since both already key their
// bookkeeping by id rather than holding process-wide state.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/eventbus"
	"github.com/nek1987/auto-agent-harness/internal/guardrail"
	"github.com/nek1987/auto-agent-harness/internal/ingest"
	"github.com/nek1987/auto-agent-harness/internal/mcptools"
	"github.com/nek1987/auto-agent-harness/internal/orchestrator"
	"github.com/nek1987/auto-agent-harness/internal/redesign"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/runlog"
	"github.com/nek1987/auto-agent-harness/internal/speccompiler"
	"github.com/nek1987/auto-agent-harness/internal/supervisor"
	"github.com/nek1987/auto-agent-harness/internal/workspace"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is every external knob the composition root needs, sourced
// from the environment/flags (DATA_DIR, ALLOWED_ROOT_DIRECTORY,
// CLAUDE_BINARY; WORKSPACE_ROOT is not read) plus the address this process's MCP tool
// surface and control API are served on.
type Config struct {
	DataDir           string
	AllowedRoot       string
	ListenAddr        string // e.g. ":8090"
	SkillManifestPath string
	MaxConcurrentRuns int64
	ClaudeBinary      string // binary the out-of-band spec-update Planner/Extractor shells out to; defaults to "claude"
}

// Harness bundles every long-lived collaborator the composition root
// wires together.
type Harness struct {
	Config Config

	Store        *registry.Store
	Bus          *eventbus.Bus
	RunLog       *runlog.Store
	Supervisor   *supervisor.Supervisor
	Orchestrator *orchestrator.Orchestrator
	Redesign     *redesign.Engine
	Ingester     *ingest.Ingester
	Manifest     *guardrail.Watcher
	SpecCompiler *speccompiler.Compiler
	cliAgent     *cliAgent

	logger     *zap.Logger
	mcpServer  *mcpserver.MCPServer
	sseServer  *mcpserver.SSEServer
	httpServer *http.Server
}

func noop() {}

// New builds every collaborator, registers the full MCP tool surface,
// and prepares the control-plane HTTP API, without starting to listen
// yet. The returned cleanup function always closes every opened
// resource, safe to call even if New itself later returns an error.
func New(cfg Config) (*Harness, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, noop, apperr.Wrap(apperr.Internal, "creating logger", err)
	}
	cleanup := func() { _ = logger.Sync() }

	store, err := registry.Open(registry.Config{DataDir: cfg.DataDir})
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	cleanup = func() { _ = store.Close(); _ = logger.Sync() }

	runLog, err := runlog.New(runlog.DefaultConfig(cfg.DataDir))
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	cleanup = func() { _ = store.Close(); _ = runLog.Close(); _ = logger.Sync() }

	manifest, stopManifest, err := guardrail.NewWatcher(cfg.SkillManifestPath)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	cleanup = func() { stopManifest(); _ = store.Close(); _ = runLog.Close(); _ = logger.Sync() }

	bus := eventbus.New(tailStoreAdapter{runLog})

	maxConcurrent := cfg.MaxConcurrentRuns
	if maxConcurrent == 0 {
		maxConcurrent = 4
	}
	sup := supervisor.New(store, bus, maxConcurrent)

	mcpEndpoint := baseURL(cfg.ListenAddr) + "/sse"
	orch := orchestrator.New(store, sup, bus, manifest, mcpEndpoint)
	redes := redesign.New(store, sup, bus, manifest, mcpEndpoint)

	browser := ingest.NewRodBrowser()
	ingester := ingest.New(browser, uuid.NewString)
	agent := newCLIAgent(cfg.ClaudeBinary)
	compiler := speccompiler.New(agent)
	cleanup = func() {
		_ = browser.Close()
		stopManifest()
		_ = store.Close()
		_ = runLog.Close()
		_ = logger.Sync()
	}

	h := &Harness{
		Config:       cfg,
		Store:        store,
		Bus:          bus,
		RunLog:       runLog,
		Supervisor:   sup,
		Orchestrator: orch,
		Redesign:     redes,
		Ingester:     ingester,
		Manifest:     manifest,
		SpecCompiler: compiler,
		cliAgent:     agent,
		logger:       logger,
	}

	h.mcpServer = mcpserver.NewMCPServer(
		"auto-agent-harness",
		Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)
	h.registerTools(browser)

	h.sseServer = mcpserver.NewSSEServer(h.mcpServer, mcpserver.WithBaseURL(baseURL(cfg.ListenAddr)))
	h.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.routes(),
	}

	return h, cleanup, nil
}

// baseURL turns a net/http listen address ("" default, ":8090", or
// "host:port") into an absolute URL a spawned subprocess's MCP client
// can dial.
func baseURL(addr string) string {
	host := addr
	if strings.HasPrefix(addr, ":") {
		host = "localhost" + addr
	}
	return "http://" + host
}

// tailStoreAdapter narrows *runlog.Store's EventRecord-returning
// TailEvents to the eventbus.TailEvent shape eventbus.TailStore expects,
// so the bus's tail buffer survives a process restart without the Run
// Log and Event Bus packages needing to import each other's types.
type tailStoreAdapter struct{ store *runlog.Store }

func (a tailStoreAdapter) AppendEvent(topic string, seq int64, payload []byte) error {
	return a.store.AppendEvent(topic, seq, payload)
}

func (a tailStoreAdapter) TailEvents(topic string) ([]eventbus.TailEvent, error) {
	records, err := a.store.TailEvents(topic)
	if err != nil {
		return nil, err
	}
	out := make([]eventbus.TailEvent, len(records))
	for i, r := range records {
		out[i] = eventbus.TailEvent{Seq: r.Seq, Payload: r.Payload, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// registerTools wires every mcptools.*Tool to the Registry, Event Bus,
// browser, and Redesign Engine collaborators it needs (spec.md §4.3).
// *registry.Store structurally satisfies every Registry-shaped
// interface these tools declare, so it is passed directly with no
// adapter; *ingest.RodBrowser likewise satisfies both URLCapturer and
// ComponentRenderer directly.
func (h *Harness) registerTools(browser *ingest.RodBrowser) {
	s := h.mcpServer

	claim := mcptools.NewClaimFeatureTool(h.Store)
	s.AddTool(claim.Definition(), claim.Handle)

	unclaim := mcptools.NewUnclaimTool(h.Store)
	s.AddTool(unclaim.Definition(), unclaim.Handle)

	complete := mcptools.NewMarkCompleteTool(h.Store)
	s.AddTool(complete.Definition(), complete.Handle)

	blocked := mcptools.NewMarkBlockedTool(h.Store)
	s.AddTool(blocked.Definition(), blocked.Handle)

	needsReview := mcptools.NewMarkNeedsReviewTool(h.Store)
	s.AddTool(needsReview.Definition(), needsReview.Handle)

	listFeatures := mcptools.NewListFeaturesTool(h.Store)
	s.AddTool(listFeatures.Definition(), listFeatures.Handle)

	replaceFeatures := mcptools.NewReplaceFeaturesTool(h.Store)
	s.AddTool(replaceFeatures.Definition(), replaceFeatures.Handle)

	readSpec := mcptools.NewReadSpecTool(h.Store)
	s.AddTool(readSpec.Definition(), readSpec.Handle)

	readSettings := mcptools.NewReadAgentSettingsTool(h.Store)
	s.AddTool(readSettings.Definition(), readSettings.Handle)

	appendLog := mcptools.NewAppendLogTool(h.Bus)
	s.AddTool(appendLog.Definition(), appendLog.Handle)

	listRefs := mcptools.NewListReferencesTool(h.Store)
	s.AddTool(listRefs.Definition(), listRefs.Handle)

	captureURL := mcptools.NewCaptureURLTool(browser)
	s.AddTool(captureURL.Definition(), captureURL.Handle)

	renderComponent := mcptools.NewRenderComponentTool(browser)
	s.AddTool(renderComponent.Definition(), renderComponent.Handle)

	writeTokens := mcptools.NewWriteTokensTool(h.Store)
	s.AddTool(writeTokens.Definition(), writeTokens.Handle)

	writePlan := mcptools.NewWritePlanTool(h.Store)
	s.AddTool(writePlan.Definition(), writePlan.Handle)

	requireApproval := mcptools.NewRequirePhaseApprovalTool(h.Store, h.Redesign)
	s.AddTool(requireApproval.Definition(), requireApproval.Handle)
}

// ListenAndServe starts the control API and MCP SSE transport on
// cfg.ListenAddr, blocking until ctx is cancelled, at which point it
// shuts down gracefully.
func (h *Harness) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("serving", zap.String("addr", h.Config.ListenAddr))
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// routes assembles the single mux this process serves: the MCP SSE
// tool surface spawned subprocesses dial into, and the JSON control API
// the CLI's "project"/"run"/"redesign" subcommands use to drive this
// already-running daemon (spec.md §6's "start/stop server, create/
// import project, trigger run, trigger redesign").
func (h *Harness) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/sse", h.withRunID(h.sseServer.SSEHandler()))
	mux.Handle("/message", h.withRunID(h.sseServer.MessageHandler()))
	h.registerControlRoutes(mux)
	return mux
}

// withRunID tags the request context with the run id the Process
// Supervisor embedded in the subprocess's MCP_ENDPOINT at spawn time
// (internal/supervisor.runScopedEndpoint), so every tool Handle call
// this connection makes can resolve mcptools.RunIDFromContext without
// the calling agent ever supplying its own run id as an argument.
func (h *Harness) withRunID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if runID := r.URL.Query().Get("run_id"); runID != "" {
			r = r.WithContext(mcptools.WithRunID(r.Context(), runID))
		}
		next.ServeHTTP(w, r)
	})
}

// resolveWorkspace validates a prospective workspace path against the
// configured allowed root and returns its Layout.
func (h *Harness) resolveWorkspace(path string) (workspace.Layout, error) {
	return workspace.New(path, h.Config.AllowedRoot)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps an apperr.Kind onto an HTTP status the CLI
// translates back to spec.md §6's exit codes (0 clean, 1 usage error,
// 2 runtime error, 3 conflict).
func statusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Unauthorized:
		return http.StatusForbidden
	case apperr.Cancelled:
		return http.StatusGone
	case apperr.Timeout, apperr.Stalled:
		return http.StatusGatewayTimeout
	case apperr.InvariantViolation, apperr.ExtractionFailed, apperr.UnresolvedConflict, apperr.MappingIncomplete:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
