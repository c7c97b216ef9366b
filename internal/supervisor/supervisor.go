// Package supervisor implements the Process Supervisor of spec.md §4.4:
// spawn, stream, pause/resume, cancel, and reap Claude Code CLI
// subprocesses, enforcing one active run per project and escalating
// idle subprocesses to a stalled cancel.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/eventbus"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// RunAdmitter is the narrow Registry dependency the Supervisor uses to
// enforce "at most one Run per project with status in {starting,
// running, paused, cancelling}" (spec.md §3) and to record lifecycle
// transitions.
type RunAdmitter interface {
	StartRun(projectID string, kind registry.RunKind, featureID, modelID string) (*registry.Run, error)
	SetRunStatus(runID string, status registry.RunStatus, pid int) error
	FinishRun(runID string, status registry.RunStatus, reason registry.ExitReason) error
}

// Publisher is the narrow Event Bus dependency the Supervisor streams
// subprocess telemetry onto.
type Publisher interface {
	Publish(topic string, payload any) (eventbus.Event, error)
}

// LogLine mirrors internal/mcptools.LogLine so streamed subprocess
// output and tool-originated log lines share one wire shape on
// run.<id>.log.
type LogLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// StateEvent is published to run.<id>.state on every status transition.
type StateEvent struct {
	Status registry.RunStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`
}

// Spec describes one subprocess to launch.
type Spec struct {
	ProjectID     string
	Kind          registry.RunKind
	FeatureID     string
	ModelID       string
	SystemPrompt  string
	WorkspacePath string
	MCPEndpoint   string
	Binary        string // defaults to "claude"
	IdleTimeout   time.Duration
	StallTimeout  time.Duration

	// Args overrides the subprocess argv. Nil selects the default
	// ["--model", ModelID, "--append-system-prompt", SystemPrompt]; tests
	// (here and in internal/orchestrator) set it to drive a harmless real
	// binary like sh instead of the actual Claude Code CLI.
	Args []string
}

// Handle is the live handle to a spawned subprocess, returned by Spawn.
type Handle struct {
	RunID string

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	paused    bool
	resumeCh  chan struct{}
	lastBeat  time.Time
	done      chan struct{}
	waitErr   error
}

// Supervisor manages the set of live subprocess Handles for a harness
// instance, bounded by a worker-pool semaphore matching spec.md §5's
// "heavy work dispatched to a bounded worker pool."
type Supervisor struct {
	registry RunAdmitter
	bus      Publisher
	sem      *semaphore.Weighted

	mu       sync.Mutex
	handles  map[string]*Handle
}

// New creates a Supervisor with the given worker-pool capacity.
func New(reg RunAdmitter, bus Publisher, maxConcurrentRuns int64) *Supervisor {
	return &Supervisor{
		registry: reg,
		bus:      bus,
		sem:      semaphore.NewWeighted(maxConcurrentRuns),
		handles:  make(map[string]*Handle),
	}
}

const (
	defaultIdleTimeout  = 5 * time.Minute
	defaultStallTimeout = 10 * time.Minute
)

// Spawn launches a subprocess per spec, streaming its stdout/stderr
// onto the Event Bus and reaping it on exit. The caller's ctx governs
// the overall lifetime of the supervising goroutine; Cancel on the
// returned Handle stops the child specifically.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	args := spec.Args
	if args == nil {
		args = []string{"--model", spec.ModelID, "--append-system-prompt", spec.SystemPrompt}
	}

	if !s.sem.TryAcquire(1) {
		return nil, apperr.New(apperr.Conflict, "worker pool is at capacity")
	}

	run, err := s.registry.StartRun(spec.ProjectID, spec.Kind, spec.FeatureID, spec.ModelID)
	if err != nil {
		s.sem.Release(1)
		return nil, err
	}

	binary := spec.Binary
	if binary == "" {
		binary = "claude"
	}
	idleTimeout := spec.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = defaultIdleTimeout
	}
	stallTimeout := spec.StallTimeout
	if stallTimeout == 0 {
		stallTimeout = defaultStallTimeout
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = spec.WorkspacePath
	cmd.Env = append(os.Environ(), fmt.Sprintf("MCP_ENDPOINT=%s", runScopedEndpoint(spec.MCPEndpoint, run.ID)))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		s.sem.Release(1)
		return nil, apperr.Wrap(apperr.Internal, "attaching stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		s.sem.Release(1)
		return nil, apperr.Wrap(apperr.Internal, "attaching stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		s.sem.Release(1)
		_ = s.registry.FinishRun(run.ID, registry.RunFailed, registry.ExitError)
		return nil, apperr.Wrap(apperr.Internal, "starting subprocess", err)
	}

	h := &Handle{
		RunID:    run.ID,
		cmd:      cmd,
		cancel:   cancel,
		resumeCh: make(chan struct{}),
		lastBeat: time.Now(),
		done:     make(chan struct{}),
	}
	close(h.resumeCh) // start unpaused; a future Pause recreates this gate

	s.mu.Lock()
	s.handles[run.ID] = h
	s.mu.Unlock()

	_ = s.registry.SetRunStatus(run.ID, registry.RunRunning, cmd.Process.Pid)
	s.publishState(run.ID, registry.RunRunning, "")

	var wg sync.WaitGroup
	wg.Add(2)
	go s.streamLines(run.ID, stdout, "info", h, &wg)
	go s.streamLines(run.ID, stderr, "error", h, &wg)

	go s.watchIdle(runCtx, run.ID, h, idleTimeout, stallTimeout)

	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		s.reap(run.ID, h, waitErr, runCtx.Err())
		s.sem.Release(1)
		close(h.done)
	}()

	return h, nil
}

// runScopedEndpoint tags the shared MCP endpoint with this subprocess's
// run id as a query parameter, so the composition root's MCP transport
// can read it off the subprocess's first connection and attach it to
// ctx via mcptools.WithRunID for every tool call that connection makes
// (spec.md §4.3: a run can only ever claim/complete/mark the feature
// its own supervisor-assigned id is scoped to).
func runScopedEndpoint(base, runID string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "run_id=" + url.QueryEscape(runID)
}

func (s *Supervisor) streamLines(runID string, r io.Reader, level string, h *Handle, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		h.mu.Lock()
		h.lastBeat = time.Now()
		h.mu.Unlock()
		_, _ = s.bus.Publish(fmt.Sprintf("run.%s.log", runID), LogLine{Level: level, Message: scanner.Text()})
	}
}

func (s *Supervisor) publishState(runID string, status registry.RunStatus, reason string) {
	_, _ = s.bus.Publish(fmt.Sprintf("run.%s.state", runID), StateEvent{Status: status, Reason: reason})
}

func (s *Supervisor) reap(runID string, h *Handle, waitErr, ctxErr error) {
	h.mu.Lock()
	h.waitErr = waitErr
	h.mu.Unlock()

	status, reason := registry.RunFinished, registry.ExitClean
	switch {
	case ctxErr == context.Canceled:
		status, reason = registry.RunFinished, registry.ExitKilled
	case ctxErr == context.DeadlineExceeded:
		status, reason = registry.RunFailed, registry.ExitTimeout
	case waitErr != nil:
		status, reason = registry.RunFailed, registry.ExitError
	}

	_ = s.registry.FinishRun(runID, status, reason)
	s.publishState(runID, status, string(reason))

	s.mu.Lock()
	delete(s.handles, runID)
	s.mu.Unlock()
}

// watchIdle publishes a stalled warning once the child has emitted no
// output for idleTimeout, and escalates to Cancel once that silence
// reaches stallTimeout (spec.md §4.4 Health).
func (s *Supervisor) watchIdle(ctx context.Context, runID string, h *Handle, idleTimeout, stallTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	defer ticker.Stop()
	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.mu.Lock()
			idleFor := time.Since(h.lastBeat)
			h.mu.Unlock()
			if idleFor >= stallTimeout {
				_, _ = s.bus.Publish(fmt.Sprintf("run.%s.log", runID), LogLine{Level: "error", Message: "stalled: no activity, cancelling"})
				h.Cancel()
				return
			}
			if idleFor >= idleTimeout && !warned {
				warned = true
				_, _ = s.bus.Publish(fmt.Sprintf("run.%s.log", runID), LogLine{Level: "warn", Message: "stalled: no activity for idle window"})
			}
		}
	}
}

// Pause makes every WaitForResume call block until Resume. No tool
// handler in this repository calls WaitForResume, so pausing does not
// withhold the child's pending tool responses.
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paused {
		return
	}
	h.paused = true
	h.resumeCh = make(chan struct{})
}

// Resume releases every WaitForResume call blocked by Pause (closing
// the channel wakes all of them at once).
func (h *Handle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		return
	}
	h.paused = false
	close(h.resumeCh)
}

// WaitForResume blocks while the run is paused, or returns ctx.Err()
// if ctx is cancelled first.
func (h *Handle) WaitForResume(ctx context.Context) error {
	h.mu.Lock()
	ch := h.resumeCh
	h.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel signals the child to stop. The supervising goroutine's reap
// records ExitKilled once the process actually exits.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the subprocess has been reaped.
func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}
