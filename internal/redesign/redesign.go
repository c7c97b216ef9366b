// Package redesign implements the Redesign Engine of spec.md §4.7: it
// drives one RedesignSession through collecting -> extracting ->
// planning -> approving -> implementing -> verifying -> done (or
// cancelled at any point), spawning Process Supervisor runs at each
// agent-bearing phase. Unlike the Feature status machine, the Registry
// performs no RedesignStatus transition validation (see
// Store.UpdateRedesignStatus) — this package owns that logic entirely,
// the same way internal/orchestrator owns Feature scheduling.
package redesign

import (
	"context"
	"fmt"
	"sync"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/eventbus"
	"github.com/nek1987/auto-agent-harness/internal/guardrail"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/supervisor"
)

// Coordinator is the narrow Registry dependency the engine needs.
type Coordinator interface {
	GetProject(id string) (*registry.Project, error)
	GetRedesignSession(id string) (*registry.RedesignSession, error)
	UpdateRedesignStatus(id string, status registry.RedesignStatus) error
	ListReferences(sessionID string) ([]registry.Reference, error)
}

// Spawner is the narrow Process Supervisor dependency.
type Spawner interface {
	Spawn(ctx context.Context, spec supervisor.Spec) (*supervisor.Handle, error)
}

// Publisher is the narrow Event Bus dependency.
type Publisher interface {
	Publish(topic string, payload any) (eventbus.Event, error)
}

// SessionEvent is published to session.<id>.redesign on every engine-driven
// status change.
type SessionEvent struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// sessionRun tracks the one in-flight Run call for a session. Waiters
// parked in Await are kept on the Engine, not here.
type sessionRun struct {
	mu       sync.Mutex
	cancelCh chan struct{}
	active   *supervisor.Handle
}

// Engine drives RedesignSessions through their lifecycle and doubles as
// the mcptools.ApprovalWaiter that require_phase_approval suspends on.
type Engine struct {
	registry    Coordinator
	spawner     Spawner
	bus         Publisher
	manifest    *guardrail.Watcher
	mcpEndpoint string

	mu   sync.Mutex
	runs map[string]*sessionRun

	waitMu  sync.Mutex
	waiters map[string]map[registry.PhaseKey][]chan error
}

// New creates an Engine.
func New(reg Coordinator, spawner Spawner, bus Publisher, manifest *guardrail.Watcher, mcpEndpoint string) *Engine {
	return &Engine{
		registry:    reg,
		spawner:     spawner,
		bus:         bus,
		manifest:    manifest,
		mcpEndpoint: mcpEndpoint,
		runs:        make(map[string]*sessionRun),
		waiters:     make(map[string]map[registry.PhaseKey][]chan error),
	}
}

// Run drives sessionID through every remaining phase of its lifecycle,
// blocking until it reaches a terminal status or is cancelled. Resuming
// a session that crashed mid-phase re-enters at its persisted status
// rather than restarting from collecting.
func (e *Engine) Run(ctx context.Context, sessionID string) error {
	sr, err := e.begin(sessionID)
	if err != nil {
		return err
	}
	defer e.end(sessionID)

	for {
		sess, err := e.registry.GetRedesignSession(sessionID)
		if err != nil {
			return err
		}
		if registry.TerminalRedesignStatuses[sess.Status] {
			return nil
		}
		if e.cancelled(sr) {
			_ = e.registry.UpdateRedesignStatus(sessionID, registry.RedesignCancelled)
			e.publish(sessionID, SessionEvent{Status: string(registry.RedesignCancelled)})
			e.wakeAll(sessionID, apperr.New(apperr.Cancelled, "redesign session cancelled"))
			return apperr.New(apperr.Cancelled, "redesign run cancelled")
		}

		project, err := e.registry.GetProject(sess.ProjectID)
		if err != nil {
			return err
		}

		switch sess.Status {
		case registry.RedesignCollecting:
			err = e.advance(sessionID, registry.RedesignExtracting)
		case registry.RedesignExtracting:
			err = e.runExtracting(ctx, sr, sess, project)
		case registry.RedesignPlanning:
			err = e.runPlanning(ctx, sr, sess, project)
		case registry.RedesignApproving:
			// No agent runs during approving itself; the implementing
			// agent's own require_phase_approval calls are what actually
			// suspend on unapproved phases (spec.md §4.7 step 5), so the
			// engine moves straight on to spawning it.
			err = e.advance(sessionID, registry.RedesignImplementing)
		case registry.RedesignImplementing:
			err = e.runImplementing(ctx, sr, sess, project)
		case registry.RedesignVerifying:
			err = e.runVerifying(ctx, sr, sess, project)
		default:
			return apperr.New(apperr.Internal, fmt.Sprintf("unhandled redesign status %q", sess.Status))
		}
		if err != nil {
			if apperr.KindOf(err) == apperr.Cancelled {
				_ = e.registry.UpdateRedesignStatus(sessionID, registry.RedesignCancelled)
				e.publish(sessionID, SessionEvent{Status: string(registry.RedesignCancelled)})
				e.wakeAll(sessionID, apperr.New(apperr.Cancelled, "redesign session cancelled"))
			}
			return err
		}
	}
}

// Active reports whether sessionID currently has an in-flight Run.
func (e *Engine) Active(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[sessionID]
	return ok
}

// Cancel requests cooperative cancellation of sessionID's in-flight Run
// and wakes any Await calls parked on its phases. No-op if nothing is
// running.
func (e *Engine) Cancel(sessionID string) {
	e.mu.Lock()
	sr, ok := e.runs[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}
	sr.mu.Lock()
	select {
	case <-sr.cancelCh:
	default:
		close(sr.cancelCh)
	}
	h := sr.active
	sr.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

func (e *Engine) begin(sessionID string) (*sessionRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runs[sessionID]; ok {
		return nil, apperr.New(apperr.Conflict, fmt.Sprintf("redesign session %q already has an active run", sessionID))
	}
	sr := &sessionRun{cancelCh: make(chan struct{})}
	e.runs[sessionID] = sr
	return sr, nil
}

func (e *Engine) end(sessionID string) {
	e.mu.Lock()
	delete(e.runs, sessionID)
	e.mu.Unlock()
}

func (e *Engine) cancelled(sr *sessionRun) bool {
	select {
	case <-sr.cancelCh:
		return true
	default:
		return false
	}
}

func (e *Engine) track(sr *sessionRun, h *supervisor.Handle) {
	sr.mu.Lock()
	sr.active = h
	sr.mu.Unlock()
}

func (e *Engine) untrack(sr *sessionRun) {
	sr.mu.Lock()
	sr.active = nil
	sr.mu.Unlock()
}

func (e *Engine) spawnAndWait(ctx context.Context, sr *sessionRun, spec supervisor.Spec) (*supervisor.Handle, error) {
	if e.cancelled(sr) {
		return nil, apperr.New(apperr.Cancelled, "run cancelled before spawn")
	}
	h, err := e.spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, err
	}
	e.track(sr, h)
	defer e.untrack(sr)
	waitErr := h.Wait()
	return h, waitErr
}

// waitOutcome turns a spawnAndWait result into the error a phase method
// should return: nil on a clean exit, Cancelled if the subprocess was
// killed because the session was cancelled mid-run (Cancel killed the
// Handle directly; the for-loop's own cancelled() check only catches
// cancellation between phases, not during one), or Internal wrapping
// any other failure.
func (e *Engine) waitOutcome(sr *sessionRun, h *supervisor.Handle, waitErr error, stage string) error {
	if h == nil {
		return waitErr
	}
	if waitErr == nil {
		return nil
	}
	if e.cancelled(sr) {
		return apperr.New(apperr.Cancelled, stage+" run cancelled")
	}
	return apperr.Wrap(apperr.Internal, stage+" run failed", waitErr)
}

func (e *Engine) advance(sessionID string, status registry.RedesignStatus) error {
	if err := e.registry.UpdateRedesignStatus(sessionID, status); err != nil {
		return err
	}
	e.publish(sessionID, SessionEvent{Status: string(status)})
	return nil
}

func (e *Engine) publish(sessionID string, ev SessionEvent) {
	_, _ = e.bus.Publish(fmt.Sprintf("session.%s.redesign", sessionID), ev)
}
