package redesign

import (
	"context"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// Await implements mcptools.ApprovalWaiter: it blocks until phase is
// approved for sessionID, the session is cancelled, or ctx is done.
// require_phase_approval already checked the fast path (phase already
// approved) before calling this, but Await registers its waiter first
// and then re-checks, so an approval recorded between that check and
// the registration is not missed.
func (e *Engine) Await(ctx context.Context, sessionID string, phase registry.PhaseKey) error {
	ch := make(chan error, 1)
	e.waitMu.Lock()
	if e.waiters[sessionID] == nil {
		e.waiters[sessionID] = make(map[registry.PhaseKey][]chan error)
	}
	e.waiters[sessionID][phase] = append(e.waiters[sessionID][phase], ch)
	e.waitMu.Unlock()

	sess, err := e.registry.GetRedesignSession(sessionID)
	if err != nil {
		e.removeWaiter(sessionID, phase, ch)
		return err
	}
	if _, approved := sess.PhaseApprovals[phase]; approved {
		e.removeWaiter(sessionID, phase, ch)
		return nil
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		e.removeWaiter(sessionID, phase, ch)
		return apperr.New(apperr.Cancelled, "require_phase_approval cancelled: "+ctx.Err().Error())
	}
}

// Approve records the user's approval of phase for sessionID and wakes
// every Await call currently parked on it. Called by the "redesign
// approve" CLI path, never by the engine itself.
func (e *Engine) Approve(sessionID string, phase registry.PhaseKey) error {
	store, ok := e.registry.(phaseApprover)
	if !ok {
		return apperr.New(apperr.Internal, "registry does not support recording phase approvals")
	}
	if err := store.RecordPhaseApproval(sessionID, phase); err != nil {
		return err
	}
	e.wakePhase(sessionID, phase, nil)
	return nil
}

// phaseApprover is satisfied by *registry.Store; kept separate from
// Coordinator because only the approval path (not the Run loop) needs
// it, and Coordinator should stay exactly the dependency surface Run
// actually exercises.
type phaseApprover interface {
	RecordPhaseApproval(id string, phase registry.PhaseKey) error
}

func (e *Engine) wakePhase(sessionID string, phase registry.PhaseKey, err error) {
	e.waitMu.Lock()
	waiters := e.waiters[sessionID][phase]
	delete(e.waiters[sessionID], phase)
	e.waitMu.Unlock()
	for _, ch := range waiters {
		ch <- err
	}
}

// wakeAll wakes every waiter across every phase of sessionID, used when
// the session is cancelled.
func (e *Engine) wakeAll(sessionID string, err error) {
	e.waitMu.Lock()
	phases := e.waiters[sessionID]
	delete(e.waiters, sessionID)
	e.waitMu.Unlock()
	for _, waiters := range phases {
		for _, ch := range waiters {
			ch <- err
		}
	}
}

func (e *Engine) removeWaiter(sessionID string, phase registry.PhaseKey, target chan error) {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()
	list := e.waiters[sessionID][phase]
	for i, ch := range list {
		if ch == target {
			e.waiters[sessionID][phase] = append(list[:i], list[i+1:]...)
			break
		}
	}
}
