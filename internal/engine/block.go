package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/microtree"
	"github.com/lumenflow/lumenflow/internal/validation"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// Block parks an in-progress WU: spec flips to blocked, a block event is
// emitted, the lane lock is released. The worktree stays so the work resumes
// where it stopped.
func (e *Engine) Block(ctx context.Context, id, reason string) error {
	if reason == "" {
		return lferr.New(lferr.KindValidation, "block requires a reason").
			WithRemediation("say what it is waiting on, e.g. `lf block %s --reason \"waiting on API review\"`", id)
	}
	return e.withOpLock(ctx, func() error {
		return e.transitionStatus(ctx, id, wu.TransitionBlock, wu.StatusBlocked, events.KindBlock, reason)
	})
}

// Unblock returns a blocked WU to in_progress. The lane lock is reacquired;
// when the lane filled up in the meantime the WU stays blocked.
func (e *Engine) Unblock(ctx context.Context, id string) error {
	return e.withOpLock(ctx, func() error {
		w, err := wu.Read(e.layout.WUPath(id), id)
		if err != nil {
			return err
		}
		if err := validation.CheckTransition(w, wu.TransitionUnblock); err != nil {
			return err
		}
		if err := e.locks.Acquire(w.Lane, id, ""); err != nil {
			return err
		}
		if err := e.transitionStatus(ctx, id, wu.TransitionUnblock, wu.StatusInProgress, events.KindClaim, ""); err != nil {
			_ = e.locks.Release(w.Lane, id)
			return err
		}
		return nil
	})
}

// transitionStatus flips the spec status and appends the matching event in
// one micro-worktree push. Claim metadata is preserved; blocked and
// in_progress are both claimed states.
func (e *Engine) transitionStatus(ctx context.Context, id string, t wu.Transition, to wu.Status, kind events.Kind, reason string) error {
	w, err := wu.Read(e.layout.WUPath(id), id)
	if err != nil {
		return err
	}
	if err := validation.CheckTransition(w, t); err != nil {
		return err
	}
	laneName := w.Lane
	title := w.Title
	sessionID := w.SessionID

	err = e.runner.Run(ctx, microtree.Request{
		Operation: string(t),
		ID:        id,
		Execute: func(mc microtree.Ctx) (*microtree.Result, error) {
			specPath := filepath.Join(mc.WorktreePath, e.relWUPath(id))
			current, err := wu.Read(specPath, id)
			if err != nil {
				return nil, err
			}
			if current.Status == to {
				return nil, nil // another clone already transitioned it
			}
			if !wu.CanTransition(current.Status, t) {
				return nil, lferr.New(lferr.KindConcurrent,
					"%s changed to %s while %s was in flight", id, current.Status, t).
					WithRemediation("re-check `lf status %s`", id)
			}
			current.Status = to
			if err := wu.Write(specPath, current); err != nil {
				return nil, err
			}
			wtLog := events.NewLog(filepath.Join(mc.WorktreePath, e.relEventsPath()))
			if err := wtLog.Append(events.Event{
				Kind: kind, WUID: id, Lane: laneName, Title: title,
				SessionID: sessionID, Reason: reason,
			}); err != nil {
				return nil, err
			}
			return &microtree.Result{
				CommitMessage: fmt.Sprintf("chore(wu): %s %s", t, id),
				Files:         []string{e.relWUPath(id), e.relEventsPath()},
			}, nil
		},
	})
	if err != nil {
		return err
	}
	if t == wu.TransitionBlock {
		if lerr := e.locks.Release(laneName, id); lerr != nil {
			return lerr
		}
	}
	return nil
}
