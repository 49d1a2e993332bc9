package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lumenflow/lumenflow/internal/audit"
	"github.com/lumenflow/lumenflow/internal/debug"
	"github.com/lumenflow/lumenflow/internal/docs"
	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/git"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/microtree"
	"github.com/lumenflow/lumenflow/internal/recovery"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// RecoverOptions carries the recovery flags.
type RecoverOptions struct {
	Force          bool // required for reset and nuke
	DiscardChanges bool // reset despite uncommitted worktree changes
}

// RecoverResult pairs the pre-action analysis with what was done.
type RecoverResult struct {
	Analysis *recovery.Analysis `json:"analysis"`
	Action   recovery.Action    `json:"action"`
	Outcome  string             `json:"outcome"`
}

// Analyze returns the cross-artifact analysis of a WU without acting on it.
func (e *Engine) Analyze(ctx context.Context, id string) (*recovery.Analysis, error) {
	w, err := wu.Read(e.layout.WUPath(id), id)
	if err != nil {
		return nil, err
	}
	return recovery.Analyze(ctx, e.layout, e.repo, e.store, w)
}

// Recover analyzes a WU's cross-artifact state and applies the requested
// recovery action. resume preserves work; reset and nuke are destructive and
// require Force; cleanup only removes a leftover worktree of a done WU.
func (e *Engine) Recover(ctx context.Context, id string, action recovery.Action, opts RecoverOptions) (*RecoverResult, error) {
	var result *RecoverResult
	err := e.withOpLock(ctx, func() error {
		var err error
		result, err = e.recover(ctx, id, action, opts)
		return err
	})
	return result, err
}

func (e *Engine) recover(ctx context.Context, id string, action recovery.Action, opts RecoverOptions) (*RecoverResult, error) {
	w, err := wu.Read(e.layout.WUPath(id), id)
	if err != nil {
		return nil, err
	}
	analysis, err := recovery.Analyze(ctx, e.layout, e.repo, e.store, w)
	if err != nil {
		return nil, err
	}
	result := &RecoverResult{Analysis: analysis, Action: action}

	if action.Destructive() && !opts.Force {
		return result, lferr.New(lferr.KindValidation,
			"%s is destructive and needs --force", action).
			WithRemediation("re-run `lf recover %s %s --force` after reviewing the analysis", id, action)
	}

	markerPath := e.layout.RecoveryPath(id)
	if !opts.Force {
		if err := recovery.CheckBudget(markerPath, id); err != nil {
			return result, err
		}
	}
	if _, err := recovery.RecordAttempt(markerPath, action); err != nil {
		return result, err
	}

	switch action {
	case recovery.ActionResume:
		err = e.recoverResume(ctx, w)
		result.Outcome = fmt.Sprintf("%s resumed as in_progress", id)
	case recovery.ActionReset:
		err = e.recoverReset(ctx, w, opts, false)
		result.Outcome = fmt.Sprintf("%s reset to ready", id)
	case recovery.ActionNuke:
		err = e.recoverReset(ctx, w, opts, true)
		result.Outcome = fmt.Sprintf("%s removed entirely", id)
	case recovery.ActionCleanup:
		err = e.recoverCleanup(ctx, w, analysis)
		result.Outcome = fmt.Sprintf("leftover worktree of %s removed", id)
	default:
		return result, lferr.New(lferr.KindValidation, "unknown recovery action %q", action)
	}
	if err != nil {
		return result, err
	}

	_, _ = e.audit.Append(&audit.Entry{
		Kind: audit.KindRecovery, Actor: e.opts.Actor,
		WUID: id, Lane: w.Lane, Reason: string(action),
	})
	if cerr := recovery.ClearAttempts(markerPath); cerr != nil {
		debug.Logf("recover: clearing attempts: %v\n", cerr)
	}
	return result, nil
}

// recoverResume re-establishes the claim: status back to in_progress with the
// existing claim metadata (re-stamped when it was lost), plus a fresh claim
// event. Work in the worktree is untouched.
func (e *Engine) recoverResume(ctx context.Context, w *wu.WU) error {
	if w.Status == wu.StatusDone {
		return lferr.New(lferr.KindTransition, "%s is done; resume cannot reopen it", w.ID).
			WithRemediation("use `lf recover %s cleanup` for leftover artifacts, or nuke to discard the WU", w.ID)
	}

	resumed := *w
	resumed.Status = wu.StatusInProgress
	if resumed.ClaimedAt == nil {
		now := time.Now().UTC()
		resumed.ClaimedAt = &now
	}
	if resumed.ClaimedMode == "" {
		resumed.ClaimedMode = wu.ModeWorktree
	}
	if resumed.ClaimedBranch == "" {
		resumed.ClaimedBranch = e.layout.LaneBranch(w.Lane, w.ID)
	}

	held, _, _, err := e.locks.Check(w.Lane)
	if err != nil {
		return err
	}
	holdsOurs := false
	if held {
		holders, err := e.locks.Holders(w.Lane)
		if err != nil {
			return err
		}
		for _, h := range holders {
			if h.WUID == w.ID {
				holdsOurs = true
			}
		}
	}
	if !holdsOurs {
		if err := e.locks.Acquire(w.Lane, w.ID, "resume"); err != nil {
			return err
		}
	}

	err = e.runner.Run(ctx, microtree.Request{
		Operation: "resume",
		ID:        w.ID,
		PushOnly:  true,
		Execute: func(mc microtree.Ctx) (*microtree.Result, error) {
			if err := wu.Write(filepath.Join(mc.WorktreePath, e.relWUPath(w.ID)), &resumed); err != nil {
				return nil, err
			}
			wtLog := events.NewLog(filepath.Join(mc.WorktreePath, e.relEventsPath()))
			if err := wtLog.Append(events.Event{
				Kind: events.KindClaim, WUID: w.ID, Lane: w.Lane,
				Title: w.Title, SessionID: w.SessionID, Reason: "resume",
			}); err != nil {
				return nil, err
			}
			return &microtree.Result{
				CommitMessage: fmt.Sprintf("chore(wu): resume %s", w.ID),
				Files:         []string{e.relWUPath(w.ID), e.relEventsPath()},
			}, nil
		},
	})
	if err != nil {
		if !holdsOurs {
			_ = e.locks.Release(w.Lane, w.ID)
		}
		return err
	}
	return nil
}

// recoverReset tears the claim down: worktree gone, claim metadata cleared,
// status ready (spec removed entirely when nuke), release event, lane
// branches deleted, lock released.
func (e *Engine) recoverReset(ctx context.Context, w *wu.WU, opts RecoverOptions, nuke bool) error {
	wtPath := w.WorktreePath
	if wtPath == "" {
		wtPath = e.layout.WorktreePath(w.Lane, w.ID)
	}
	if fileExists(wtPath) {
		clean, err := git.New(wtPath).IsClean(ctx)
		if err == nil && !clean && !opts.DiscardChanges {
			return lferr.New(lferr.KindValidation,
				"worktree %s has uncommitted changes", wtPath).
				WithRemediation("commit or stash them, or re-run with --discard-changes to lose them")
		}
		if err := e.repo.RemoveWorktree(ctx, wtPath); err != nil {
			return lferr.Wrap(lferr.KindGit, err, "removing worktree %s", wtPath)
		}
	}

	branch := w.ClaimedBranch
	if branch == "" {
		branch = e.layout.LaneBranch(w.Lane, w.ID)
	}

	reset := *w
	reset.Status = wu.StatusReady
	reset.ClearClaimMetadata()

	err := e.runner.Run(ctx, microtree.Request{
		Operation: "reset",
		ID:        w.ID,
		PushOnly:  true,
		Execute: func(mc microtree.Ctx) (*microtree.Result, error) {
			files := []string{e.relEventsPath()}
			specPath := filepath.Join(mc.WorktreePath, e.relWUPath(w.ID))
			if nuke {
				if err := os.Remove(specPath); err != nil && !os.IsNotExist(err) {
					return nil, lferr.Wrap(lferr.KindIO, err, "removing %s", specPath)
				}
				files = append(files, e.relWUPath(w.ID))
				statusRel := e.layout.StatusDoc
				if err := editDoc(filepath.Join(mc.WorktreePath, statusRel), func(doc string) (string, bool) {
					return docs.RemoveEverywhere(doc, w.ID)
				}); err != nil {
					return nil, err
				}
				backlogRel := e.layout.BacklogDoc
				if err := editDoc(filepath.Join(mc.WorktreePath, backlogRel), func(doc string) (string, bool) {
					return docs.RemoveEverywhere(doc, w.ID)
				}); err != nil {
					return nil, err
				}
				files = append(files, statusRel, backlogRel)
			} else {
				if err := wu.Write(specPath, &reset); err != nil {
					return nil, err
				}
				files = append(files, e.relWUPath(w.ID))
			}
			wtLog := events.NewLog(filepath.Join(mc.WorktreePath, e.relEventsPath()))
			if err := wtLog.Append(events.Event{
				Kind: events.KindRelease, WUID: w.ID, Lane: w.Lane,
				Title: w.Title, Reason: "recovery reset",
			}); err != nil {
				return nil, err
			}
			verb := "reset"
			if nuke {
				verb = "nuke"
			}
			return &microtree.Result{
				CommitMessage: fmt.Sprintf("chore(wu): %s %s", verb, w.ID),
				Files:         files,
			}, nil
		},
	})
	if err != nil {
		return err
	}

	if err := e.repo.DeleteLocalBranch(ctx, branch); err != nil {
		debug.Logf("recover: deleting local branch: %v\n", err)
	}
	if err := e.repo.PushDelete(ctx, e.layout.Remote, branch); err != nil {
		debug.Logf("recover: deleting remote branch: %v\n", err)
	}
	if err := e.locks.Release(w.Lane, w.ID); err != nil {
		return err
	}
	if nuke {
		// The local spec copy disappears with the next pull; drop it now so
		// the nuke is immediately visible.
		if err := os.Remove(e.layout.WUPath(w.ID)); err != nil && !os.IsNotExist(err) {
			debug.Logf("recover: removing local spec: %v\n", err)
		}
	}
	return nil
}

// recoverCleanup removes the leftover worktree of a done WU. Status, events
// and docs are untouched.
func (e *Engine) recoverCleanup(ctx context.Context, w *wu.WU, analysis *recovery.Analysis) error {
	if w.Status != wu.StatusDone {
		return lferr.New(lferr.KindValidation,
			"cleanup only applies to done WUs; %s is %s", w.ID, w.Status).
			WithRemediation("use resume or reset for a live claim")
	}
	if !analysis.WorktreePresent {
		return nil
	}
	if err := e.repo.RemoveWorktree(ctx, analysis.WorktreePath); err != nil {
		return lferr.Wrap(lferr.KindGit, err, "removing worktree %s", analysis.WorktreePath)
	}
	return nil
}
