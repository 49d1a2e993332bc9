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
	"github.com/lumenflow/lumenflow/internal/validation"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// DoneOptions carries the done-time flags.
type DoneOptions struct {
	SkipGates bool   // requires Reason; audited
	Reason    string // justification for SkipGates
}

// Done completes an in-progress WU: gates, coverage, stamp, spec flip, doc
// updates, one commit pushed to main, then lock release and worktree cleanup.
// Re-running done on an already-done WU is a success no-op; a half-done
// zombie is repaired idempotently. Any failure restores every touched file.
func (e *Engine) Done(ctx context.Context, id string, opts DoneOptions) error {
	return e.withOpLock(ctx, func() error { return e.done(ctx, id, opts) })
}

func (e *Engine) done(ctx context.Context, id string, opts DoneOptions) error {
	w, err := wu.Read(e.layout.WUPath(id), id)
	if err != nil {
		return err
	}

	// Double-done and zombie repair share the resume path.
	if w.Status == wu.StatusDone {
		return e.resumeDone(ctx, w)
	}
	if err := validation.CheckTransition(w, wu.TransitionDone); err != nil {
		return err
	}

	cur, err := e.repo.CurrentBranch(ctx)
	if err != nil {
		return lferr.Wrap(lferr.KindGit, err, "resolving current branch")
	}
	if cur != e.layout.MainBranch {
		// branch-pr completes from its own branch; the PR merge carries the
		// code, this transition carries the bookkeeping.
		if !(w.ClaimedMode == wu.ModeBranchPR && cur == w.ClaimedBranch) {
			return lferr.New(lferr.KindValidation,
				"done must run from %s (currently on %s)", e.layout.MainBranch, cur).
				WithRemediation("switch to %s and re-run", e.layout.MainBranch)
		}
	}

	gateDir := e.layout.Root
	if w.ClaimedMode == wu.ModeWorktree && w.WorktreePath != "" {
		gateDir = w.WorktreePath
	}
	if opts.SkipGates {
		if opts.Reason == "" {
			return lferr.New(lferr.KindValidation, "--skip-gates requires a reason")
		}
		_, _ = e.audit.Append(&audit.Entry{
			Kind: audit.KindGatesSkipped, Actor: e.opts.Actor,
			WUID: id, Lane: w.Lane, Reason: opts.Reason,
		})
	} else if e.opts.Gates != nil {
		if err := e.opts.Gates.Run(ctx, w, gateDir); err != nil {
			return lferr.Wrap(lferr.KindValidation, err, "quality gates failed for %s", id).
				WithRemediation("fix the gate failures, or re-run with --skip-gates --reason \"<why>\"")
		}
	}

	if err := e.checkCoverage(ctx, w); err != nil {
		return err
	}

	// Snapshot before the first mutation. The stamp may not exist yet; its
	// nonexistence is part of the snapshot.
	wuPath := e.layout.WUPath(id)
	stampPath := e.layout.StampPath(id)
	statusPath := e.layout.StatusPath()
	backlogPath := e.layout.BacklogPath()
	j := &journal{}
	for _, p := range []string{wuPath, stampPath, statusPath, backlogPath, e.layout.EventsPath()} {
		if err := j.snapshot(p); err != nil {
			return err
		}
	}
	preHead, err := e.repo.HeadSHA(ctx)
	if err != nil {
		return lferr.Wrap(lferr.KindGit, err, "recording pre-done HEAD")
	}
	fail := func(cause error) error {
		// Mixed reset only: it unwinds the commit and index while leaving the
		// working tree alone, so unrelated uncommitted changes in the checkout
		// survive. The journal restores the touched files byte-exactly.
		if rerr := e.repo.ResetMixed(ctx, preHead); rerr != nil {
			debug.Logf("done: reset to %s: %v\n", preHead, rerr)
		}
		if rerr := j.restore(); rerr != nil {
			debug.Logf("done: restore: %v\n", rerr)
		}
		kind := lferr.KindOf(cause)
		if kind == lferr.KindFatal {
			kind = lferr.KindGit
		}
		return lferr.Wrap(kind, cause, "done failed for %s; files restored", id).
			WithRemediation("re-run `lf done %s` once the underlying problem is fixed", id)
	}

	now := time.Now().UTC()
	completed := *w
	completed.Status = wu.StatusDone
	completed.Locked = true
	completed.CompletedAt = &now
	completed.ClearClaimMetadata()

	if err := writeStamp(stampPath, id, now); err != nil {
		return fail(err)
	}
	if err := wu.Write(wuPath, &completed); err != nil {
		return fail(err)
	}
	if err := e.updateDocs(statusPath, backlogPath, id, w.Title); err != nil {
		return fail(err)
	}
	if err := e.log.Append(events.Event{
		Kind: events.KindDone, WUID: id, Lane: w.Lane, Title: w.Title, SessionID: w.SessionID,
	}); err != nil {
		return fail(err)
	}

	files := []string{
		e.relWUPath(id),
		filepath.Join(e.layout.StampsDir, id+".done"),
		e.layout.StatusDoc,
		e.layout.BacklogDoc,
		e.relEventsPath(),
	}
	if err := e.repo.Add(ctx, files...); err != nil {
		return fail(err)
	}
	msg := fmt.Sprintf("chore(wu): complete %s - %s", id, w.Title)
	if err := e.repo.Commit(ctx, msg, e.opts.Commit); err != nil {
		return fail(err)
	}
	if err := e.repo.Push(ctx, e.layout.Remote, cur); err != nil {
		return fail(err)
	}

	e.cleanupClaim(ctx, w)
	return nil
}

// resumeDone repairs a WU whose spec already says done but whose other
// artifacts lag behind (mid-done crash). Fully consistent state is a no-op.
func (e *Engine) resumeDone(ctx context.Context, w *wu.WU) error {
	stampPath := e.layout.StampPath(w.ID)
	statusPath := e.layout.StatusPath()
	backlogPath := e.layout.BacklogPath()

	eff, err := e.store.EffectiveStatus(w.ID)
	if err != nil {
		return err
	}
	statusDoc, _ := os.ReadFile(statusPath) // #nosec G304
	needsStamp := !fileExists(stampPath)
	needsDocs := docs.ListedInProgress(string(statusDoc), w.ID)
	needsEvent := eff != "done"
	wtPath := w.WorktreePath
	if wtPath == "" {
		wtPath = e.layout.WorktreePath(w.Lane, w.ID)
	}
	needsWorktree := fileExists(wtPath)

	if !needsStamp && !needsDocs && !needsEvent && !needsWorktree {
		return nil // genuinely done everywhere
	}

	j := &journal{}
	for _, p := range []string{stampPath, statusPath, backlogPath, e.layout.EventsPath()} {
		if err := j.snapshot(p); err != nil {
			return err
		}
	}
	preHead, err := e.repo.HeadSHA(ctx)
	if err != nil {
		return lferr.Wrap(lferr.KindGit, err, "recording pre-repair HEAD")
	}
	fail := func(cause error) error {
		_ = e.repo.ResetMixed(ctx, preHead)
		_ = j.restore()
		return lferr.Wrap(lferr.KindRecovery, cause, "zombie repair failed for %s; files restored", w.ID)
	}

	var files []string
	if needsStamp {
		ts := time.Now().UTC()
		if w.CompletedAt != nil {
			ts = *w.CompletedAt
		}
		if err := writeStamp(stampPath, w.ID, ts); err != nil {
			return fail(err)
		}
		files = append(files, filepath.Join(e.layout.StampsDir, w.ID+".done"))
	}
	if needsDocs {
		if err := e.updateDocs(statusPath, backlogPath, w.ID, w.Title); err != nil {
			return fail(err)
		}
		files = append(files, e.layout.StatusDoc, e.layout.BacklogDoc)
	}
	if needsEvent {
		if err := e.log.Append(events.Event{
			Kind: events.KindDone, WUID: w.ID, Lane: w.Lane, Title: w.Title,
		}); err != nil {
			return fail(err)
		}
		files = append(files, e.relEventsPath())
	}

	if len(files) > 0 {
		if err := e.repo.Add(ctx, files...); err != nil {
			return fail(err)
		}
		msg := fmt.Sprintf("chore(wu): repair completion of %s", w.ID)
		if err := e.repo.Commit(ctx, msg, e.opts.Commit); err != nil {
			return fail(err)
		}
		cur, err := e.repo.CurrentBranch(ctx)
		if err != nil {
			return fail(err)
		}
		if err := e.repo.Push(ctx, e.layout.Remote, cur); err != nil {
			return fail(err)
		}
	}

	if needsWorktree {
		if err := e.repo.RemoveWorktree(ctx, wtPath); err != nil {
			debug.Logf("done: removing zombie worktree %s: %v\n", wtPath, err)
		}
	}
	e.cleanupClaim(ctx, w)
	_, _ = e.audit.Append(&audit.Entry{
		Kind: audit.KindRecovery, Actor: e.opts.Actor,
		WUID: w.ID, Lane: w.Lane, Reason: "zombie done state repaired",
	})
	return nil
}

// checkCoverage compares the actual change set with the declared code_paths.
func (e *Engine) checkCoverage(ctx context.Context, w *wu.WU) error {
	if w.BaselineMainSHA == "" {
		return lferr.New(lferr.KindValidation,
			"%s has no baseline_main_sha; cannot verify code-path coverage", w.ID).
			WithRemediation("run `lf recover %s reset` and claim again", w.ID)
	}
	diffRepo := e.repo
	if w.ClaimedMode == wu.ModeWorktree {
		if w.WorktreePath == "" || !fileExists(w.WorktreePath) {
			return lferr.New(lferr.KindValidation,
				"%s's worktree is missing; cannot compute its change set", w.ID).
				WithRemediation("run `lf recover %s` to analyze the state", w.ID)
		}
		diffRepo = git.New(w.WorktreePath)
	}
	changed, err := diffRepo.ChangedFiles(ctx, w.BaselineMainSHA, e.opts.RenameDetection)
	if err != nil {
		return lferr.Wrap(lferr.KindGit, err, "computing change set for %s", w.ID)
	}
	return validation.CheckCoverage(w.CodePaths, changed)
}

// updateDocs moves the WU's dashboard entries into their done sections.
func (e *Engine) updateDocs(statusPath, backlogPath, id, title string) error {
	if err := editDoc(statusPath, func(doc string) (string, bool) {
		return docs.MarkDone(doc, docs.SectionCompleted, id, title)
	}); err != nil {
		return err
	}
	return editDoc(backlogPath, func(doc string) (string, bool) {
		return docs.MarkDone(doc, docs.SectionDone, id, title)
	})
}

// editDoc applies an idempotent transform to a dashboard file. A missing file
// starts empty; an unchanged doc is not rewritten.
func editDoc(path string, transform func(string) (string, bool)) error {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil && !os.IsNotExist(err) {
		return lferr.Wrap(lferr.KindIO, err, "reading %s", path)
	}
	out, changed := transform(string(data))
	if !changed {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, []byte(out), 0644); err != nil { // nolint:gosec
		return lferr.Wrap(lferr.KindIO, err, "writing %s", path)
	}
	return nil
}

func writeStamp(path, id string, ts time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating stamps directory")
	}
	content := fmt.Sprintf("%s completed at %s\n", id, ts.Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil { // nolint:gosec
		return lferr.Wrap(lferr.KindIO, err, "writing stamp %s", path)
	}
	return nil
}

// cleanupClaim releases the lane lock and removes the worktree and lane
// branches. Failures here are logged, never surfaced; the completion has
// already landed.
func (e *Engine) cleanupClaim(ctx context.Context, w *wu.WU) {
	if err := e.locks.Release(w.Lane, w.ID); err != nil {
		debug.Logf("done: releasing lane lock: %v\n", err)
	}
	wtPath := w.WorktreePath
	if wtPath == "" {
		wtPath = e.layout.WorktreePath(w.Lane, w.ID)
	}
	if fileExists(wtPath) {
		if err := e.repo.RemoveWorktree(ctx, wtPath); err != nil {
			debug.Logf("done: removing worktree: %v\n", err)
		}
	}
	branch := w.ClaimedBranch
	if branch == "" {
		branch = e.layout.LaneBranch(w.Lane, w.ID)
	}
	if err := e.repo.DeleteLocalBranch(ctx, branch); err != nil {
		debug.Logf("done: deleting local branch: %v\n", err)
	}
	if err := e.repo.PushDelete(ctx, e.layout.Remote, branch); err != nil {
		debug.Logf("done: deleting remote branch: %v\n", err)
	}
}
