package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lumenflow/lumenflow/internal/audit"
	"github.com/lumenflow/lumenflow/internal/debug"
	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/git"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/microtree"
	"github.com/lumenflow/lumenflow/internal/overlap"
	"github.com/lumenflow/lumenflow/internal/recovery"
	"github.com/lumenflow/lumenflow/internal/validation"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// ClaimOptions carries the claim-time flags.
type ClaimOptions struct {
	Lane            string // asserted against the spec's lane when non-empty
	Mode            wu.ClaimMode
	SessionID       string // ULID generated when empty
	Force           bool   // bypass lane contention, audited
	ForceOverlap    bool   // bypass overlap conflicts, audited; requires Reason
	Reason          string
	Fix             bool // apply fixable schema repairs inside the worktree
	AllowIncomplete bool
	Justification   string // WIP>1 note stored in the lock
}

// Claim moves a ready WU to in_progress: validations, lane lock, overlap
// check, worktree (or branch) provisioning, then the spec update and claim
// event pushed through a micro-worktree. A failed claim leaves no lock held,
// no branch, no worktree, no spec change and no event.
func (e *Engine) Claim(ctx context.Context, id string, opts ClaimOptions) error {
	return e.withOpLock(ctx, func() error { return e.claim(ctx, id, opts) })
}

func (e *Engine) claim(ctx context.Context, id string, opts ClaimOptions) error {
	remote := e.layout.Remote

	if err := e.repo.Fetch(ctx, remote); err != nil {
		return lferr.Wrap(lferr.KindGit, err, "fetching %s", remote)
	}

	w, err := wu.Read(e.layout.WUPath(id), id)
	if err != nil {
		return err
	}
	if opts.Lane != "" && opts.Lane != w.Lane {
		return lferr.New(lferr.KindValidation,
			"%s belongs to lane %s, not %s", id, w.Lane, opts.Lane).
			WithRemediation("claim without --lane, or fix the spec's lane field")
	}

	fixes, violations := validation.CheckSchema(w)
	if len(violations) > 0 {
		return lferr.New(lferr.KindValidation,
			"%s fails schema validation: %s", id, strings.Join(violations, "; "))
	}
	if len(fixes) > 0 && !opts.Fix {
		var problems []string
		for _, f := range fixes {
			problems = append(problems, f.Problem)
		}
		return lferr.New(lferr.KindValidation,
			"%s has fixable schema issues: %s", id, strings.Join(problems, "; ")).
			WithRemediation("re-run with --fix to repair them during the claim")
	}
	if err := validation.CheckLaneFormat(w.Lane); err != nil {
		return err
	}
	if err := validation.CheckTransition(w, wu.TransitionClaim); err != nil {
		return err
	}
	if err := validation.CheckCompleteness(w, opts.AllowIncomplete); err != nil {
		return err
	}
	if err := validation.CheckManualTests(w); err != nil {
		return err
	}

	if err := e.repairOrphansInLane(ctx, w.Lane); err != nil {
		return err
	}

	mode := opts.Mode
	if mode == "" {
		mode = wu.ModeWorktree
	}
	if !mode.IsValid() {
		return lferr.New(lferr.KindValidation, "unknown claim mode %q", mode)
	}

	lockHeld := false
	if err := e.locks.Acquire(w.Lane, id, opts.Justification); err != nil {
		if !lferr.Is(err, lferr.KindLaneBusy) || !opts.Force {
			return err
		}
		_, _ = e.audit.Append(&audit.Entry{
			Kind: audit.KindForcedLane, Actor: e.opts.Actor,
			WUID: id, Lane: w.Lane, Reason: opts.Reason,
		})
	} else {
		lockHeld = true
	}
	// Everything after the lock must release it on failure: a failed claim
	// leaves zero residue.
	fail := func(err error) error {
		if lockHeld {
			_ = e.locks.Release(w.Lane, id)
		}
		return err
	}

	if err := e.checkOverlap(ctx, id, w, opts); err != nil {
		return fail(err)
	}
	if err := e.checkModeConstraints(ctx, w.Lane, mode); err != nil {
		return fail(err)
	}

	baseline, err := e.repo.RevParse(ctx, remote+"/"+e.layout.MainBranch)
	if err != nil {
		return fail(lferr.Wrap(lferr.KindGit, err, "resolving %s/%s", remote, e.layout.MainBranch))
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	branch := e.layout.LaneBranch(w.Lane, id)
	wtPath := ""

	switch mode {
	case wu.ModeWorktree:
		wtPath = e.layout.WorktreePath(w.Lane, id)
		if err := e.repo.AddWorktree(ctx, wtPath, branch, remote+"/"+e.layout.MainBranch); err != nil {
			return fail(lferr.Wrap(lferr.KindGit, err, "creating worktree for %s", id))
		}
	case wu.ModeBranchOnly, wu.ModeBranchPR:
		if err := e.repo.CreateBranchFrom(ctx, branch, remote+"/"+e.layout.MainBranch); err != nil {
			return fail(lferr.Wrap(lferr.KindGit, err, "creating branch %s", branch))
		}
		if err := e.repo.Switch(ctx, branch); err != nil {
			_ = e.repo.DeleteLocalBranch(ctx, branch)
			return fail(lferr.Wrap(lferr.KindGit, err, "switching to %s", branch))
		}
	}
	// From here provisioning must also be undone on failure.
	failProvisioned := func(err error) error {
		if wtPath != "" {
			_ = e.repo.RemoveWorktree(ctx, wtPath)
		} else {
			_ = e.repo.Switch(ctx, e.layout.MainBranch)
		}
		_ = e.repo.DeleteLocalBranch(ctx, branch)
		return fail(err)
	}

	now := time.Now().UTC()
	claimed := *w
	for _, f := range fixes {
		f.Apply(&claimed)
	}
	claimed.Status = wu.StatusInProgress
	claimed.ClaimedAt = &now
	claimed.SessionID = sessionID
	claimed.ClaimedMode = mode
	claimed.ClaimedBranch = branch
	claimed.BaselineMainSHA = baseline
	if mode == wu.ModeWorktree {
		claimed.WorktreePath = wtPath
	}

	// Spec update and claim event travel in one transactional push so remote
	// readers never see a claimed spec without its event.
	err = e.runner.Run(ctx, microtree.Request{
		Operation: "claim",
		ID:        id,
		Execute: func(mc microtree.Ctx) (*microtree.Result, error) {
			if err := wu.Write(filepath.Join(mc.WorktreePath, e.relWUPath(id)), &claimed); err != nil {
				return nil, err
			}
			wtLog := events.NewLog(filepath.Join(mc.WorktreePath, e.relEventsPath()))
			if err := wtLog.Append(events.Event{
				Kind: events.KindClaim, WUID: id, Lane: w.Lane,
				Title: w.Title, SessionID: sessionID,
			}); err != nil {
				return nil, err
			}
			return &microtree.Result{
				CommitMessage: fmt.Sprintf("chore(wu): claim %s in %s", id, w.Lane),
				Files:         []string{e.relWUPath(id), e.relEventsPath()},
			}, nil
		},
	})
	if err != nil {
		return failProvisioned(err)
	}

	if wtPath != "" {
		if err := e.seedSymlinks(wtPath); err != nil {
			return failProvisioned(err)
		}
		// Give the agent's worktree the claimed spec without waiting for its
		// own fetch.
		wtRepo := git.New(wtPath)
		if err := wtRepo.Fetch(ctx, remote); err != nil {
			debug.Logf("claim: worktree fetch: %v\n", err)
		}
	}
	return nil
}

// checkOverlap compares the candidate's code_paths with every in-progress
// WU's declared paths.
func (e *Engine) checkOverlap(ctx context.Context, id string, w *wu.WU, opts ClaimOptions) error {
	inProgress, err := e.store.InProgress()
	if err != nil {
		return err
	}
	declared := map[string][]string{}
	for otherID := range inProgress {
		if otherID == id {
			continue
		}
		other, err := wu.Read(e.layout.WUPath(otherID), otherID)
		if err != nil {
			continue // a spec missing for an evented WU is doctor's problem
		}
		declared[otherID] = other.CodePaths
	}
	conflicts := overlap.Detect(w.CodePaths, declared)
	if len(conflicts) == 0 {
		return nil
	}
	if opts.ForceOverlap && opts.Reason != "" {
		_, _ = e.audit.Append(&audit.Entry{
			Kind: audit.KindForcedOverlap, Actor: e.opts.Actor,
			WUID: id, Lane: w.Lane, Reason: opts.Reason,
			Extra: map[string]any{"conflicts": conflicts},
		})
		return nil
	}
	var parts []string
	for _, c := range conflicts {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.WUID, strings.Join(c.OverlappingPaths, ", ")))
	}
	return lferr.New(lferr.KindOverlap,
		"%s's code_paths overlap in-progress work: %s", id, strings.Join(parts, "; ")).
		WithRemediation("narrow the code_paths, or re-run with --force-overlap --reason \"<why>\"")
}

// checkModeConstraints enforces the per-lane mode rules: at most one
// branch-only WU repo-wide (they share the caller's working tree), a clean
// tree for branch modes, and no mixing of branch-pr with worktree claims
// inside one lane.
func (e *Engine) checkModeConstraints(ctx context.Context, laneName string, mode wu.ClaimMode) error {
	if mode == wu.ModeWorktree {
		if err := e.laneModeConflict(laneName, wu.ModeBranchPR); err != nil {
			return err
		}
		return nil
	}

	clean, err := e.repo.IsClean(ctx)
	if err != nil {
		return lferr.Wrap(lferr.KindGit, err, "checking working tree")
	}
	if !clean {
		return lferr.New(lferr.KindValidation,
			"working tree has uncommitted changes; %s mode works in your checkout", mode).
			WithRemediation("commit or stash your changes first")
	}

	if mode == wu.ModeBranchOnly {
		active, err := e.activeWithMode(wu.ModeBranchOnly, "")
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return lferr.New(lferr.KindValidation,
				"branch-only WU already active: %s", strings.Join(active, ", ")).
				WithRemediation("finish it first; only one branch-only WU can use the checkout at a time")
		}
	}
	if mode == wu.ModeBranchPR {
		if err := e.laneModeConflict(laneName, wu.ModeWorktree); err != nil {
			return err
		}
	}
	return nil
}

// laneModeConflict fails when the lane has an active claim in the conflicting
// mode. branch-pr and worktree claims are mutually exclusive within a lane.
func (e *Engine) laneModeConflict(laneName string, conflicting wu.ClaimMode) error {
	active, err := e.activeWithMode(conflicting, laneName)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return lferr.New(lferr.KindValidation,
			"lane %s has active %s claims (%s); %s claims cannot coexist with them",
			laneName, conflicting, strings.Join(active, ", "), otherMode(conflicting))
	}
	return nil
}

func otherMode(m wu.ClaimMode) wu.ClaimMode {
	if m == wu.ModeWorktree {
		return wu.ModeBranchPR
	}
	return wu.ModeWorktree
}

// activeWithMode lists in_progress/blocked WUs claimed in the given mode,
// optionally narrowed to one lane.
func (e *Engine) activeWithMode(mode wu.ClaimMode, laneName string) ([]string, error) {
	specs, _, _ := wu.ScanDir(e.layout.WUDirPath())
	var out []string
	for _, s := range specs {
		if s.Status != wu.StatusInProgress && s.Status != wu.StatusBlocked {
			continue
		}
		if s.ClaimedMode != mode {
			continue
		}
		if laneName != "" && s.Lane != laneName {
			continue
		}
		out = append(out, s.ID)
	}
	return out, nil
}

// repairOrphansInLane resolves done-in-spec / in-progress-in-events
// disagreements before they block the lane. Exactly one orphan is repaired
// automatically (within the recovery attempt budget); more than one needs a
// human.
func (e *Engine) repairOrphansInLane(ctx context.Context, laneName string) error {
	specs, _, _ := wu.ScanDir(e.layout.WUDirPath())
	var orphans []*wu.WU
	for _, s := range specs {
		if s.Lane != laneName {
			continue
		}
		isOrphan, err := validation.CheckOrphan(s, e.store)
		if err != nil {
			return err
		}
		if isOrphan {
			orphans = append(orphans, s)
		}
	}
	switch len(orphans) {
	case 0:
		return nil
	case 1:
	default:
		var ids []string
		for _, o := range orphans {
			ids = append(ids, o.ID)
		}
		return lferr.New(lferr.KindRecovery,
			"lane %s has %d orphaned WUs (%s); refusing to auto-repair more than one",
			laneName, len(orphans), strings.Join(ids, ", ")).
			WithRemediation("run `lf doctor` and repair them one by one")
	}

	o := orphans[0]
	markerPath := e.layout.RecoveryPath(o.ID)
	if err := recovery.CheckBudget(markerPath, o.ID); err != nil {
		return err
	}
	if _, err := recovery.RecordAttempt(markerPath, "auto-repair"); err != nil {
		return err
	}

	// The repair is one missing done event, appended and pushed through a
	// micro-worktree so other clones converge too.
	err := e.runner.Run(ctx, microtree.Request{
		Operation: "repair",
		ID:        o.ID,
		Execute: func(mc microtree.Ctx) (*microtree.Result, error) {
			wtLog := events.NewLog(filepath.Join(mc.WorktreePath, e.relEventsPath()))
			wtStore := events.NewStore(wtLog)
			eff, err := wtStore.EffectiveStatus(o.ID)
			if err != nil {
				return nil, err
			}
			if eff == "done" {
				return nil, nil // another clone repaired it first
			}
			if err := wtLog.Append(events.Event{
				Kind: events.KindDone, WUID: o.ID, Lane: o.Lane, Title: o.Title,
			}); err != nil {
				return nil, err
			}
			return &microtree.Result{
				CommitMessage: fmt.Sprintf("chore(wu): repair orphaned %s", o.ID),
				Files:         []string{e.relEventsPath()},
			}, nil
		},
	})
	if err != nil {
		return lferr.Wrap(lferr.KindRecovery, err, "auto-repairing orphan %s", o.ID)
	}
	_, _ = e.audit.Append(&audit.Entry{
		Kind: audit.KindAutoRepair, Actor: e.opts.Actor,
		WUID: o.ID, Lane: o.Lane, Reason: "orphaned done event appended",
	})
	return recovery.ClearAttempts(markerPath)
}

// seedSymlinks links configured dependency directories from the main checkout
// into a fresh worktree so agents skip a cold install. Refused when the main
// checkout's copy contains symlinks dangling into a removed worktree; seeding
// would spread the corruption.
func (e *Engine) seedSymlinks(wtPath string) error {
	for _, name := range e.opts.SeedSymlinks {
		src := filepath.Join(e.layout.Root, name)
		fi, err := os.Stat(src)
		if err != nil || !fi.IsDir() {
			continue
		}
		if dangling, bad := hasDanglingSymlink(src); dangling {
			return lferr.New(lferr.KindValidation,
				"%s contains a dangling symlink (%s); refusing to seed it into the worktree", src, bad).
				WithRemediation("remove the dangling entries, or reinstall dependencies in the main checkout")
		}
		dst := filepath.Join(wtPath, name)
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.Symlink(src, dst); err != nil {
			return lferr.Wrap(lferr.KindIO, err, "seeding %s", dst)
		}
	}
	return nil
}

// hasDanglingSymlink scans one directory level for symlinks whose target is
// gone.
func hasDanglingSymlink(dir string) (bool, string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, ""
	}
	for _, en := range entries {
		if en.Type()&os.ModeSymlink == 0 {
			continue
		}
		p := filepath.Join(dir, en.Name())
		if _, err := os.Stat(p); err != nil {
			return true, p
		}
	}
	return false, ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
