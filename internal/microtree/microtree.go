// Package microtree implements the transactional write pattern for shared
// documents: an ephemeral worktree on a throwaway branch off the latest
// remote main, a caller-supplied mutation, a commit and push of exactly the
// files the mutation names, and a teardown that runs on every exit path.
//
// The caller's working tree is never touched, with one exception: when
// PushOnly is false the caller's main is fast-forwarded (never merged) after
// the push so subsequent reads see the new state.
package microtree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/debug"
	"github.com/lumenflow/lumenflow/internal/git"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/workspace"
)

// Ctx is handed to the Execute closure. All mutations must stay inside
// WorktreePath.
type Ctx struct {
	WorktreePath string
}

// Result names the commit to make. Returning nil means no-op: nothing is
// committed or pushed, and teardown still runs.
type Result struct {
	CommitMessage string
	// Files are worktree-relative paths to stage. Exactly these are staged;
	// stray changes in the worktree are not swept up.
	Files []string
}

// Request describes one transactional write.
type Request struct {
	Operation string // short verb used in the throwaway ref name
	ID        string // WU id or similar discriminator
	PushOnly  bool   // skip the fast-forward of the caller's main
	Execute   func(Ctx) (*Result, error)
}

// step names for typed failure reporting.
const (
	stepFetch    = "fetch"
	stepBranch   = "branch"
	stepWorktree = "worktree"
	stepExecute  = "execute"
	stepCommit   = "commit"
	stepPush     = "push"
	stepFF       = "fast-forward"
)

// StepError names the transaction step that failed; teardown has already run
// by the time the caller sees one.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("micro-worktree %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner executes micro-worktree transactions against one repository.
type Runner struct {
	layout workspace.Layout
	repo   *git.Repo
	commit git.CommitOptions
}

// NewRunner creates a runner for the layout's main checkout.
func NewRunner(layout workspace.Layout, commit git.CommitOptions) *Runner {
	return &Runner{layout: layout, repo: git.New(layout.Root), commit: commit}
}

// Run performs the transaction. Teardown (worktree remove, local branch
// delete, remote branch delete) runs on success, error and cancellation.
func (r *Runner) Run(ctx context.Context, req Request) error {
	remote := r.layout.Remote
	main := r.layout.MainBranch
	ref := fmt.Sprintf("lf/micro/%s-%s-%d", req.Operation, strings.ToLower(req.ID), time.Now().UnixNano())
	scratch := filepath.Join(os.TempDir(), "lf-micro-"+fmt.Sprintf("%d", time.Now().UnixNano()))

	if err := r.repo.Fetch(ctx, remote); err != nil {
		return &StepError{Step: stepFetch, Err: err}
	}
	if err := r.repo.CreateBranchFrom(ctx, ref, remote+"/"+main); err != nil {
		return &StepError{Step: stepBranch, Err: err}
	}

	pushed := false
	defer func() {
		// Teardown is unconditional. Failures here are logged, never
		// surfaced over the primary outcome.
		if err := r.repo.RemoveWorktree(context.Background(), scratch); err != nil {
			debug.Logf("microtree: teardown worktree: %v\n", err)
		}
		if err := r.repo.DeleteLocalBranch(context.Background(), ref); err != nil {
			debug.Logf("microtree: teardown local branch: %v\n", err)
		}
		if pushed {
			if err := r.repo.PushDelete(context.Background(), remote, ref); err != nil {
				debug.Logf("microtree: teardown remote branch: %v\n", err)
			}
		}
	}()

	if err := r.repo.AddWorktree(ctx, scratch, ref, remote+"/"+main); err != nil {
		return &StepError{Step: stepWorktree, Err: err}
	}
	wt := git.New(scratch)

	// Pull-then-push serialization against the remote: when a racing writer
	// advances main between our fetch and our push, reset the scratch
	// worktree onto the new base and re-run the mutation.
	const pushAttempts = 3
	for attempt := 1; ; attempt++ {
		result, err := req.Execute(Ctx{WorktreePath: scratch})
		if err != nil {
			return &StepError{Step: stepExecute, Err: err}
		}
		if result == nil {
			return nil
		}
		if result.CommitMessage == "" || len(result.Files) == 0 {
			return &StepError{Step: stepExecute, Err: errors.New("execute returned files without a commit message or vice versa")}
		}

		if err := wt.Add(ctx, result.Files...); err != nil {
			return &StepError{Step: stepCommit, Err: err}
		}
		if err := wt.Commit(ctx, result.CommitMessage, r.commit); err != nil {
			return &StepError{Step: stepCommit, Err: err}
		}
		// The throwaway ref goes up first so the teardown path has one
		// object to delete whether or not the main advance lands. Forced:
		// a rebased retry rewrites it.
		if err := wt.ForcePush(ctx, remote, ref); err != nil {
			return &StepError{Step: stepPush, Err: err}
		}
		pushed = true

		err = wt.Push(ctx, remote, ref+":"+main)
		if err == nil {
			break
		}
		if attempt == pushAttempts || !isNonFastForward(err) {
			return &StepError{Step: stepPush, Err: err}
		}
		debug.Logf("microtree: main advanced under us (attempt %d), rebasing mutation\n", attempt)
		if err := r.repo.Fetch(ctx, remote); err != nil {
			return &StepError{Step: stepPush, Err: err}
		}
		if err := wt.ResetHard(ctx, remote+"/"+main); err != nil {
			return &StepError{Step: stepPush, Err: err}
		}
	}

	if !req.PushOnly {
		if err := r.repo.Fetch(ctx, remote); err != nil {
			return &StepError{Step: stepFF, Err: err}
		}
		cur, err := r.repo.CurrentBranch(ctx)
		if err != nil {
			return &StepError{Step: stepFF, Err: err}
		}
		if cur == main {
			if err := r.repo.FastForward(ctx, remote, main); err != nil {
				var div *git.DivergedError
				if errors.As(err, &div) {
					return lferr.Wrap(lferr.KindGit, err,
						"local %s diverged from %s/%s after push", main, remote, main).
						WithRemediation("resolve the divergence manually, then re-run")
				}
				return &StepError{Step: stepFF, Err: err}
			}
		}
	}
	return nil
}

func isNonFastForward(err error) bool {
	var ce *git.CommandError
	if !errors.As(err, &ce) {
		return false
	}
	return strings.Contains(ce.Stderr, "non-fast-forward") ||
		strings.Contains(ce.Stderr, "fetch first") ||
		strings.Contains(ce.Stderr, "rejected")
}
