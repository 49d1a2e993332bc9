// Package git wraps the git CLI for the coordinator. Everything shells out;
// the repository and its remote are the coordination substrate, so the
// semantics we need are exactly the CLI's.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/lumenflow/lumenflow/internal/debug"
)

// CommandError carries the full git invocation context for diagnosis.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Repo is a handle on one checkout (the main checkout or a worktree).
type Repo struct {
	Dir string
}

// New returns a handle rooted at dir.
func New(dir string) *Repo { return &Repo{Dir: dir} }

// run executes git with auto-maintenance disabled so frequent micro-worktree
// churn does not spawn background gc helpers mid-transaction.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	base := []string{
		"-C", r.Dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.CommandContext(ctx, "git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		debug.Logf("git: %s failed: %s\n", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
		return stdout.String(), &CommandError{Args: args, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// IsRepo reports whether the directory is inside a git work tree.
func (r *Repo) IsRepo(ctx context.Context) bool {
	out, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// HeadSHA returns the commit hash of HEAD.
func (r *Repo) HeadSHA(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RevParse resolves a ref to a commit hash.
func (r *Repo) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := r.run(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsClean reports whether the working tree has no staged or unstaged changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// BranchExists checks local refs, then the remote-tracking namespace when a
// remote is given.
func (r *Repo) BranchExists(ctx context.Context, remote, branch string) bool {
	if _, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch); err == nil {
		return true
	}
	if remote == "" {
		return false
	}
	if _, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/remotes/"+remote+"/"+branch); err == nil {
		return true
	}
	return false
}

// Fetch updates remote-tracking refs. Retried on transient failures.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	return retryTransient(ctx, func() error {
		_, err := r.run(ctx, "fetch", "--prune", remote)
		return err
	})
}

// Push pushes a branch to the remote, retried on transient failures.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	return retryTransient(ctx, func() error {
		_, err := r.run(ctx, "push", remote, branch)
		return err
	})
}

// ForcePush force-pushes a refspec. Only throwaway refs go through here.
func (r *Repo) ForcePush(ctx context.Context, remote, refspec string) error {
	return retryTransient(ctx, func() error {
		_, err := r.run(ctx, "push", "--force", remote, refspec)
		return err
	})
}

// PushDelete removes a remote branch. A branch already gone is not an error.
func (r *Repo) PushDelete(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, "push", remote, "--delete", branch)
	if err != nil && isMissingRemoteRef(err) {
		return nil
	}
	return err
}

// ErrDiverged reports that a fast-forward was impossible because local and
// remote histories diverged. Callers must not merge; they surface this.
type DivergedError struct {
	Branch string
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("branch %s has diverged from its remote; refusing to merge", e.Branch)
}

// FastForward advances branch to the remote-tracking ref, fast-forward only.
// On divergence a *DivergedError is returned and the tree is untouched.
func (r *Repo) FastForward(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, "merge", "--ff-only", remote+"/"+branch)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) &&
			(strings.Contains(ce.Stderr, "Not possible to fast-forward") ||
				strings.Contains(ce.Stderr, "fatal: Not possible")) {
			return &DivergedError{Branch: branch}
		}
		return err
	}
	return nil
}

// CreateBranchFrom creates (or resets) a local branch at the given start ref.
func (r *Repo) CreateBranchFrom(ctx context.Context, branch, startRef string) error {
	_, err := r.run(ctx, "branch", "--force", branch, startRef)
	return err
}

// DeleteLocalBranch force-deletes a local branch. Already-missing is fine.
func (r *Repo) DeleteLocalBranch(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "branch", "-D", branch)
	if err != nil && isMissingLocalRef(err) {
		return nil
	}
	return err
}

// Switch checks out an existing branch in this checkout.
func (r *Repo) Switch(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "switch", branch)
	return err
}

// ResetHard moves HEAD and the working tree to the given ref.
func (r *Repo) ResetHard(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "reset", "--hard", ref)
	return err
}

// ResetMixed moves HEAD and the index to the given ref, leaving the working
// tree untouched. Used to unwind engine commits without discarding the
// caller's uncommitted changes.
func (r *Repo) ResetMixed(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "reset", "--mixed", ref)
	return err
}

// Add stages the given paths (resolved relative to the repo dir).
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	_, err := r.run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit records staged changes. Author and signing behavior follow the
// repository configuration unless overridden by opts.
type CommitOptions struct {
	Author    string // "Name <email>" override, empty for repo default
	NoGPGSign bool
}

func (r *Repo) Commit(ctx context.Context, message string, opts CommitOptions) error {
	args := []string{"commit", "-m", message}
	if opts.Author != "" {
		args = append(args, "--author", opts.Author)
	}
	if opts.NoGPGSign {
		args = append(args, "--no-gpg-sign")
	}
	_, err := r.run(ctx, args...)
	return err
}

// ChangedFiles returns the added/modified/deleted paths between base and HEAD.
// Rename detection is off unless renames is true, so a rename reports as one
// delete plus one add.
func (r *Repo) ChangedFiles(ctx context.Context, base string, renames bool) ([]string, error) {
	args := []string{"diff", "--name-only"}
	if !renames {
		args = append(args, "--no-renames")
	}
	args = append(args, base+"...HEAD")
	out, err := r.run(ctx, args...)
	if err != nil {
		// Fall back to a two-dot diff when the merge base is unavailable
		// (shallow clones).
		args[len(args)-1] = base + "..HEAD"
		out, err = r.run(ctx, args...)
		if err != nil {
			return nil, err
		}
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// DiffStat returns `git diff --stat` output between base and HEAD.
func (r *Repo) DiffStat(ctx context.Context, base string) (string, error) {
	out, err := r.run(ctx, "diff", "--stat", base+"...HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DiffStatLocal returns `git diff --stat` of the working tree against HEAD,
// uncommitted changes included.
func (r *Repo) DiffStatLocal(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "diff", "--stat", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func isMissingRemoteRef(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) &&
		(strings.Contains(ce.Stderr, "remote ref does not exist") ||
			strings.Contains(ce.Stderr, "unable to delete"))
}

func isMissingLocalRef(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && strings.Contains(ce.Stderr, "not found")
}
