package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AddWorktree creates a worktree at path checked out on branch. The branch is
// created at startRef when it does not exist yet. -f handles the "missing but
// still registered" state left behind when a worktree directory was deleted
// out from under git.
func (r *Repo) AddWorktree(ctx context.Context, path, branch, startRef string) error {
	_, _ = r.run(ctx, "worktree", "prune")

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating worktree parent directory: %w", err)
	}

	var err error
	if r.BranchExists(ctx, "", branch) {
		_, err = r.run(ctx, "worktree", "add", "-f", path, branch)
	} else {
		_, err = r.run(ctx, "worktree", "add", "-f", "-b", branch, path, startRef)
	}
	return err
}

// RemoveWorktree force-removes a worktree. If git refuses, the directory is
// removed manually and the registration pruned, so callers always end with
// the path gone.
func (r *Repo) RemoveWorktree(ctx context.Context, path string) error {
	_, err := r.run(ctx, "worktree", "remove", "--force", path)
	if err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("removing worktree directory: %w (git: %v)", rmErr, err)
		}
		_, _ = r.run(ctx, "worktree", "prune")
	}
	return nil
}

// ListWorktrees returns the registered worktree paths.
func (r *Repo) ListWorktrees(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimSpace(strings.TrimPrefix(line, "worktree ")))
		}
	}
	return paths, nil
}

// HasWorktree reports whether path is a registered worktree. Symlinks are
// resolved on both sides so /tmp vs /private/tmp on macOS compares equal.
func (r *Repo) HasWorktree(ctx context.Context, path string) (bool, error) {
	paths, err := r.ListWorktrees(ctx)
	if err != nil {
		return false, err
	}
	want := resolvePath(path)
	for _, p := range paths {
		if resolvePath(p) == want {
			return true, nil
		}
	}
	return false, nil
}

func resolvePath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
