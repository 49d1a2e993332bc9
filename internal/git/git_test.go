package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// gitRun executes raw git for fixture setup, independent of the code under
// test.
func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

// fixture creates a bare remote with one commit on main and a clone of it.
func fixture(t *testing.T) (remote, clone string) {
	t.Helper()
	remote = filepath.Join(t.TempDir(), "remote.git")
	gitRun(t, t.TempDir(), "init", "--bare", "--initial-branch=main", remote)

	clone = filepath.Join(t.TempDir(), "clone")
	gitRun(t, t.TempDir(), "clone", remote, clone)
	gitRun(t, clone, "config", "user.name", "test")
	gitRun(t, clone, "config", "user.email", "test@example.invalid")
	if err := os.WriteFile(filepath.Join(clone, "README.md"), []byte("init\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, clone, "add", "README.md")
	gitRun(t, clone, "commit", "-m", "init")
	gitRun(t, clone, "push", "-u", "origin", "main")
	return remote, clone
}

func TestHeadAndBranch(t *testing.T) {
	_, clone := fixture(t)
	r := New(clone)
	ctx := context.Background()

	if !r.IsRepo(ctx) {
		t.Fatal("IsRepo = false for a checkout")
	}
	sha, err := r.HeadSHA(ctx)
	if err != nil || len(sha) != 40 {
		t.Fatalf("HeadSHA = %q, %v", sha, err)
	}
	branch, err := r.CurrentBranch(ctx)
	if err != nil || branch != "main" {
		t.Fatalf("CurrentBranch = %q, %v", branch, err)
	}
}

func TestIsClean(t *testing.T) {
	_, clone := fixture(t)
	r := New(clone)
	ctx := context.Background()

	clean, err := r.IsClean(ctx)
	if err != nil || !clean {
		t.Fatalf("IsClean = %v, %v", clean, err)
	}
	if err := os.WriteFile(filepath.Join(clone, "dirty.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	clean, err = r.IsClean(ctx)
	if err != nil || clean {
		t.Fatalf("IsClean with untracked file = %v, %v", clean, err)
	}
}

func TestBranchLifecycle(t *testing.T) {
	_, clone := fixture(t)
	r := New(clone)
	ctx := context.Background()

	if err := r.CreateBranchFrom(ctx, "lane/core/wu-1", "origin/main"); err != nil {
		t.Fatalf("CreateBranchFrom: %v", err)
	}
	if !r.BranchExists(ctx, "", "lane/core/wu-1") {
		t.Fatal("created branch not found")
	}
	if err := r.Switch(ctx, "lane/core/wu-1"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	branch, _ := r.CurrentBranch(ctx)
	if branch != "lane/core/wu-1" {
		t.Fatalf("CurrentBranch = %q", branch)
	}
	if err := r.Switch(ctx, "main"); err != nil {
		t.Fatalf("Switch back: %v", err)
	}
	if err := r.DeleteLocalBranch(ctx, "lane/core/wu-1"); err != nil {
		t.Fatalf("DeleteLocalBranch: %v", err)
	}
	if r.BranchExists(ctx, "", "lane/core/wu-1") {
		t.Fatal("deleted branch still present")
	}
	// Deleting again is a no-op.
	if err := r.DeleteLocalBranch(ctx, "lane/core/wu-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestChangedFiles(t *testing.T) {
	_, clone := fixture(t)
	r := New(clone)
	ctx := context.Background()

	base, err := r.HeadSHA(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(clone, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(clone, "sub"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(clone, "sub", "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, clone, "add", ".")
	gitRun(t, clone, "commit", "-m", "changes")

	files, err := r.ChangedFiles(ctx, base, false)
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	want := map[string]bool{"a.txt": true, "sub/b.txt": true}
	if len(files) != 2 || !want[files[0]] || !want[files[1]] {
		t.Errorf("ChangedFiles = %v", files)
	}
}

func TestDiffStatLocal(t *testing.T) {
	_, clone := fixture(t)
	r := New(clone)
	ctx := context.Background()

	stat, err := r.DiffStatLocal(ctx)
	if err != nil || stat != "" {
		t.Fatalf("clean tree DiffStatLocal = %q, %v", stat, err)
	}
	if err := os.WriteFile(filepath.Join(clone, "README.md"), []byte("edited\n"), 0644); err != nil {
		t.Fatal(err)
	}
	stat, err = r.DiffStatLocal(ctx)
	if err != nil {
		t.Fatalf("DiffStatLocal: %v", err)
	}
	if !strings.Contains(stat, "README.md") {
		t.Errorf("DiffStatLocal = %q", stat)
	}
}

func TestFastForwardDivergence(t *testing.T) {
	remote, clone := fixture(t)
	r := New(clone)
	ctx := context.Background()

	// Advance the remote from a second clone.
	other := filepath.Join(t.TempDir(), "other")
	gitRun(t, t.TempDir(), "clone", remote, other)
	gitRun(t, other, "config", "user.name", "other")
	gitRun(t, other, "config", "user.email", "other@example.invalid")
	if err := os.WriteFile(filepath.Join(other, "theirs.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, other, "add", ".")
	gitRun(t, other, "commit", "-m", "theirs")
	gitRun(t, other, "push", "origin", "main")

	// Plain fast-forward works while local has not moved.
	if err := r.Fetch(ctx, "origin"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := r.FastForward(ctx, "origin", "main"); err != nil {
		t.Fatalf("FastForward: %v", err)
	}

	// Diverge: local commit plus another remote advance.
	if err := os.WriteFile(filepath.Join(clone, "ours.txt"), []byte("y"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, clone, "add", ".")
	gitRun(t, clone, "commit", "-m", "ours")
	if err := os.WriteFile(filepath.Join(other, "theirs2.txt"), []byte("z"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, other, "add", ".")
	gitRun(t, other, "commit", "-m", "theirs2")
	gitRun(t, other, "push", "origin", "main")

	if err := r.Fetch(ctx, "origin"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	err := r.FastForward(ctx, "origin", "main")
	if err == nil {
		t.Fatal("divergent fast-forward succeeded")
	}
	var div *DivergedError
	if !errors.As(err, &div) {
		t.Errorf("error = %v, want DivergedError", err)
	}
}

func TestWorktreeLifecycle(t *testing.T) {
	_, clone := fixture(t)
	r := New(clone)
	ctx := context.Background()

	wt := filepath.Join(t.TempDir(), "wt")
	if err := r.CreateBranchFrom(ctx, "scratch", "origin/main"); err != nil {
		t.Fatalf("CreateBranchFrom: %v", err)
	}
	if err := r.AddWorktree(ctx, wt, "scratch", "origin/main"); err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}
	has, err := r.HasWorktree(ctx, wt)
	if err != nil || !has {
		t.Fatalf("HasWorktree = %v, %v", has, err)
	}
	if _, err := os.Stat(filepath.Join(wt, "README.md")); err != nil {
		t.Errorf("worktree missing checkout content: %v", err)
	}
	if err := r.RemoveWorktree(ctx, wt); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	has, err = r.HasWorktree(ctx, wt)
	if err != nil || has {
		t.Fatalf("worktree still registered after removal: %v, %v", has, err)
	}
}
