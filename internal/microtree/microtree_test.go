package microtree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lumenflow/lumenflow/internal/git"
	"github.com/lumenflow/lumenflow/internal/workspace"
)

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

// fixture builds a bare remote, a clone acting as the main checkout, and a
// layout rooted at the clone.
func fixture(t *testing.T) (remote string, layout workspace.Layout) {
	t.Helper()
	remote = filepath.Join(t.TempDir(), "remote.git")
	gitRun(t, t.TempDir(), "init", "--bare", "--initial-branch=main", remote)

	clone := filepath.Join(t.TempDir(), "clone")
	gitRun(t, t.TempDir(), "clone", remote, clone)
	gitRun(t, clone, "config", "user.name", "test")
	gitRun(t, clone, "config", "user.email", "test@example.invalid")
	if err := os.WriteFile(filepath.Join(clone, "README.md"), []byte("init\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, clone, "add", "README.md")
	gitRun(t, clone, "commit", "-m", "init")
	gitRun(t, clone, "push", "-u", "origin", "main")
	return remote, workspace.Resolve(clone, workspace.Layout{})
}

func commitOpts() git.CommitOptions {
	return git.CommitOptions{NoGPGSign: true}
}

func remoteHead(t *testing.T, remote string) string {
	t.Helper()
	return strings.TrimSpace(gitRun(t, remote, "rev-parse", "main"))
}

// assertTornDown fails when a transaction left refs or worktrees behind.
func assertTornDown(t *testing.T, remote string, layout workspace.Layout) {
	t.Helper()
	local := gitRun(t, layout.Root, "branch", "--list", "lf/micro/*")
	if strings.TrimSpace(local) != "" {
		t.Errorf("local throwaway branches remain:\n%s", local)
	}
	remoteRefs := gitRun(t, remote, "branch", "--list", "lf/micro/*")
	if strings.TrimSpace(remoteRefs) != "" {
		t.Errorf("remote throwaway branches remain:\n%s", remoteRefs)
	}
	worktrees, err := git.New(layout.Root).ListWorktrees(context.Background())
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(worktrees) != 1 {
		t.Errorf("scratch worktree not removed: %v", worktrees)
	}
}

func TestRunCommitsAndFastForwards(t *testing.T) {
	remote, layout := fixture(t)
	runner := NewRunner(layout, commitOpts())
	before := remoteHead(t, remote)

	err := runner.Run(context.Background(), Request{
		Operation: "claim",
		ID:        "WU-1",
		Execute: func(c Ctx) (*Result, error) {
			path := filepath.Join(c.WorktreePath, "wu-events.jsonl")
			if err := os.WriteFile(path, []byte(`{"kind":"claim","wu_id":"WU-1"}`+"\n"), 0644); err != nil {
				return nil, err
			}
			return &Result{CommitMessage: "claim WU-1", Files: []string{"wu-events.jsonl"}}, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if remoteHead(t, remote) == before {
		t.Error("remote main did not advance")
	}
	// PushOnly is false and the checkout sits on main, so it fast-forwards.
	if _, err := os.Stat(filepath.Join(layout.Root, "wu-events.jsonl")); err != nil {
		t.Errorf("caller main not fast-forwarded: %v", err)
	}
	assertTornDown(t, remote, layout)
}

func TestRunPushOnly(t *testing.T) {
	remote, layout := fixture(t)
	runner := NewRunner(layout, commitOpts())

	err := runner.Run(context.Background(), Request{
		Operation: "done",
		ID:        "WU-2",
		PushOnly:  true,
		Execute: func(c Ctx) (*Result, error) {
			if err := os.WriteFile(filepath.Join(c.WorktreePath, "stamp.done"), []byte("x"), 0644); err != nil {
				return nil, err
			}
			return &Result{CommitMessage: "done WU-2", Files: []string{"stamp.done"}}, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	show := gitRun(t, remote, "ls-tree", "--name-only", "main")
	if !strings.Contains(show, "stamp.done") {
		t.Errorf("remote main missing committed file:\n%s", show)
	}
	if _, err := os.Stat(filepath.Join(layout.Root, "stamp.done")); !os.IsNotExist(err) {
		t.Error("caller main advanced despite PushOnly")
	}
	assertTornDown(t, remote, layout)
}

func TestRunNoOp(t *testing.T) {
	remote, layout := fixture(t)
	runner := NewRunner(layout, commitOpts())
	before := remoteHead(t, remote)

	err := runner.Run(context.Background(), Request{
		Operation: "noop",
		ID:        "WU-3",
		Execute: func(c Ctx) (*Result, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if remoteHead(t, remote) != before {
		t.Error("no-op transaction moved the remote")
	}
	assertTornDown(t, remote, layout)
}

func TestRunExecuteError(t *testing.T) {
	remote, layout := fixture(t)
	runner := NewRunner(layout, commitOpts())
	before := remoteHead(t, remote)

	boom := errors.New("mutation failed")
	err := runner.Run(context.Background(), Request{
		Operation: "claim",
		ID:        "WU-4",
		Execute: func(c Ctx) (*Result, error) {
			return nil, boom
		},
	})
	var step *StepError
	if !errors.As(err, &step) || step.Step != "execute" {
		t.Fatalf("err = %v, want execute StepError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("cause not wrapped")
	}
	if remoteHead(t, remote) != before {
		t.Error("failed transaction moved the remote")
	}
	assertTornDown(t, remote, layout)
}

func TestRunRetriesOnRacingPush(t *testing.T) {
	remote, layout := fixture(t)
	runner := NewRunner(layout, commitOpts())

	// Second clone simulates a racing writer that advances main between our
	// first execute and the push.
	other := filepath.Join(t.TempDir(), "other")
	gitRun(t, t.TempDir(), "clone", remote, other)
	gitRun(t, other, "config", "user.name", "other")
	gitRun(t, other, "config", "user.email", "other@example.invalid")

	calls := 0
	err := runner.Run(context.Background(), Request{
		Operation: "claim",
		ID:        "WU-5",
		PushOnly:  true,
		Execute: func(c Ctx) (*Result, error) {
			calls++
			if calls == 1 {
				if err := os.WriteFile(filepath.Join(other, "racer.txt"), []byte("x"), 0644); err != nil {
					return nil, err
				}
				gitRun(t, other, "add", ".")
				gitRun(t, other, "commit", "-m", "racer")
				gitRun(t, other, "push", "origin", "main")
			}
			path := filepath.Join(c.WorktreePath, "ours.txt")
			if err := os.WriteFile(path, []byte("y"), 0644); err != nil {
				return nil, err
			}
			return &Result{CommitMessage: "claim WU-5", Files: []string{"ours.txt"}}, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Errorf("execute ran %d times, want a rebased retry", calls)
	}
	show := gitRun(t, remote, "ls-tree", "--name-only", "main")
	if !strings.Contains(show, "ours.txt") || !strings.Contains(show, "racer.txt") {
		t.Errorf("remote main missing files after retry:\n%s", show)
	}
	assertTornDown(t, remote, layout)
}
