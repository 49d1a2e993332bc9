package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lumenflow/lumenflow/internal/lferr"
)

func TestAttemptsLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "WU-1.recovery")

	a, err := LoadAttempts(path)
	if err != nil {
		t.Fatalf("LoadAttempts: %v", err)
	}
	if a.Count != 0 || a.Exceeded() {
		t.Errorf("missing marker should be a zero counter: %+v", a)
	}

	for i := 1; i <= MaxAttempts; i++ {
		a, err = RecordAttempt(path, ActionResume)
		if err != nil {
			t.Fatalf("RecordAttempt %d: %v", i, err)
		}
		if a.Count != i {
			t.Errorf("count = %d, want %d", a.Count, i)
		}
	}
	if !a.Exceeded() {
		t.Error("counter at ceiling should be exceeded")
	}

	err = CheckBudget(path, "WU-1")
	if err == nil {
		t.Fatal("exhausted budget accepted")
	}
	if lferr.KindOf(err) != lferr.KindRecovery {
		t.Errorf("kind = %s, want RECOVERY", lferr.KindOf(err))
	}

	if err := ClearAttempts(path); err != nil {
		t.Fatalf("ClearAttempts: %v", err)
	}
	if err := CheckBudget(path, "WU-1"); err != nil {
		t.Errorf("budget after clear: %v", err)
	}
}

func TestCorruptMarkerCountsAsExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "WU-1.recovery")
	if err := os.WriteFile(path, []byte("{torn"), 0644); err != nil {
		t.Fatal(err)
	}
	a, err := LoadAttempts(path)
	if err != nil {
		t.Fatalf("LoadAttempts: %v", err)
	}
	if !a.Exceeded() {
		t.Error("corrupt marker should read as exhausted")
	}
	if err := CheckBudget(path, "WU-1"); err == nil {
		t.Error("corrupt marker passed the budget check")
	}
}

func TestClearMissingMarker(t *testing.T) {
	if err := ClearAttempts(filepath.Join(t.TempDir(), "nope.recovery")); err != nil {
		t.Errorf("clearing a missing marker: %v", err)
	}
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"resume", "reset", "nuke", "cleanup"} {
		if _, err := ParseAction(s); err != nil {
			t.Errorf("ParseAction(%q): %v", s, err)
		}
	}
	if _, err := ParseAction("obliterate"); err == nil {
		t.Error("unknown action accepted")
	}
	if ActionResume.Destructive() || ActionCleanup.Destructive() {
		t.Error("resume/cleanup flagged destructive")
	}
	if !ActionReset.Destructive() || !ActionNuke.Destructive() {
		t.Error("reset/nuke not flagged destructive")
	}
}
