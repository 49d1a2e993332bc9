package workspace

import (
	"path/filepath"
	"testing"
)

func TestResolveDefaults(t *testing.T) {
	l := Resolve("/repo", Layout{})
	if l.WUPath("WU-3") != filepath.Join("/repo", "lumenflow/work", "WU-3.yaml") {
		t.Errorf("WUPath = %s", l.WUPath("WU-3"))
	}
	if l.EventsPath() != filepath.Join("/repo", ".lumenflow/state", "wu-events.jsonl") {
		t.Errorf("EventsPath = %s", l.EventsPath())
	}
	if l.MainBranch != "main" || l.Remote != "origin" {
		t.Errorf("branch/remote defaults = %s/%s", l.MainBranch, l.Remote)
	}
}

func TestResolveOverrides(t *testing.T) {
	l := Resolve("/repo", Layout{WUDir: "work-units", MainBranch: "trunk"})
	if l.WUPath("WU-1") != filepath.Join("/repo", "work-units", "WU-1.yaml") {
		t.Errorf("WUPath = %s", l.WUPath("WU-1"))
	}
	if l.MainBranch != "trunk" {
		t.Errorf("MainBranch = %s", l.MainBranch)
	}
	// Unset fields still get defaults.
	if l.StatusDoc != "lumenflow/STATUS.md" {
		t.Errorf("StatusDoc = %s", l.StatusDoc)
	}
}

func TestLaneKebab(t *testing.T) {
	tests := []struct {
		lane, want string
	}{
		{"Core", "core"},
		{"Platform: Storage", "platform-storage"},
		{"Dev Tools", "dev-tools"},
	}
	for _, tt := range tests {
		if got := LaneKebab(tt.lane); got != tt.want {
			t.Errorf("LaneKebab(%q) = %q, want %q", tt.lane, got, tt.want)
		}
	}
}

func TestLaneLockSlots(t *testing.T) {
	l := Resolve("/repo", Layout{})
	if got := l.LaneLockPath("Core", 0); filepath.Base(got) != "core.lock" {
		t.Errorf("slot 0 = %s, want core.lock", got)
	}
	if got := l.LaneLockPath("Core", 1); filepath.Base(got) != "core.2.lock" {
		t.Errorf("slot 1 = %s, want core.2.lock", got)
	}
}

func TestWorktreeAndBranchNaming(t *testing.T) {
	l := Resolve("/repo", Layout{})
	if got := l.LaneBranch("Platform: Storage", "WU-12"); got != "lane/platform-storage/wu-12" {
		t.Errorf("LaneBranch = %s", got)
	}
	if got := filepath.Base(l.WorktreePath("Core", "WU-3")); got != "core-wu-3" {
		t.Errorf("WorktreePath base = %s", got)
	}
}
