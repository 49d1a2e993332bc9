// Package workspace resolves every on-disk path the coordinator touches from
// a single Layout value. This is the only package that knows the repository
// layout; everything else asks it. No I/O happens here.
package workspace

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Layout describes the repo-rooted directory scheme. Zero-value fields fall
// back to the defaults below via Resolve.
type Layout struct {
	Root         string // absolute path of the main checkout
	WUDir        string // WU spec files, one per WU
	StatusDoc    string // human status dashboard
	BacklogDoc   string // human backlog dashboard
	StampsDir    string // done markers
	StateDir     string // event log + lane locks
	MemoryDir    string // memory + relationship logs
	WorktreesDir string // per-WU working worktrees
	RecoveryDir  string // recovery attempt counters
	MainBranch   string
	Remote       string
}

// Defaults are relative to Root.
const (
	defaultWUDir        = "lumenflow/work"
	defaultStatusDoc    = "lumenflow/STATUS.md"
	defaultBacklogDoc   = "lumenflow/BACKLOG.md"
	defaultStampsDir    = ".lumenflow/stamps"
	defaultStateDir     = ".lumenflow/state"
	defaultMemoryDir    = ".lumenflow/memory"
	defaultWorktreesDir = ".lumenflow/worktrees"
	defaultRecoveryDir  = ".lumenflow/recovery"
	defaultMainBranch   = "main"
	defaultRemote       = "origin"
)

// Resolve fills in defaults and returns a complete Layout rooted at root.
func Resolve(root string, l Layout) Layout {
	l.Root = root
	if l.WUDir == "" {
		l.WUDir = defaultWUDir
	}
	if l.StatusDoc == "" {
		l.StatusDoc = defaultStatusDoc
	}
	if l.BacklogDoc == "" {
		l.BacklogDoc = defaultBacklogDoc
	}
	if l.StampsDir == "" {
		l.StampsDir = defaultStampsDir
	}
	if l.StateDir == "" {
		l.StateDir = defaultStateDir
	}
	if l.MemoryDir == "" {
		l.MemoryDir = defaultMemoryDir
	}
	if l.WorktreesDir == "" {
		l.WorktreesDir = defaultWorktreesDir
	}
	if l.RecoveryDir == "" {
		l.RecoveryDir = defaultRecoveryDir
	}
	if l.MainBranch == "" {
		l.MainBranch = defaultMainBranch
	}
	if l.Remote == "" {
		l.Remote = defaultRemote
	}
	return l
}

// WUPath returns the spec file for a WU id.
func (l Layout) WUPath(id string) string {
	return filepath.Join(l.Root, l.WUDir, id+".yaml")
}

// StatusPath returns the status dashboard path.
func (l Layout) StatusPath() string { return filepath.Join(l.Root, l.StatusDoc) }

// BacklogPath returns the backlog dashboard path.
func (l Layout) BacklogPath() string { return filepath.Join(l.Root, l.BacklogDoc) }

// StampPath returns the done marker for a WU id.
func (l Layout) StampPath(id string) string {
	return filepath.Join(l.Root, l.StampsDir, id+".done")
}

// EventsPath returns the WU event log.
func (l Layout) EventsPath() string {
	return filepath.Join(l.Root, l.StateDir, "wu-events.jsonl")
}

// MemoryPath returns the memory node log.
func (l Layout) MemoryPath() string {
	return filepath.Join(l.Root, l.MemoryDir, "memory.jsonl")
}

// RelationshipsPath returns the memory relationship log.
func (l Layout) RelationshipsPath() string {
	return filepath.Join(l.Root, l.MemoryDir, "relationships.jsonl")
}

// WorktreePath returns the working worktree directory for a claimed WU.
func (l Layout) WorktreePath(lane, id string) string {
	return filepath.Join(l.Root, l.WorktreesDir, LaneKebab(lane)+"-"+strings.ToLower(id))
}

// LaneBranch returns the branch name a claimed WU works on.
func (l Layout) LaneBranch(lane, id string) string {
	return "lane/" + LaneKebab(lane) + "/" + strings.ToLower(id)
}

// LaneLockPath returns the per-lane lock file. Slot 0 uses the bare name so
// WIP=1 repositories keep a single, predictable lock file.
func (l Layout) LaneLockPath(lane string, slot int) string {
	name := LaneKebab(lane)
	if slot > 0 {
		name += "." + strconv.Itoa(slot+1)
	}
	return filepath.Join(l.Root, l.StateDir, "lane-locks", name+".lock")
}

// LaneLocksDir returns the directory holding all lane locks.
func (l Layout) LaneLocksDir() string {
	return filepath.Join(l.Root, l.StateDir, "lane-locks")
}

// RecoveryPath returns the recovery attempt counter for a WU id.
func (l Layout) RecoveryPath(id string) string {
	return filepath.Join(l.Root, l.RecoveryDir, id+".recovery")
}

// OpLockPath returns the engine-wide operation lock used to serialize
// multi-step claim/done sequences within one filesystem.
func (l Layout) OpLockPath() string {
	return filepath.Join(l.Root, l.StateDir, ".op.lock")
}

// WUDirPath returns the directory containing all WU spec files.
func (l Layout) WUDirPath() string { return filepath.Join(l.Root, l.WUDir) }

// LaneKebab converts a lane name ("Core", "Platform: Storage") to its
// filesystem-safe kebab form ("core", "platform-storage").
func LaneKebab(lane string) string {
	s := strings.ToLower(lane)
	s = strings.ReplaceAll(s, ": ", "-")
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}
