// Package recovery detects and repairs inconsistent WU state: zombies left by
// mid-transition crashes, duplicate ids across spec files, and the per-WU
// attempt accounting that keeps auto-recovery from looping forever.
package recovery

import (
	"context"
	"fmt"
	"os"

	"github.com/lumenflow/lumenflow/internal/docs"
	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/git"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/workspace"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// ZombieKind names one inconsistency class.
type ZombieKind string

const (
	// Spec says done but a worktree still exists.
	ZombieDoneWorktree ZombieKind = "done-with-worktree"
	// Spec says done but the status doc still lists it in progress.
	ZombieDoneStatusDoc ZombieKind = "done-listed-in-progress"
	// Spec says in_progress but the event log moved on (release or done).
	ZombieStaleClaim ZombieKind = "claim-superseded-by-events"
	// The same id appears in more than one spec file.
	ZombieDuplicateID ZombieKind = "duplicate-id"
)

// Zombie is one detected inconsistency.
type Zombie struct {
	Kind   ZombieKind
	Detail string
}

// Analysis is the cross-artifact view of one WU used to decide a recovery
// action. All fields are observations; nothing here mutates state.
type Analysis struct {
	WUID             string
	SpecStatus       wu.Status
	EventStatus      string
	WorktreePresent  bool
	WorktreePath     string
	StampPresent     bool
	ListedInProgress bool
	Attempts         int
	Zombies          []Zombie
}

// IsZombie reports whether any inconsistency was found.
func (a *Analysis) IsZombie() bool { return len(a.Zombies) > 0 }

// Analyze inspects every artifact a WU touches and classifies the
// inconsistencies. The WU spec is the anchor; the event log, worktree, stamp
// and status doc are compared against it.
func Analyze(ctx context.Context, layout workspace.Layout, repo *git.Repo, store *events.Store, w *wu.WU) (*Analysis, error) {
	a := &Analysis{WUID: w.ID, SpecStatus: w.Status}

	evStatus, err := store.EffectiveStatus(w.ID)
	if err != nil {
		return nil, err
	}
	a.EventStatus = evStatus

	wtPath := w.WorktreePath
	if wtPath == "" {
		wtPath = layout.WorktreePath(w.Lane, w.ID)
	}
	a.WorktreePath = wtPath
	if fi, err := os.Stat(wtPath); err == nil && fi.IsDir() {
		a.WorktreePresent = true
	} else if repo != nil {
		has, err := repo.HasWorktree(ctx, wtPath)
		if err == nil && has {
			a.WorktreePresent = true
		}
	}

	if _, err := os.Stat(layout.StampPath(w.ID)); err == nil {
		a.StampPresent = true
	}

	if data, err := os.ReadFile(layout.StatusPath()); err == nil { // #nosec G304
		a.ListedInProgress = docs.ListedInProgress(string(data), w.ID)
	}

	att, err := LoadAttempts(layout.RecoveryPath(w.ID))
	if err != nil {
		return nil, err
	}
	a.Attempts = att.Count

	if w.Status == wu.StatusDone && a.WorktreePresent {
		a.Zombies = append(a.Zombies, Zombie{
			Kind:   ZombieDoneWorktree,
			Detail: fmt.Sprintf("spec is done but worktree %s exists", wtPath),
		})
	}
	if w.Status == wu.StatusDone && a.ListedInProgress {
		a.Zombies = append(a.Zombies, Zombie{
			Kind:   ZombieDoneStatusDoc,
			Detail: "spec is done but the status doc still lists it in progress",
		})
	}
	if w.Status == wu.StatusInProgress && (evStatus == "ready" || evStatus == "done") {
		a.Zombies = append(a.Zombies, Zombie{
			Kind:   ZombieStaleClaim,
			Detail: fmt.Sprintf("spec is in_progress but the event log says %s", evStatus),
		})
	}
	return a, nil
}

// Action is a recovery action name.
type Action string

const (
	ActionResume  Action = "resume"
	ActionReset   Action = "reset"
	ActionNuke    Action = "nuke"
	ActionCleanup Action = "cleanup"
)

// ParseAction validates an action name from the CLI.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionResume, ActionReset, ActionNuke, ActionCleanup:
		return Action(s), nil
	}
	return "", lferr.New(lferr.KindValidation, "unknown recovery action %q", s).
		WithRemediation("use one of: resume, reset, nuke, cleanup")
}

// Destructive reports whether the action discards work and therefore needs
// --force (and a TTY confirmation when interactive).
func (a Action) Destructive() bool { return a == ActionReset || a == ActionNuke }
