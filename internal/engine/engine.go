// Package engine implements the WU lifecycle operations: claim, done, block,
// unblock, recover and status. The engine is an explicit value carrying the
// layout, git handle, event log and lock manager; nothing here reads ambient
// process state beyond the filesystem paths the layout names.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/lumenflow/lumenflow/internal/audit"
	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/git"
	"github.com/lumenflow/lumenflow/internal/lane"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/microtree"
	"github.com/lumenflow/lumenflow/internal/workspace"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// Gates is the external quality-gate collaborator run before done. A nil
// Gates in Options means no gates are configured.
type Gates interface {
	Run(ctx context.Context, w *wu.WU, dir string) error
}

// Options tunes one engine instance.
type Options struct {
	WIPLimit        int               // per-lane parallel claim limit, default 1
	Commit          git.CommitOptions // author/signing for engine commits
	Actor           string            // recorded in audit entries
	SeedSymlinks    []string          // dir names linked from the main checkout into new worktrees
	RenameDetection bool              // git rename detection in the coverage diff
	Gates           Gates
}

// Engine carries everything a lifecycle operation needs.
type Engine struct {
	layout workspace.Layout
	repo   *git.Repo
	log    *events.Log
	store  *events.Store
	locks  *lane.Manager
	runner *microtree.Runner
	audit  *audit.Log
	opts   Options
}

// New builds an engine over the main checkout described by layout.
func New(layout workspace.Layout, opts Options) *Engine {
	log := events.NewLog(layout.EventsPath())
	return &Engine{
		layout: layout,
		repo:   git.New(layout.Root),
		log:    log,
		store:  events.NewStore(log),
		locks:  lane.NewManager(layout, opts.WIPLimit),
		runner: microtree.NewRunner(layout, opts.Commit),
		audit:  audit.NewLog(filepath.Join(layout.Root, layout.StateDir)),
		opts:   opts,
	}
}

// Store exposes the event-log projection for read-only callers (status,
// doctor, context).
func (e *Engine) Store() *events.Store { return e.store }

// Locks exposes the lane lock manager for read-only callers.
func (e *Engine) Locks() *lane.Manager { return e.locks }

// Audit exposes the audit log (memory summarize records llm_call entries).
func (e *Engine) Audit() *audit.Log { return e.audit }

// opLockTimeout bounds how long an operation waits for a sibling process
// before giving up.
const opLockTimeout = 30 * time.Second

// withOpLock serializes multi-step sequences against other engine processes
// on the same filesystem. Cross-machine serialization is the remote's job;
// this lock only prevents two local invocations interleaving their steps.
func (e *Engine) withOpLock(ctx context.Context, fn func() error) error {
	// The state dir may not exist yet in a fresh clone; flock cannot create it.
	if err := os.MkdirAll(filepath.Dir(e.layout.OpLockPath()), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating %s", filepath.Dir(e.layout.OpLockPath()))
	}
	fl := flock.New(e.layout.OpLockPath())
	lockCtx, cancel := context.WithTimeout(ctx, opLockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil || !ok {
		return lferr.New(lferr.KindConcurrent,
			"another lumenflow operation is running on this repository").
			WithRemediation("wait for it to finish, or remove %s if it crashed", e.layout.OpLockPath())
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// relEventsPath is the event log path relative to the repo root, as staged in
// micro-worktree commits.
func (e *Engine) relEventsPath() string {
	return filepath.Join(e.layout.StateDir, "wu-events.jsonl")
}

// relWUPath is a WU spec path relative to the repo root.
func (e *Engine) relWUPath(id string) string {
	return filepath.Join(e.layout.WUDir, id+".yaml")
}

// Projection is the status view of one WU across all artifacts.
type Projection struct {
	WU           *wu.WU             `json:"wu"`
	EventStatus  string             `json:"event_status"`
	Checkpoint   *events.Checkpoint `json:"checkpoint,omitempty"`
	StampPresent bool               `json:"stamp_present"`
	LaneHolders  []lane.Holder      `json:"lane_holders,omitempty"`
	LaneStale    bool               `json:"lane_stale"`
}

// Status projects one WU's state from the spec, the event log, the stamp and
// the lane lock. Read-only.
func (e *Engine) Status(id string) (*Projection, error) {
	w, err := wu.Read(e.layout.WUPath(id), id)
	if err != nil {
		return nil, err
	}
	p := &Projection{WU: w}
	p.EventStatus, err = e.store.EffectiveStatus(id)
	if err != nil {
		return nil, err
	}
	p.Checkpoint, err = e.store.LastCheckpoint(id)
	if err != nil {
		return nil, err
	}
	p.StampPresent = fileExists(e.layout.StampPath(id))
	_, p.LaneHolders, p.LaneStale, err = e.locks.Check(w.Lane)
	if err != nil {
		return nil, err
	}
	return p, nil
}
