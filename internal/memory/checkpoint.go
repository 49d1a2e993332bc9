package memory

import (
	"time"

	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/lferr"
)

// CheckpointOptions carries the optional fields of a checkpoint.
type CheckpointOptions struct {
	WUID        string
	SessionID   string
	Progress    string
	NextSteps   string
	Trigger     string // what prompted the checkpoint: manual, pre-compact, …
	GitDiffStat string // diff --stat snapshot at checkpoint time
}

// Checkpoint creates a checkpoint node (lifecycle=session) and, when linked
// to a WU, also emits a checkpoint event on the WU event log so cross-agent
// readers see the progress without loading memory.
func (s *Store) Checkpoint(log *events.Log, note string, opts CheckpointOptions) (*Node, error) {
	if note == "" {
		return nil, lferr.New(lferr.KindValidation, "checkpoint note is empty").
			WithRemediation("say what state the work is in, e.g. `lf checkpoint \"tests green\"`")
	}
	meta := map[string]any{}
	if opts.Trigger != "" {
		meta["trigger"] = opts.Trigger
	}
	if opts.Progress != "" {
		meta["progress"] = opts.Progress
	}
	if opts.NextSteps != "" {
		meta["next_steps"] = opts.NextSteps
	}
	if opts.GitDiffStat != "" {
		meta["git_diff_stat"] = opts.GitDiffStat
	}
	if len(meta) == 0 {
		meta = nil
	}

	n := &Node{
		Type:      TypeCheckpoint,
		Lifecycle: LifecycleSession,
		Content:   note,
		CreatedAt: time.Now().UTC(),
		WUID:      opts.WUID,
		SessionID: opts.SessionID,
		Metadata:  meta,
	}
	if err := s.Create(n, ""); err != nil {
		return nil, err
	}

	if opts.WUID != "" && log != nil {
		err := log.Append(events.Event{
			Kind:      events.KindCheckpoint,
			WUID:      opts.WUID,
			SessionID: opts.SessionID,
			Note:      note,
			Progress:  opts.Progress,
			NextSteps: opts.NextSteps,
		})
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}
