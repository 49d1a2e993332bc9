// Package events implements the append-only WU event log and the state-store
// projection built by replaying it. The log is the source of truth for all
// status views; state is always a left-fold over the file, never a cache that
// can drift.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/lferr"
)

// Kind is the event discriminator.
type Kind string

const (
	KindClaim      Kind = "claim"
	KindRelease    Kind = "release"
	KindCheckpoint Kind = "checkpoint"
	KindDone       Kind = "done"
	KindBlock      Kind = "block"
)

// Event is one line of the WU event log. Events are never rewritten.
type Event struct {
	Kind      Kind      `json:"kind"`
	WUID      string    `json:"wu_id"`
	Lane      string    `json:"lane,omitempty"`
	Title     string    `json:"title,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Note      string    `json:"note,omitempty"`
	Progress  string    `json:"progress,omitempty"`
	NextSteps string    `json:"next_steps,omitempty"`
	TS        time.Time `json:"ts"`
}

// Log is a handle on the event log file.
type Log struct {
	path string
}

// NewLog returns a handle for the log at path. The file need not exist yet;
// a missing log reads as empty state.
func NewLog(path string) *Log { return &Log{path: path} }

// Path returns the underlying file path.
func (l *Log) Path() string { return l.path }

// Append writes one event as a single JSON line terminated by \n, fsynced
// before returning. The single O_APPEND write keeps concurrent appenders from
// interleaving partial lines.
func (l *Log) Append(e Event) error {
	if e.Kind == "" || e.WUID == "" {
		return lferr.New(lferr.KindFatal, "event missing kind or wu_id")
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return lferr.Wrap(lferr.KindFatal, err, "marshaling event")
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating state directory")
	}
	// nolint:gosec // event log is shared via git across clones and agents.
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return lferr.Wrap(lferr.KindIO, err, "opening event log")
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "appending event")
	}
	if err := f.Sync(); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "syncing event log")
	}
	return nil
}

// Load streams the log in file order. A trailing partial line (crash during a
// concurrent append) is tolerated and skipped; any other malformed line is an
// error naming its line number.
func (l *Log) Load() ([]Event, error) {
	f, err := os.Open(l.path) // #nosec G304 - resolver-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, lferr.Wrap(lferr.KindIO, err, "opening event log")
	}
	defer func() { _ = f.Close() }()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A torn final line means a writer crashed mid-append.
			if !scanner.Scan() {
				break
			}
			return nil, lferr.Wrap(lferr.KindIO, err, "event log line %d is malformed", lineNo)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, lferr.Wrap(lferr.KindIO, err, "reading event log")
	}
	return out, nil
}

// Rewrite replaces the log wholesale, atomically via rename. Only duplicate-id
// repair uses this; every other writer appends.
func (l *Log) Rewrite(evs []Event) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating state directory")
	}
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644) // nolint:gosec
	if err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating %s", tmp)
	}
	w := bufio.NewWriter(f)
	for _, e := range evs {
		line, err := json.Marshal(e)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return lferr.Wrap(lferr.KindFatal, err, "marshaling event")
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return lferr.Wrap(lferr.KindIO, err, "writing %s", tmp)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return lferr.Wrap(lferr.KindIO, err, "flushing %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return lferr.Wrap(lferr.KindIO, err, "syncing %s", tmp)
	}
	if err := f.Close(); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "closing %s", tmp)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "replacing event log")
	}
	return nil
}

// Checkpoint is the projection of the most recent checkpoint event within the
// current in-progress episode of a WU.
type Checkpoint struct {
	Content   string
	Progress  string
	NextSteps string
	TS        time.Time
}

// Store is the in-memory projection over the event log. Queries reopen and
// re-project when the file's mtime has moved, so readers in other processes
// see appended events without explicit invalidation.
type Store struct {
	log        *Log
	loadedAt   time.Time
	mtime      time.Time
	latest     map[string]Event       // last non-checkpoint event per WU
	checkpoint map[string]*Checkpoint // per WU, current episode only
	byLane     map[string][]string    // lane -> in-progress WU ids, file order
}

// NewStore creates a projection over the given log.
func NewStore(log *Log) *Store { return &Store{log: log} }

// refresh re-projects if the log changed since the last load.
func (s *Store) refresh() error {
	fi, err := os.Stat(s.log.path)
	if err != nil && !os.IsNotExist(err) {
		return lferr.Wrap(lferr.KindIO, err, "stat event log")
	}
	var mt time.Time
	if err == nil {
		mt = fi.ModTime()
	}
	if s.latest != nil && mt.Equal(s.mtime) {
		return nil
	}

	evs, err := s.log.Load()
	if err != nil {
		return err
	}
	s.latest = make(map[string]Event)
	s.checkpoint = make(map[string]*Checkpoint)
	s.byLane = make(map[string][]string)
	for _, e := range evs {
		if e.Kind == KindCheckpoint {
			// Checkpoints annotate the current episode only; they are
			// meaningful while the WU is in progress.
			s.checkpoint[e.WUID] = &Checkpoint{
				Content:   e.Note,
				Progress:  e.Progress,
				NextSteps: e.NextSteps,
				TS:        e.TS,
			}
			continue
		}
		prev, had := s.latest[e.WUID]
		s.latest[e.WUID] = e
		// A non-checkpoint event ends the episode the checkpoint belonged to.
		if e.Kind != KindClaim {
			delete(s.checkpoint, e.WUID)
		}
		// Maintain lane membership.
		if had && prev.Kind == KindClaim {
			s.removeFromLane(prev.Lane, e.WUID)
		}
		if e.Kind == KindClaim {
			s.byLane[e.Lane] = append(s.byLane[e.Lane], e.WUID)
		}
	}
	s.mtime = mt
	s.loadedAt = time.Now()
	return nil
}

func (s *Store) removeFromLane(lane, id string) {
	ids := s.byLane[lane]
	for i, v := range ids {
		if v == id {
			s.byLane[lane] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// EffectiveStatus maps the last non-checkpoint event to a status string:
// claim → in_progress, release → ready, block → blocked, done → done. WUs with
// no events report "unknown".
func (s *Store) EffectiveStatus(id string) (string, error) {
	if err := s.refresh(); err != nil {
		return "", err
	}
	e, ok := s.latest[id]
	if !ok {
		return "unknown", nil
	}
	switch e.Kind {
	case KindClaim:
		return "in_progress", nil
	case KindRelease:
		return "ready", nil
	case KindBlock:
		return "blocked", nil
	case KindDone:
		return "done", nil
	}
	return "unknown", nil
}

// InProgressInLane lists WU ids whose latest event is a claim in the lane.
func (s *Store) InProgressInLane(lane string) ([]string, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	ids := s.byLane[lane]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

// InProgress lists all WU ids currently claimed, with their lanes.
func (s *Store) InProgress() (map[string]string, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for id, e := range s.latest {
		if e.Kind == KindClaim {
			out[id] = e.Lane
		}
	}
	return out, nil
}

// LastCheckpoint returns the most recent checkpoint for the WU's current
// episode, or nil when there is none.
func (s *Store) LastCheckpoint(id string) (*Checkpoint, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.checkpoint[id], nil
}

// LastEvent returns the last non-checkpoint event for the WU, if any.
func (s *Store) LastEvent(id string) (*Event, bool, error) {
	if err := s.refresh(); err != nil {
		return nil, false, err
	}
	e, ok := s.latest[id]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

// String renders a one-line description of an event for human output.
func (e Event) String() string {
	b := fmt.Sprintf("%s %s", e.Kind, e.WUID)
	if e.Lane != "" {
		b += " [" + e.Lane + "]"
	}
	if e.Reason != "" {
		b += ": " + e.Reason
	}
	return b
}
