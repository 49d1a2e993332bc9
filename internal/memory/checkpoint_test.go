package memory

import (
	"path/filepath"
	"testing"

	"github.com/lumenflow/lumenflow/internal/events"
)

func TestCheckpointWritesNodeAndEvent(t *testing.T) {
	s := testStore(t)
	log := events.NewLog(filepath.Join(t.TempDir(), "wu-events.jsonl"))

	n, err := s.Checkpoint(log, "tests passing", CheckpointOptions{
		WUID:        "WU-1",
		SessionID:   "01HZX",
		Progress:    "store done",
		NextSteps:   "wire CLI",
		Trigger:     "pre-compact",
		GitDiffStat: " 3 files changed",
	})
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if n.Type != TypeCheckpoint || n.Lifecycle != LifecycleSession {
		t.Errorf("node = %+v", n)
	}
	if n.Metadata["git_diff_stat"] != " 3 files changed" {
		t.Errorf("metadata = %v", n.Metadata)
	}

	evs, err := log.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != events.KindCheckpoint || evs[0].WUID != "WU-1" {
		t.Fatalf("events = %v", evs)
	}
	if evs[0].Note != "tests passing" || evs[0].NextSteps != "wire CLI" {
		t.Errorf("event fields = %+v", evs[0])
	}
}

func TestCheckpointWithoutWU(t *testing.T) {
	s := testStore(t)
	log := events.NewLog(filepath.Join(t.TempDir(), "wu-events.jsonl"))

	if _, err := s.Checkpoint(log, "freestanding note", CheckpointOptions{}); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	evs, err := log.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("unlinked checkpoint emitted events: %v", evs)
	}
}

func TestCheckpointEmptyNote(t *testing.T) {
	s := testStore(t)
	if _, err := s.Checkpoint(nil, "", CheckpointOptions{}); err == nil {
		t.Error("empty note accepted")
	}
}
