package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/workspace"
	"github.com/lumenflow/lumenflow/internal/wu"
)

func dupLayout(t *testing.T) workspace.Layout {
	t.Helper()
	return workspace.Resolve(t.TempDir(), workspace.Layout{})
}

func writeSpec(t *testing.T, path string, w *wu.WU) {
	t.Helper()
	if err := wu.Write(path, w); err != nil {
		t.Fatalf("Write %s: %v", path, err)
	}
}

func TestFindDuplicates(t *testing.T) {
	layout := dupLayout(t)
	dir := layout.WUDirPath()
	writeSpec(t, filepath.Join(dir, "WU-1.yaml"), &wu.WU{ID: "WU-1", Title: "canonical", Lane: "Core", Status: wu.StatusReady})
	writeSpec(t, filepath.Join(dir, "copied.yaml"), &wu.WU{ID: "WU-1", Title: "stray copy", Lane: "Docs", Status: wu.StatusReady})
	writeSpec(t, filepath.Join(dir, "WU-2.yaml"), &wu.WU{ID: "WU-2", Title: "unique", Lane: "Core", Status: wu.StatusReady})

	sets, err := FindDuplicates(dir)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("sets = %v, want 1", sets)
	}
	set := sets[0]
	if set.ID != "WU-1" || filepath.Base(set.Canonical) != "WU-1.yaml" {
		t.Errorf("canonical = %s, want the filename-matching spec", set.Canonical)
	}
	if len(set.Extras) != 1 || filepath.Base(set.Extras[0]) != "copied.yaml" {
		t.Errorf("extras = %v", set.Extras)
	}
}

func TestFindDuplicatesNoFilenameMatch(t *testing.T) {
	layout := dupLayout(t)
	dir := layout.WUDirPath()
	writeSpec(t, filepath.Join(dir, "aaa.yaml"), &wu.WU{ID: "WU-1", Title: "a", Lane: "Core", Status: wu.StatusReady})
	writeSpec(t, filepath.Join(dir, "bbb.yaml"), &wu.WU{ID: "WU-1", Title: "b", Lane: "Core", Status: wu.StatusReady})

	sets, err := FindDuplicates(dir)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(sets) != 1 || filepath.Base(sets[0].Canonical) != "aaa.yaml" {
		t.Errorf("canonical should fall back to the lexicographically first path: %+v", sets)
	}
}

func TestRepairDuplicates(t *testing.T) {
	layout := dupLayout(t)
	dir := layout.WUDirPath()
	writeSpec(t, filepath.Join(dir, "WU-1.yaml"), &wu.WU{ID: "WU-1", Title: "canonical", Lane: "Core", Status: wu.StatusReady})
	writeSpec(t, filepath.Join(dir, "copied.yaml"), &wu.WU{ID: "WU-1", Title: "stray copy", Lane: "Docs", Status: wu.StatusReady})

	log := events.NewLog(layout.EventsPath())
	for _, e := range []events.Event{
		{Kind: events.KindClaim, WUID: "WU-1", Lane: "Core"},
		{Kind: events.KindClaim, WUID: "WU-1", Lane: "Docs"},
	} {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	sets, err := FindDuplicates(dir)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	result, err := RepairDuplicates(layout, log, sets)
	if err != nil {
		t.Fatalf("RepairDuplicates: %v", err)
	}

	newID, ok := result.Renamed[filepath.Join(dir, "copied.yaml")]
	if !ok || newID != "WU-2" {
		t.Fatalf("renamed = %v, want copied.yaml -> WU-2", result.Renamed)
	}
	if _, err := os.Stat(filepath.Join(dir, "copied.yaml")); !os.IsNotExist(err) {
		t.Error("old duplicate file still present")
	}
	moved, err := wu.Read(layout.WUPath("WU-2"), "WU-2")
	if err != nil {
		t.Fatalf("Read moved spec: %v", err)
	}
	if moved.Title != "stray copy" || moved.Lane != "Docs" {
		t.Errorf("moved spec = %+v", moved)
	}

	// The Docs-lane event followed the re-id'd copy; the Core one stayed.
	if result.EventsRemapped != 1 {
		t.Errorf("events remapped = %d, want 1", result.EventsRemapped)
	}
	evs, err := log.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, e := range evs {
		if e.Lane == "Docs" && e.WUID != "WU-2" {
			t.Errorf("Docs event not remapped: %+v", e)
		}
		if e.Lane == "Core" && e.WUID != "WU-1" {
			t.Errorf("Core event moved: %+v", e)
		}
	}

	// Running repair again finds nothing.
	sets, err = FindDuplicates(dir)
	if err != nil {
		t.Fatalf("FindDuplicates after repair: %v", err)
	}
	if len(sets) != 0 {
		t.Errorf("duplicates remain after repair: %v", sets)
	}
}

func TestRepairSameLaneLeavesEvents(t *testing.T) {
	layout := dupLayout(t)
	dir := layout.WUDirPath()
	writeSpec(t, filepath.Join(dir, "WU-1.yaml"), &wu.WU{ID: "WU-1", Title: "canonical", Lane: "Core", Status: wu.StatusReady})
	writeSpec(t, filepath.Join(dir, "copied.yaml"), &wu.WU{ID: "WU-1", Title: "copy", Lane: "Core", Status: wu.StatusReady})

	log := events.NewLog(layout.EventsPath())
	if err := log.Append(events.Event{Kind: events.KindClaim, WUID: "WU-1", Lane: "Core"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sets, _ := FindDuplicates(dir)
	result, err := RepairDuplicates(layout, log, sets)
	if err != nil {
		t.Fatalf("RepairDuplicates: %v", err)
	}
	// Same lane means the events are ambiguous; they stay on the canonical id.
	if result.EventsRemapped != 0 {
		t.Errorf("events remapped = %d, want 0", result.EventsRemapped)
	}
}

func TestRepairDuplicatesDoneStamp(t *testing.T) {
	layout := dupLayout(t)
	dir := layout.WUDirPath()
	now := time.Now().UTC()
	writeSpec(t, filepath.Join(dir, "WU-1.yaml"), &wu.WU{ID: "WU-1", Title: "canonical", Lane: "Core", Status: wu.StatusReady})
	writeSpec(t, filepath.Join(dir, "copied.yaml"), &wu.WU{
		ID: "WU-1", Title: "done copy", Lane: "Docs", Status: wu.StatusDone, Locked: true, CompletedAt: &now,
	})
	if err := os.MkdirAll(filepath.Dir(layout.StampPath("WU-1")), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(layout.StampPath("WU-1"), []byte("WU-1 completed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	log := events.NewLog(layout.EventsPath())
	sets, _ := FindDuplicates(dir)
	result, err := RepairDuplicates(layout, log, sets)
	if err != nil {
		t.Fatalf("RepairDuplicates: %v", err)
	}
	if len(result.StampsDuplicated) != 1 {
		t.Fatalf("stamps duplicated = %v, want 1", result.StampsDuplicated)
	}
	if _, err := os.Stat(layout.StampPath(result.StampsDuplicated[0])); err != nil {
		t.Errorf("stamp for the re-id'd copy missing: %v", err)
	}
}

func TestAnalyzeStaleClaim(t *testing.T) {
	layout := dupLayout(t)
	log := events.NewLog(layout.EventsPath())
	for _, e := range []events.Event{
		{Kind: events.KindClaim, WUID: "WU-1", Lane: "Core"},
		{Kind: events.KindDone, WUID: "WU-1", Lane: "Core"},
	} {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	store := events.NewStore(log)

	now := time.Now().UTC()
	w := &wu.WU{ID: "WU-1", Title: "t", Lane: "Core", Status: wu.StatusInProgress, ClaimedAt: &now}
	a, err := Analyze(context.Background(), layout, nil, store, w)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !a.IsZombie() {
		t.Fatal("superseded claim not detected")
	}
	if a.Zombies[0].Kind != ZombieStaleClaim {
		t.Errorf("zombie kind = %s", a.Zombies[0].Kind)
	}
	if a.EventStatus != "done" {
		t.Errorf("event status = %s", a.EventStatus)
	}
}

func TestAnalyzeConsistent(t *testing.T) {
	layout := dupLayout(t)
	store := events.NewStore(events.NewLog(layout.EventsPath()))
	w := &wu.WU{ID: "WU-1", Title: "t", Lane: "Core", Status: wu.StatusReady}
	a, err := Analyze(context.Background(), layout, nil, store, w)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.IsZombie() {
		t.Errorf("consistent WU flagged: %+v", a.Zombies)
	}
}
