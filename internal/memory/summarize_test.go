package memory

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSummarizeFoldsSources(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	cp := mustCreate(t, s, &Node{Type: TypeCheckpoint, Lifecycle: LifecycleSession, Content: "tests green", WUID: "WU-1", CreatedAt: base})
	disc := mustCreate(t, s, &Node{Type: TypeDiscovery, Lifecycle: LifecycleWU, Content: "config was stale", WUID: "WU-1", CreatedAt: base.Add(time.Minute)})
	mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleEphemeral, Content: "scratch", WUID: "WU-1"})
	mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "other wu", WUID: "WU-2"})

	result, err := s.Summarize(context.Background(), "WU-1", SummarizeOptions{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if result.Summary == nil || result.Summary.Type != TypeSummary || result.Summary.Lifecycle != LifecycleProject {
		t.Fatalf("summary = %+v", result.Summary)
	}
	if len(result.SourceIDs) != 2 {
		t.Fatalf("sources = %v, want the checkpoint and the discovery", result.SourceIDs)
	}
	if !strings.Contains(result.Summary.Content, "tests green") || !strings.Contains(result.Summary.Content, "config was stale") {
		t.Errorf("summary content missing sources:\n%s", result.Summary.Content)
	}

	// Sources carry the provenance marker afterwards.
	all, err := s.Load(LoadOptions{IncludeArchived: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, id := range []string{cp.ID, disc.ID} {
		if all.ByID[id].SummarizedInto() != result.Summary.ID {
			t.Errorf("%s not marked summarized_into %s", id, result.Summary.ID)
		}
	}

	// A second pass has nothing left to fold.
	if _, err := s.Summarize(context.Background(), "WU-1", SummarizeOptions{}); err == nil {
		t.Error("second summarize should report nothing to fold")
	}
}

func TestSummarizeDryRun(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "one finding", WUID: "WU-1"})

	result, err := s.Summarize(context.Background(), "WU-1", SummarizeOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if result.Summary == nil || result.Summary.ID != "" {
		t.Errorf("dry run should render without persisting, got %+v", result.Summary)
	}
	loaded, err := s.Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Nodes) != 1 {
		t.Errorf("dry run wrote to the store: %d nodes", len(loaded.Nodes))
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := testStore(t)
	if _, err := s.Summarize(context.Background(), "WU-9", SummarizeOptions{}); err == nil {
		t.Error("summarize with no memory should fail")
	}
}

func TestAggregateGroupsByType(t *testing.T) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	out := aggregate("WU-1", []*Node{
		{Type: TypeDiscovery, Content: "second", CreatedAt: base.Add(time.Hour)},
		{Type: TypeDiscovery, Content: "first", CreatedAt: base},
		{Type: TypeCheckpoint, Content: "cp", CreatedAt: base},
	})
	if !strings.Contains(out, "## Checkpoint") || !strings.Contains(out, "## Discovery") {
		t.Errorf("type headings missing:\n%s", out)
	}
	if strings.Index(out, "## Checkpoint") > strings.Index(out, "## Discovery") {
		t.Error("checkpoint section should come first")
	}
	if strings.Index(out, "- first") > strings.Index(out, "- second") {
		t.Error("entries within a type should be chronological")
	}
}
