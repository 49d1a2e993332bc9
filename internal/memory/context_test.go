package memory

import (
	"strings"
	"testing"
	"time"
)

func seedContextStore(t *testing.T) *Store {
	t.Helper()
	s := testStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "wu note old", WUID: "WU-1", CreatedAt: base})
	mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "wu note new", WUID: "WU-1", CreatedAt: base.Add(time.Hour)})
	mustCreate(t, s, &Node{Type: TypeSummary, Lifecycle: LifecycleProject, Content: "earlier summary", WUID: "WU-1", CreatedAt: base})
	mustCreate(t, s, &Node{Type: TypeDiscovery, Lifecycle: LifecycleWU, Content: "found a race", WUID: "WU-1", CreatedAt: base})
	mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleProject, Content: "project convention", CreatedAt: base})
	mustCreate(t, s, &Node{
		Type: TypeNote, Lifecycle: LifecycleProject, Content: "storage lane rule",
		Tags: []string{"lane:Platform: Storage"}, CreatedAt: base,
	})
	return s
}

func TestContextSectionOrder(t *testing.T) {
	s := seedContextStore(t)
	out, stats, err := s.Context("WU-1", ContextOptions{})
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	var idx []int
	for _, h := range []string{"# Memory Context: WU-1", "## WU Context", "## Summaries", "## Discoveries", "## Project Profile"} {
		i := strings.Index(out, h)
		if i < 0 {
			t.Fatalf("missing heading %q in:\n%s", h, out)
		}
		idx = append(idx, i)
	}
	for i := 1; i < len(idx); i++ {
		if idx[i] < idx[i-1] {
			t.Fatalf("sections out of order:\n%s", out)
		}
	}
	if stats.Truncated {
		t.Error("unbounded context reported truncation")
	}
	if stats.NodesUsed == 0 || stats.Size != len(out) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestContextRecencyRanking(t *testing.T) {
	s := seedContextStore(t)
	out, _, err := s.Context("WU-1", ContextOptions{})
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if strings.Index(out, "wu note new") > strings.Index(out, "wu note old") {
		t.Error("newer node ranked below older one")
	}
}

func TestContextLaneFilter(t *testing.T) {
	s := seedContextStore(t)
	out, _, err := s.Context("WU-1", ContextOptions{Lane: "Platform: Storage"})
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if !strings.Contains(out, "storage lane rule") {
		t.Error("lane-tagged project node missing")
	}
	if strings.Contains(out, "project convention") {
		t.Error("untagged project node leaked through the lane filter")
	}
}

func TestContextBudgetDropsProjectFirst(t *testing.T) {
	s := seedContextStore(t)
	full, _, err := s.Context("WU-1", ContextOptions{})
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	// A budget just below the full size must drop the tail section, not the
	// WU-specific content.
	out, stats, err := s.Context("WU-1", ContextOptions{MaxSize: len(full) - 10})
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if !stats.Truncated {
		t.Fatal("truncation not reported")
	}
	if !strings.Contains(out, TruncationMarker) {
		t.Error("truncation marker missing")
	}
	if !strings.Contains(out, "wu note new") {
		t.Error("WU-specific content was dropped before project content")
	}
	if strings.Contains(out, "project convention") {
		t.Error("project section survived a budget that required dropping it")
	}
	if len(out) > len(full)-10 {
		t.Errorf("output %d bytes exceeds budget %d", len(out), len(full)-10)
	}
}

func TestContextDeterministic(t *testing.T) {
	s := seedContextStore(t)
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	a, _, err := s.Context("WU-1", ContextOptions{Now: now, SortByDecay: true})
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	b, _, err := s.Context("WU-1", ContextOptions{Now: now, SortByDecay: true})
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if a != b {
		t.Error("same inputs produced different context")
	}
}

func TestDecayScore(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	week := &Node{CreatedAt: now.Add(-7 * 24 * time.Hour)}
	if got := decayScore(week, now); got < 0.49 || got > 0.51 {
		t.Errorf("one half-life score = %f, want ~0.5", got)
	}
	// last_access overrides created_at.
	touched := &Node{
		CreatedAt: now.Add(-30 * 24 * time.Hour),
		Metadata:  map[string]any{"last_access": now.Add(-time.Hour).Format(time.RFC3339)},
	}
	stale := &Node{CreatedAt: now.Add(-2 * 24 * time.Hour)}
	if decayScore(touched, now) <= decayScore(stale, now) {
		t.Error("recently accessed node should outrank a newer but untouched one")
	}
}
