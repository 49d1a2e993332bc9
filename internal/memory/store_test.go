package memory

import (
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "memory.jsonl"), filepath.Join(dir, "relationships.jsonl"))
}

func mustCreate(t *testing.T, s *Store, n *Node) *Node {
	t.Helper()
	if err := s.Create(n, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return n
}

func TestCreateAssignsID(t *testing.T) {
	s := testStore(t)
	n := mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "found the race"})
	if !ValidNodeID(n.ID) {
		t.Errorf("generated id %q does not match mem-xxxx", n.ID)
	}
	if n.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestCreateValidates(t *testing.T) {
	s := testStore(t)
	if err := s.Create(&Node{Type: "weird", Lifecycle: LifecycleWU, Content: "x"}, ""); err == nil {
		t.Error("invalid type accepted")
	}
	if err := s.Create(&Node{Type: TypeNote, Lifecycle: LifecycleWU}, ""); err == nil {
		t.Error("empty content accepted")
	}
}

func TestLoadLastWriteWins(t *testing.T) {
	s := testStore(t)
	n := mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "v1", WUID: "WU-1"})
	// A later line with the same id supersedes the first.
	updated := *n
	updated.Content = "v2"
	if err := appendLine(s.nodesPath, &updated); err != nil {
		t.Fatalf("appendLine: %v", err)
	}

	loaded, err := s.Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1 after dedup", len(loaded.Nodes))
	}
	if loaded.ByID[n.ID].Content != "v2" {
		t.Errorf("content = %q, want the later write", loaded.ByID[n.ID].Content)
	}
	if len(loaded.ByWU["WU-1"]) != 1 {
		t.Errorf("ByWU = %v", loaded.ByWU)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := testStore(t)
	loaded, err := s.Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Nodes) != 0 {
		t.Errorf("nodes = %v, want empty", loaded.Nodes)
	}
}

func TestDeleteSoft(t *testing.T) {
	s := testStore(t)
	keep := mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "keep"})
	drop := mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "drop"})

	matched, err := s.Delete(DeleteOptions{IDs: []string{drop.ID}})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(matched) != 1 || matched[0] != drop.ID {
		t.Fatalf("matched = %v", matched)
	}

	loaded, err := s.Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Nodes) != 1 || loaded.Nodes[0].ID != keep.ID {
		t.Errorf("visible nodes = %v, want only %s", loaded.Nodes, keep.ID)
	}

	// The line survives; only its status changed.
	all, err := s.Load(LoadOptions{IncludeArchived: true})
	if err != nil {
		t.Fatalf("Load archived: %v", err)
	}
	if len(all.Nodes) != 2 {
		t.Errorf("archived view = %d nodes, want 2", len(all.Nodes))
	}

	// A second pass matches nothing.
	matched, err = s.Delete(DeleteOptions{IDs: []string{drop.ID}})
	if err != nil {
		t.Fatalf("Delete again: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("second delete matched %v", matched)
	}
}

func TestDeleteByTagAndAge(t *testing.T) {
	s := testStore(t)
	old := mustCreate(t, s, &Node{
		Type: TypeNote, Lifecycle: LifecycleWU, Content: "old scratch",
		Tags: []string{"scratch"}, CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	})
	mustCreate(t, s, &Node{
		Type: TypeNote, Lifecycle: LifecycleWU, Content: "fresh scratch",
		Tags: []string{"scratch"},
	})
	mustCreate(t, s, &Node{
		Type: TypeNote, Lifecycle: LifecycleWU, Content: "old keeper",
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	})

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	// Tag plus age narrows to the intersection.
	matched, err := s.Delete(DeleteOptions{Tag: "scratch", OlderThan: &cutoff, DryRun: true})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(matched) != 1 || matched[0] != old.ID {
		t.Errorf("matched = %v, want only the old scratch node", matched)
	}

	// Dry run changed nothing.
	loaded, err := s.Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Nodes) != 3 {
		t.Errorf("dry run mutated the store: %d nodes", len(loaded.Nodes))
	}
}

func TestRelationships(t *testing.T) {
	s := testStore(t)
	parent := mustCreate(t, s, &Node{Type: TypeDiscovery, Lifecycle: LifecycleWU, Content: "root cause"})
	child := &Node{Type: TypeDiscovery, Lifecycle: LifecycleWU, Content: "follow-on"}
	if err := s.Create(child, parent.ID); err != nil {
		t.Fatalf("Create with provenance: %v", err)
	}
	rels, err := s.LoadRelationships()
	if err != nil {
		t.Fatalf("LoadRelationships: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("rels = %v, want 1", rels)
	}
	r := rels[0]
	if r.FromID != child.ID || r.ToID != parent.ID || r.Type != RelDiscoveredFrom {
		t.Errorf("relationship = %+v", r)
	}

	if err := s.AppendRelationship(Relationship{FromID: child.ID, ToID: parent.ID, Type: "bogus"}); err == nil {
		t.Error("invalid relationship type accepted")
	}
}

func TestTouchAccess(t *testing.T) {
	s := testStore(t)
	n := mustCreate(t, s, &Node{Type: TypeNote, Lifecycle: LifecycleWU, Content: "x"})
	if err := s.TouchAccess([]string{n.ID}); err != nil {
		t.Fatalf("TouchAccess: %v", err)
	}
	loaded, err := s.Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := loaded.ByID[n.ID].Metadata["last_access"]; !ok {
		t.Error("last_access not recorded")
	}
}
