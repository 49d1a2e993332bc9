package docs

import (
	"strings"
	"testing"
)

const sampleDoc = `# Status

## In Progress

- WU-4 — Parser rewrite [Core]
- WU-42 — Cache layer [Platform: Storage]

## Ready

- WU-7 — Docs sweep

## Completed

- WU-1 — Bootstrap
`

func TestMarkDone(t *testing.T) {
	doc, changed := MarkDone(sampleDoc, SectionCompleted, "WU-4", "Parser rewrite")
	if !changed {
		t.Fatal("MarkDone reported no change")
	}
	if ListedInProgress(doc, "WU-4") {
		t.Error("WU-4 still bulleted in progress")
	}
	if !hasBulletIn(doc, SectionCompleted, "WU-4") {
		t.Error("WU-4 not bulleted in Completed")
	}
	// WU-42 must survive the WU-4 edit untouched.
	if !ListedInProgress(doc, "WU-42") {
		t.Error("WU-42 bullet was damaged by the WU-4 move")
	}

	again, changed := MarkDone(doc, SectionCompleted, "WU-4", "Parser rewrite")
	if changed || again != doc {
		t.Error("second MarkDone should be a no-op")
	}
}

func TestMarkInProgress(t *testing.T) {
	doc, changed := MarkInProgress(sampleDoc, "WU-7", "Docs sweep", "Docs")
	if !changed {
		t.Fatal("MarkInProgress reported no change")
	}
	if hasBulletIn(doc, SectionReady, "WU-7") {
		t.Error("WU-7 still bulleted in Ready")
	}
	if !ListedInProgress(doc, "WU-7") {
		t.Error("WU-7 not bulleted in progress")
	}
}

func TestMarkReady(t *testing.T) {
	doc, changed := MarkReady(sampleDoc, "WU-4", "Parser rewrite")
	if !changed {
		t.Fatal("MarkReady reported no change")
	}
	if ListedInProgress(doc, "WU-4") {
		t.Error("WU-4 still in progress after reset")
	}
	if !hasBulletIn(doc, SectionReady, "WU-4") {
		t.Error("WU-4 not bulleted in Ready")
	}
}

func TestRemoveEverywhere(t *testing.T) {
	doc, changed := RemoveEverywhere(sampleDoc, "WU-42")
	if !changed {
		t.Fatal("RemoveEverywhere reported no change")
	}
	if strings.Contains(doc, "- WU-42") {
		t.Error("WU-42 bullet survived removal")
	}

	_, changed = RemoveEverywhere(doc, "WU-42")
	if changed {
		t.Error("second removal should be a no-op")
	}
}

func TestProseMentionsPreserved(t *testing.T) {
	doc := "Intro mentions WU-4 in prose.\n\n## In Progress\n\n- WU-4 — Parser rewrite\n"
	out, _ := MarkDone(doc, SectionCompleted, "WU-4", "Parser rewrite")
	if !strings.Contains(out, "Intro mentions WU-4 in prose.") {
		t.Error("prose mention of WU-4 was edited")
	}
}

func TestWordBoundary(t *testing.T) {
	doc := "## In Progress\n\n- WU-42 — Cache layer\n"
	out, changed := RemoveEverywhere(doc, "WU-4")
	if changed {
		t.Errorf("WU-4 removal touched WU-42: %q", out)
	}
}

func TestMissingSectionIsCreated(t *testing.T) {
	doc, changed := MarkDone("# Status\n", SectionCompleted, "WU-9", "New thing")
	if !changed {
		t.Fatal("MarkDone reported no change")
	}
	if !hasBulletIn(doc, SectionCompleted, "WU-9") {
		t.Errorf("Completed section not created: %q", doc)
	}
}

func TestEmptyDoc(t *testing.T) {
	doc, changed := MarkInProgress("", "WU-1", "First", "Core")
	if !changed || !ListedInProgress(doc, "WU-1") {
		t.Errorf("MarkInProgress on empty doc = %q", doc)
	}
}
