package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/wu"
)

func recoverWU() *wu.WU {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return &wu.WU{
		ID:            "WU-5",
		Title:         "Projection cache",
		Lane:          "Core",
		Type:          wu.TypeFeature,
		Status:        wu.StatusInProgress,
		CodePaths:     []string{"internal/events/**"},
		Acceptance:    []string{"cache refreshes", "no stale reads"},
		ClaimedAt:     &now,
		ClaimedBranch: "lane/core/wu-5",
	}
}

func TestRecoverContextSections(t *testing.T) {
	cp := &events.Checkpoint{
		Content:   "store wired",
		Progress:  "projection done",
		NextSteps: "wire CLI",
		TS:        time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC),
	}
	meta := map[string]any{"git_diff_stat": " 3 files changed, 120 insertions(+)"}
	result := RecoverContext(recoverWU(), cp, meta, RecoverOptions{})

	for _, want := range []string{
		"# Recovery: WU-5",
		"## Last Checkpoint",
		"store wired",
		"wire CLI",
		"## Work Unit",
		"internal/events/**",
		"## Diff At Checkpoint",
		"3 files changed",
		"## Constraints",
		"## CLI",
		"lf done WU-5",
	} {
		if !strings.Contains(result.Markdown, want) {
			t.Errorf("recovery block missing %q:\n%s", want, result.Markdown)
		}
	}
	if result.Truncated {
		t.Error("small block reported truncation")
	}
	if result.Size != len(result.Markdown) {
		t.Errorf("size = %d, want %d", result.Size, len(result.Markdown))
	}
}

func TestRecoverContextWithoutCheckpoint(t *testing.T) {
	result := RecoverContext(recoverWU(), nil, nil, RecoverOptions{})
	if strings.Contains(result.Markdown, "## Last Checkpoint") {
		t.Error("checkpoint section present without a checkpoint")
	}
	if strings.Contains(result.Markdown, "## Diff At Checkpoint") {
		t.Error("diff section present without metadata")
	}
	if !strings.Contains(result.Markdown, "## Constraints") {
		t.Error("constraints section missing")
	}
}

func TestRecoverContextListCaps(t *testing.T) {
	w := recoverWU()
	w.Acceptance = nil
	for i := 0; i < 12; i++ {
		w.Acceptance = append(w.Acceptance, fmt.Sprintf("criterion %d", i))
	}
	result := RecoverContext(w, nil, nil, RecoverOptions{})
	if !strings.Contains(result.Markdown, "… 4 more") {
		t.Errorf("acceptance list not capped:\n%s", result.Markdown)
	}
	if strings.Contains(result.Markdown, "criterion 9") {
		t.Error("entries past the cap were rendered")
	}
}

func TestRecoverContextTruncation(t *testing.T) {
	w := recoverWU()
	w.Title = strings.Repeat("long title ", 50)
	result := RecoverContext(w, nil, nil, RecoverOptions{MaxSize: 300})
	if !result.Truncated {
		t.Fatal("truncation not reported")
	}
	if len(result.Markdown) > 300 {
		t.Errorf("block %d bytes exceeds budget 300", len(result.Markdown))
	}
	if !strings.HasSuffix(result.Markdown, TruncationMarker) {
		t.Error("truncation marker missing")
	}
}
