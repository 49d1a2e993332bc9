package memory

import (
	"fmt"
	"strings"

	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// RecoverOptions controls the post-compaction recovery block.
type RecoverOptions struct {
	MaxSize int // bytes; 0 means the 8 KiB default
}

const defaultRecoverSize = 8192

// Caps on list sections; the recovery block is deliberately compact.
const (
	maxAcceptanceItems = 8
	maxCodePaths       = 8
)

// RecoverResult is the assembled recovery block with its size accounting.
type RecoverResult struct {
	Markdown  string
	Size      int
	Truncated bool
}

// RecoverContext builds the compact block an agent ingests to continue a WU
// after its context window was compacted: header, last checkpoint, WU
// metadata (acceptance and code paths, capped), the checkpoint's diff stat,
// compact constraints, and the essential CLI reference, in that order.
func RecoverContext(w *wu.WU, cp *events.Checkpoint, cpMeta map[string]any, opts RecoverOptions) *RecoverResult {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = defaultRecoverSize
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Recovery: %s — %s\n", w.ID, w.Title)
	fmt.Fprintf(&b, "\nStatus: %s", w.Status)
	if w.Lane != "" {
		fmt.Fprintf(&b, " · Lane: %s", w.Lane)
	}
	if w.ClaimedBranch != "" {
		fmt.Fprintf(&b, " · Branch: %s", w.ClaimedBranch)
	}
	b.WriteString("\n")

	if cp != nil {
		b.WriteString("\n## Last Checkpoint\n\n")
		fmt.Fprintf(&b, "- note: %s\n", cp.Content)
		if cp.Progress != "" {
			fmt.Fprintf(&b, "- progress: %s\n", cp.Progress)
		}
		if cp.NextSteps != "" {
			fmt.Fprintf(&b, "- next steps: %s\n", cp.NextSteps)
		}
		fmt.Fprintf(&b, "- at: %s\n", cp.TS.Format("2006-01-02 15:04 MST"))
	}

	b.WriteString("\n## Work Unit\n\n")
	if len(w.Acceptance) > 0 {
		b.WriteString("Acceptance:\n")
		for i, a := range w.Acceptance {
			if i >= maxAcceptanceItems {
				fmt.Fprintf(&b, "- … %d more\n", len(w.Acceptance)-i)
				break
			}
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if len(w.CodePaths) > 0 {
		b.WriteString("Code paths:\n")
		for i, p := range w.CodePaths {
			if i >= maxCodePaths {
				fmt.Fprintf(&b, "- … %d more\n", len(w.CodePaths)-i)
				break
			}
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	if stat, _ := cpMeta["git_diff_stat"].(string); stat != "" {
		b.WriteString("\n## Diff At Checkpoint\n\n```\n")
		b.WriteString(strings.TrimSpace(stat))
		b.WriteString("\n```\n")
	}

	b.WriteString("\n## Constraints\n\n")
	b.WriteString("- Mutate only the declared code paths; coverage is checked at done time.\n")
	b.WriteString("- Shared docs are written through micro-worktrees, never from your checkout.\n")
	b.WriteString("- Checkpoint before anything that might lose your context.\n")

	b.WriteString("\n## CLI\n\n")
	fmt.Fprintf(&b, "- `lf checkpoint \"<note>\" --wu %s` — record progress\n", w.ID)
	fmt.Fprintf(&b, "- `lf done %s` — finish\n", w.ID)
	fmt.Fprintf(&b, "- `lf block %s --reason \"<why>\"` — park\n", w.ID)
	fmt.Fprintf(&b, "- `lf context %s` — full memory context\n", w.ID)

	out := b.String()
	truncated := false
	if len(out) > maxSize {
		out = out[:maxSize-len(TruncationMarker)-1] + "\n" + TruncationMarker
		truncated = true
	}
	return &RecoverResult{Markdown: out, Size: len(out), Truncated: truncated}
}
