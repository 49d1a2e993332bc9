package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/lferr"
)

// SummarizeOptions controls a summarize pass.
type SummarizeOptions struct {
	DryRun bool
	// AI, when non-nil, polishes the deterministic aggregate with a model
	// call. The deterministic aggregate is always produced first and is the
	// fallback when the call fails.
	AI *HaikuClient
}

// SummarizeResult reports what a summarize pass did (or would do).
type SummarizeResult struct {
	Summary   *Node
	SourceIDs []string
}

// Summarize folds all non-ephemeral, not-yet-summarized nodes of a WU into a
// single summary node (lifecycle=project) whose provenance points at the
// source ids. Sources are marked summarized_into=<id> for later cleanup;
// project-lifecycle sources keep their content but are marked the same way,
// protecting them from deletion passes while preserving the provenance.
func (s *Store) Summarize(ctx context.Context, wuID string, opts SummarizeOptions) (*SummarizeResult, error) {
	loaded, err := s.Load(LoadOptions{})
	if err != nil {
		return nil, err
	}
	var sources []*Node
	for _, n := range loaded.ByWU[wuID] {
		if n.Lifecycle == LifecycleEphemeral {
			continue
		}
		if n.Type == TypeSummary || n.SummarizedInto() != "" {
			continue
		}
		sources = append(sources, n)
	}
	if len(sources) == 0 {
		return nil, lferr.New(lferr.KindValidation, "no unsummarized memory for %s", wuID)
	}

	content := aggregate(wuID, sources)
	if opts.AI != nil {
		if polished, err := opts.AI.Summarize(ctx, wuID, content); err == nil && polished != "" {
			content = polished
		}
		// A failed model call falls back to the deterministic aggregate.
	}

	ids := make([]string, 0, len(sources))
	for _, n := range sources {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	result := &SummarizeResult{SourceIDs: ids}
	if opts.DryRun {
		result.Summary = &Node{Type: TypeSummary, Lifecycle: LifecycleProject, Content: content, WUID: wuID}
		return result, nil
	}

	summary := &Node{
		Type:      TypeSummary,
		Lifecycle: LifecycleProject,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		WUID:      wuID,
		Metadata:  map[string]any{"source_ids": ids},
	}
	if err := s.Create(summary, ""); err != nil {
		return nil, err
	}

	// Mark the sources. This is the only mutation summarize makes to them.
	all, err := s.Load(LoadOptions{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for _, n := range all.Nodes {
		if want[n.ID] {
			if n.Metadata == nil {
				n.Metadata = map[string]any{}
			}
			n.Metadata["summarized_into"] = summary.ID
			n.UpdatedAt = &now
		}
	}
	if err := s.rewrite(all.Nodes); err != nil {
		return nil, err
	}
	result.Summary = summary
	return result, nil
}

// aggregate produces the deterministic by-type digest of the sources.
func aggregate(wuID string, sources []*Node) string {
	byType := map[NodeType][]*Node{}
	for _, n := range sources {
		byType[n.Type] = append(byType[n.Type], n)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %s memory (%d nodes)\n", wuID, len(sources))
	for _, t := range []NodeType{TypeCheckpoint, TypeDiscovery, TypeSession, TypeNote} {
		nodes := byType[t]
		if len(nodes) == 0 {
			continue
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].CreatedAt.Before(nodes[j].CreatedAt) })
		name := string(t)
		fmt.Fprintf(&b, "\n## %s\n", strings.ToUpper(name[:1])+name[1:])
		for _, n := range nodes {
			fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(n.Content, "\n", " "))
		}
	}
	return b.String()
}
