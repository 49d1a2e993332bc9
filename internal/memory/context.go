package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// TruncationMarker is emitted whenever a context block had to drop content to
// fit its size budget.
const TruncationMarker = "<!-- context truncated to fit size budget -->"

// SectionLimits caps how many nodes each section may contribute before the
// size budget is even consulted.
type SectionLimits struct {
	Summaries   int
	Discoveries int
	Project     int
}

// DefaultSectionLimits matches what an agent can usefully ingest.
var DefaultSectionLimits = SectionLimits{Summaries: 5, Discoveries: 10, Project: 5}

// ContextOptions controls context assembly.
type ContextOptions struct {
	MaxSize     int // bytes; 0 means unbounded
	Lane        string
	SortByDecay bool // half-life weighting over last access instead of recency
	TrackAccess bool // record last_access on the nodes used
	Limits      SectionLimits
	Now         time.Time // injectable for deterministic tests
}

// ContextStats reports what the builder produced.
type ContextStats struct {
	NodesUsed int
	Size      int
	Truncated bool
}

// decayHalfLife is the half-life used by the decay scorer.
const decayHalfLife = 7 * 24 * time.Hour

// Context assembles the size-bounded markdown block an agent ingests before
// working a WU. Section order is fixed: WU Context, Summaries, Discoveries,
// Project Profile. WU-specific content is never truncated before project
// content; the budget consumes sections back to front.
func (s *Store) Context(wuID string, opts ContextOptions) (string, *ContextStats, error) {
	if opts.Limits == (SectionLimits{}) {
		opts.Limits = DefaultSectionLimits
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	loaded, err := s.Load(LoadOptions{})
	if err != nil {
		return "", nil, err
	}

	wuNodes := loaded.ByWU[wuID]
	var wuContext, summaries, discoveries []*Node
	for _, n := range wuNodes {
		switch n.Type {
		case TypeSummary:
			summaries = append(summaries, n)
		case TypeDiscovery:
			discoveries = append(discoveries, n)
		default:
			wuContext = append(wuContext, n)
		}
	}
	// Project profile: project-lifecycle nodes outside this WU, optionally
	// narrowed to the lane via tags.
	var project []*Node
	for _, n := range loaded.Nodes {
		if n.WUID == wuID || n.Lifecycle != LifecycleProject {
			continue
		}
		if opts.Lane != "" && !hasTag(n, "lane:"+opts.Lane) {
			continue
		}
		project = append(project, n)
	}

	rank := func(nodes []*Node) {
		if opts.SortByDecay {
			sort.SliceStable(nodes, func(i, j int) bool {
				return decayScore(nodes[i], opts.Now) > decayScore(nodes[j], opts.Now)
			})
			return
		}
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].CreatedAt.After(nodes[j].CreatedAt)
		})
	}
	rank(wuContext)
	rank(summaries)
	rank(discoveries)
	rank(project)

	summaries = capNodes(summaries, opts.Limits.Summaries)
	discoveries = capNodes(discoveries, opts.Limits.Discoveries)
	project = capNodes(project, opts.Limits.Project)

	type sectionData struct {
		title string
		nodes []*Node
	}
	sections := []sectionData{
		{"WU Context", wuContext},
		{"Summaries", summaries},
		{"Discoveries", discoveries},
		{"Project Profile", project},
	}

	render := func(drop int) (string, []*Node) {
		var b strings.Builder
		var used []*Node
		fmt.Fprintf(&b, "# Memory Context: %s\n", wuID)
		for i, sec := range sections {
			if i >= len(sections)-drop {
				break
			}
			if len(sec.nodes) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n## %s\n\n", sec.title)
			for _, n := range sec.nodes {
				fmt.Fprintf(&b, "- [%s] %s\n", n.CreatedAt.Format("2006-01-02"), n.Content)
				used = append(used, n)
			}
		}
		return b.String(), used
	}

	// Drop whole sections back to front until the budget fits; WU-specific
	// sections go last by construction.
	var out string
	var used []*Node
	truncated := false
	for drop := 0; drop <= len(sections); drop++ {
		out, used = render(drop)
		if drop > 0 {
			truncated = true
		}
		if opts.MaxSize <= 0 || len(out)+len(TruncationMarker)+1 <= opts.MaxSize || drop == len(sections) {
			break
		}
	}
	// Final resort: hard-trim the remaining text.
	if opts.MaxSize > 0 && len(out) > opts.MaxSize {
		out = out[:opts.MaxSize-len(TruncationMarker)-1]
		truncated = true
	}
	if truncated {
		out += "\n" + TruncationMarker
	}

	if opts.TrackAccess && len(used) > 0 {
		ids := make([]string, len(used))
		for i, n := range used {
			ids[i] = n.ID
		}
		if err := s.TouchAccess(ids); err != nil {
			return "", nil, err
		}
	}
	return out, &ContextStats{NodesUsed: len(used), Size: len(out), Truncated: truncated}, nil
}

// decayScore weights a node by the age of its last access with a fixed
// half-life, so recently consulted memory outranks stale memory even when the
// stale node was created later.
func decayScore(n *Node, now time.Time) float64 {
	ref := n.CreatedAt
	if n.Metadata != nil {
		if s, ok := n.Metadata["last_access"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				ref = t
			}
		}
	}
	age := now.Sub(ref)
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(decayHalfLife))
}

func capNodes(nodes []*Node, n int) []*Node {
	if n > 0 && len(nodes) > n {
		return nodes[:n]
	}
	return nodes
}
