// Package overlap detects code-path conflicts between a candidate WU and the
// WUs currently in progress. Two declared paths conflict when one is a prefix
// of the other or when their glob expansions can match the same file; either
// case guarantees a merge conflict if both WUs land.
package overlap

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Conflict names an in-progress WU and the candidate paths it collides with.
type Conflict struct {
	WUID             string   `json:"wu_id"`
	OverlappingPaths []string `json:"overlapping_paths"`
}

// Detect computes pairwise intersections between the candidate's code_paths
// and each in-progress WU's code_paths. Results are sorted by WU id for
// deterministic output.
func Detect(candidate []string, inProgress map[string][]string) []Conflict {
	var out []Conflict
	for id, theirs := range inProgress {
		var hits []string
		seen := map[string]bool{}
		for _, c := range candidate {
			for _, t := range theirs {
				if !pathsOverlap(c, t) {
					continue
				}
				// Report the more specific of the pair; that is the path the
				// human needs to look at.
				p := c
				if len(t) > len(c) {
					p = t
				}
				if !seen[p] {
					seen[p] = true
					hits = append(hits, p)
				}
			}
		}
		if len(hits) > 0 {
			sort.Strings(hits)
			out = append(out, Conflict{WUID: id, OverlappingPaths: hits})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WUID < out[j].WUID })
	return out
}

// pathsOverlap reports whether two declared paths can touch the same file.
// Directory declarations ("src/api/") act as recursive prefixes; glob
// patterns are matched against the other side's literal form.
func pathsOverlap(a, b string) bool {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		return true
	}
	if prefixOf(a, b) || prefixOf(b, a) {
		return true
	}
	if isGlob(a) {
		if ok, err := doublestar.Match(a, b); err == nil && ok {
			return true
		}
		// A glob rooted under the other path also overlaps it, e.g.
		// "src/api/**/*.go" vs "src/api/".
		if prefixOf(globRoot(a), b) || prefixOf(b, globRoot(a)) {
			return true
		}
	}
	if isGlob(b) {
		if ok, err := doublestar.Match(b, a); err == nil && ok {
			return true
		}
		if prefixOf(globRoot(b), a) || prefixOf(a, globRoot(b)) {
			return true
		}
	}
	return false
}

func normalize(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
}

// prefixOf reports whether a is a directory prefix of b.
func prefixOf(a, b string) bool {
	a = strings.TrimSuffix(a, "/")
	if a == "" {
		return true
	}
	return b == a || strings.HasPrefix(b, a+"/")
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// globRoot returns the literal directory portion before the first metachar.
func globRoot(p string) string {
	parts := strings.Split(p, "/")
	var root []string
	for _, part := range parts {
		if strings.ContainsAny(part, "*?[{") {
			break
		}
		root = append(root, part)
	}
	return strings.Join(root, "/")
}

// MatchesAny reports whether file is covered by any declared path. Used by the
// done-time coverage check.
func MatchesAny(declared []string, file string) bool {
	file = normalize(file)
	for _, d := range declared {
		d = normalize(d)
		if isGlob(d) {
			if ok, err := doublestar.Match(d, file); err == nil && ok {
				return true
			}
			continue
		}
		if prefixOf(d, file) {
			return true
		}
	}
	return false
}

// Touched reports, per declared path, whether at least one changed file falls
// under it. Used to enforce that every declared prefix saw changes.
func Touched(declared []string, files []string) map[string]bool {
	out := make(map[string]bool, len(declared))
	for _, d := range declared {
		out[d] = false
		for _, f := range files {
			if MatchesAny([]string{d}, f) {
				out[d] = true
				break
			}
		}
	}
	return out
}
