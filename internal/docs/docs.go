// Package docs edits the human-readable status and backlog dashboards. The
// dashboards are markdown with one bulleted section per lifecycle bucket;
// edits move a WU's bullet between sections. All operations are idempotent
// and duplicate-aware: a WU id never ends up bulleted in two sections, and
// prose mentions of an id are left alone.
package docs

import (
	"fmt"
	"regexp"
	"strings"
)

// Section keys recognized in dashboard headings, matched case-insensitively
// against "## <name>" headings.
const (
	SectionReady      = "Ready"
	SectionInProgress = "In Progress"
	SectionDone       = "Done"
	SectionCompleted  = "Completed"
)

// bulletFor matches a bulleted list item for the given WU id, tolerating
// nested indentation and both "-" and "*" markers. Word boundary keeps WU-4
// from matching WU-42.
func bulletFor(id string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*[-*][ \t].*\b` + regexp.QuoteMeta(id) + `\b.*\n?`)
}

var headingRe = regexp.MustCompile(`(?m)^##\s+(.+?)\s*$`)

// section locates the byte range of a section body (after its heading, up to
// the next "## " heading or EOF). Returns ok=false when the heading is absent.
func section(doc, name string) (start, end int, ok bool) {
	locs := headingRe.FindAllStringSubmatchIndex(doc, -1)
	for i, loc := range locs {
		title := doc[loc[2]:loc[3]]
		if !strings.EqualFold(strings.TrimSpace(title), name) {
			continue
		}
		start = loc[1]
		if start < len(doc) && doc[start] == '\n' {
			start++
		}
		end = len(doc)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		return start, end, true
	}
	return 0, 0, false
}

// ensureSection appends an empty section when the doc lacks it.
func ensureSection(doc, name string) string {
	if _, _, ok := section(doc, name); ok {
		return doc
	}
	if doc != "" && !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	if doc != "" {
		doc += "\n"
	}
	return doc + "## " + name + "\n\n"
}

// removeBulletsIn strips every bullet for id inside the named section.
func removeBulletsIn(doc, name, id string) string {
	start, end, ok := section(doc, name)
	if !ok {
		return doc
	}
	body := bulletFor(id).ReplaceAllString(doc[start:end], "")
	return doc[:start] + body + doc[end:]
}

// hasBulletIn reports whether the named section already bullets the id.
func hasBulletIn(doc, name, id string) bool {
	start, end, ok := section(doc, name)
	if !ok {
		return false
	}
	return bulletFor(id).MatchString(doc[start:end])
}

// appendBullet adds an entry at the end of the named section's list.
func appendBullet(doc, name, entry string) string {
	doc = ensureSection(doc, name)
	start, end, _ := section(doc, name)
	body := doc[start:end]
	trimmed := strings.TrimRight(body, "\n")
	if trimmed == "" {
		body = entry + "\n"
	} else {
		body = trimmed + "\n" + entry + "\n"
	}
	// Keep one blank line between this section body and the next heading.
	if end < len(doc) {
		body += "\n"
	}
	return doc[:start] + body + doc[end:]
}

// MarkDone moves the WU's bullet into the done-style section, removing it
// from every other bucket. Running it twice changes nothing.
func MarkDone(doc, doneSection, id, title string) (string, bool) {
	orig := doc
	for _, s := range []string{SectionReady, SectionInProgress} {
		doc = removeBulletsIn(doc, s, id)
	}
	if !hasBulletIn(doc, doneSection, id) {
		doc = appendBullet(doc, doneSection, fmt.Sprintf("- %s — %s", id, title))
	}
	return doc, doc != orig
}

// MarkInProgress moves the WU's bullet into the in-progress section. Used at
// claim (and by recovery resume) to keep dashboards truthful.
func MarkInProgress(doc, id, title, lane string) (string, bool) {
	orig := doc
	doc = removeBulletsIn(doc, SectionReady, id)
	if !hasBulletIn(doc, SectionInProgress, id) {
		doc = appendBullet(doc, SectionInProgress, fmt.Sprintf("- %s — %s [%s]", id, title, lane))
	}
	return doc, doc != orig
}

// MarkReady returns the WU's bullet to the ready section (recovery reset).
func MarkReady(doc, id, title string) (string, bool) {
	orig := doc
	for _, s := range []string{SectionInProgress, SectionDone, SectionCompleted} {
		doc = removeBulletsIn(doc, s, id)
	}
	if !hasBulletIn(doc, SectionReady, id) {
		doc = appendBullet(doc, SectionReady, fmt.Sprintf("- %s — %s", id, title))
	}
	return doc, doc != orig
}

// RemoveEverywhere strips the WU's bullets from all known sections (nuke).
func RemoveEverywhere(doc, id string) (string, bool) {
	orig := doc
	for _, s := range []string{SectionReady, SectionInProgress, SectionDone, SectionCompleted} {
		doc = removeBulletsIn(doc, s, id)
	}
	return doc, doc != orig
}

// ListedInProgress reports whether the doc's in-progress section bullets id.
// Zombie detection keys off this.
func ListedInProgress(doc, id string) bool {
	return hasBulletIn(doc, SectionInProgress, id)
}
