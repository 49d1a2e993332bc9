// Package validation runs the preflight checks that gate WU lifecycle
// transitions. Each pass is pure where possible; the resolver-driven passes
// (coverage, orphan) take their inputs explicitly so they stay testable
// without a repository.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/overlap"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// placeholderMarkers flag spec text that was never filled in.
var placeholderMarkers = []string{"TBD", "TODO", "FIXME", "<placeholder>", "xxx", "???"}

// CheckLaneFormat enforces the lane naming contract.
func CheckLaneFormat(lane string) error {
	if !wu.ValidLane(lane) {
		return lferr.New(lferr.KindValidation,
			"lane %q does not match the required format (single capitalized word, or \"Parent: Subdomain\")", lane).
			WithRemediation("rename the lane, e.g. \"Core\" or \"Platform: Storage\"")
	}
	return nil
}

// CheckTransition asserts the requested edge is admissible from the WU's
// current status. Fails closed on anything not in the state machine.
func CheckTransition(w *wu.WU, t wu.Transition) error {
	if !wu.CanTransition(w.Status, t) {
		return lferr.New(lferr.KindTransition,
			"%s cannot %s from status %s", w.ID, t, w.Status).
			WithRemediation("run `lf status %s` to see the current state, or `lf recover %s` if it is stuck", w.ID, w.ID)
	}
	return nil
}

// CheckCompleteness verifies the spec is filled in: non-empty acceptance, no
// placeholder text, tests section where the type requires one. Bypassable
// with allow_incomplete.
func CheckCompleteness(w *wu.WU, allowIncomplete bool) error {
	if allowIncomplete {
		return nil
	}
	var problems []string
	if len(w.Acceptance) == 0 {
		problems = append(problems, "acceptance criteria are empty")
	}
	for _, field := range []struct{ name, text string }{
		{"title", w.Title},
		{"description", w.Description},
	} {
		for _, marker := range placeholderMarkers {
			if strings.Contains(strings.ToLower(field.text), strings.ToLower(marker)) {
				problems = append(problems, fmt.Sprintf("%s contains placeholder text %q", field.name, marker))
				break
			}
		}
	}
	if w.Type.RequiresTests() && w.Tests == nil {
		problems = append(problems, "tests section is missing")
	}
	if len(problems) > 0 {
		return lferr.New(lferr.KindValidation,
			"%s spec is incomplete: %s", w.ID, strings.Join(problems, "; ")).
			WithRemediation("fill in the spec, or re-run with --allow-incomplete")
	}
	return nil
}

// CheckManualTests enforces the non-bypassable claim-time rule: non-doc,
// non-process WUs must declare at least one manual test.
func CheckManualTests(w *wu.WU) error {
	if !w.Type.RequiresTests() {
		return nil
	}
	if w.Tests == nil || len(w.Tests.Manual) == 0 {
		return lferr.New(lferr.KindValidation,
			"%s (type %s) declares no manual tests; at least one tests.manual entry is required at claim time", w.ID, w.Type).
			WithRemediation("add a tests.manual entry to %s", w.ID)
	}
	return nil
}

// CoverageResult reports the done-time code-path coverage verdict.
type CoverageResult struct {
	OutsideDeclared []string // changed files not covered by any declared path
	UntouchedPaths  []string // declared paths with zero changes
}

// CheckCoverage compares the actual changed files against the declared
// code_paths: every declared prefix must be touched at least once, and no
// change may fall outside the declared set.
func CheckCoverage(declared []string, changed []string) error {
	var res CoverageResult
	for _, f := range changed {
		if !overlap.MatchesAny(declared, f) {
			res.OutsideDeclared = append(res.OutsideDeclared, f)
		}
	}
	touched := overlap.Touched(declared, changed)
	for p, ok := range touched {
		if !ok {
			res.UntouchedPaths = append(res.UntouchedPaths, p)
		}
	}
	sort.Strings(res.OutsideDeclared)
	sort.Strings(res.UntouchedPaths)
	if len(res.OutsideDeclared) == 0 && len(res.UntouchedPaths) == 0 {
		return nil
	}
	var parts []string
	if len(res.OutsideDeclared) > 0 {
		parts = append(parts, fmt.Sprintf("changes outside declared code_paths: %s", strings.Join(res.OutsideDeclared, ", ")))
	}
	if len(res.UntouchedPaths) > 0 {
		parts = append(parts, fmt.Sprintf("declared paths with no changes: %s", strings.Join(res.UntouchedPaths, ", ")))
	}
	return lferr.New(lferr.KindCoverage, "%s", strings.Join(parts, "; ")).
		WithRemediation("update the WU's code_paths to match the actual change, or revert the stray files")
}

// CheckOrphan classifies the done/state-store disagreement: a WU whose spec
// says done while the event log still projects it as in_progress is an
// orphan and needs auto-repair before any further transition.
func CheckOrphan(w *wu.WU, store *events.Store) (bool, error) {
	if w.Status != wu.StatusDone {
		return false, nil
	}
	eff, err := store.EffectiveStatus(w.ID)
	if err != nil {
		return false, err
	}
	return eff == "in_progress", nil
}
