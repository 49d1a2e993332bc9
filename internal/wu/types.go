// Package wu defines the Work Unit data model: the spec file schema, the
// status state machine, and the YAML codec used for reading and writing spec
// files.
package wu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Status is the WU lifecycle state.
type Status string

const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// IsValid reports whether s is one of the closed status set.
func (s Status) IsValid() bool {
	switch s {
	case StatusReady, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// Type categorizes a WU. documentation and process relax test requirements.
type Type string

const (
	TypeFeature       Type = "feature"
	TypeBug           Type = "bug"
	TypeRefactor      Type = "refactor"
	TypeDocumentation Type = "documentation"
	TypeProcess       Type = "process"
)

// IsValid reports whether t is a known WU type.
func (t Type) IsValid() bool {
	switch t {
	case TypeFeature, TypeBug, TypeRefactor, TypeDocumentation, TypeProcess:
		return true
	}
	return false
}

// RequiresTests reports whether WUs of this type must declare manual tests at
// claim time.
func (t Type) RequiresTests() bool {
	return t != TypeDocumentation && t != TypeProcess
}

// ClaimMode selects how the agent's working copy is provisioned.
type ClaimMode string

const (
	ModeWorktree   ClaimMode = "worktree"
	ModeBranchOnly ClaimMode = "branch-only"
	ModeBranchPR   ClaimMode = "branch-pr"
)

// IsValid reports whether m is a known claim mode.
func (m ClaimMode) IsValid() bool {
	switch m {
	case ModeWorktree, ModeBranchOnly, ModeBranchPR:
		return true
	}
	return false
}

// Tests holds the test requirements declared on a WU.
type Tests struct {
	Manual []string `yaml:"manual,omitempty" json:"manual,omitempty"`
}

// WU is a Work Unit spec. Claim metadata is present exactly when status is
// in_progress or blocked; completion metadata exactly when status is done.
type WU struct {
	ID          string   `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Lane        string   `yaml:"lane" json:"lane"`
	Type        Type     `yaml:"type" json:"type"`
	Status      Status   `yaml:"status" json:"status"`
	CodePaths   []string `yaml:"code_paths" json:"code_paths"`
	Acceptance  []string `yaml:"acceptance" json:"acceptance"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tests       *Tests   `yaml:"tests,omitempty" json:"tests,omitempty"`

	// Claim metadata
	ClaimedAt       *time.Time `yaml:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	SessionID       string     `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	ClaimedMode     ClaimMode  `yaml:"claimed_mode,omitempty" json:"claimed_mode,omitempty"`
	WorktreePath    string     `yaml:"worktree_path,omitempty" json:"worktree_path,omitempty"`
	ClaimedBranch   string     `yaml:"claimed_branch,omitempty" json:"claimed_branch,omitempty"`
	BaselineMainSHA string     `yaml:"baseline_main_sha,omitempty" json:"baseline_main_sha,omitempty"`

	// Completion metadata
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	Locked      bool       `yaml:"locked,omitempty" json:"locked,omitempty"`
}

var (
	idPattern   = regexp.MustCompile(`^WU-([1-9][0-9]*)$`)
	lanePattern = regexp.MustCompile(`^[A-Z][A-Za-z]*(: [A-Z][A-Za-z]*)?$`)
)

// ParseID validates a WU id and returns its numeric part.
func ParseID(id string) (int, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, fmt.Errorf("invalid WU id %q (expected WU-<n>, e.g. WU-42)", id)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid WU id %q: %w", id, err)
	}
	return n, nil
}

// FormatID renders the canonical id for a WU number.
func FormatID(n int) string { return fmt.Sprintf("WU-%d", n) }

// ValidLane reports whether lane matches the required format: a single
// capitalized word, or "Parent: Subdomain".
func ValidLane(lane string) bool { return lanePattern.MatchString(lane) }

// HasClaimMetadata reports whether any claim field is populated.
func (w *WU) HasClaimMetadata() bool {
	return w.ClaimedAt != nil || w.SessionID != "" || w.ClaimedMode != "" ||
		w.WorktreePath != "" || w.ClaimedBranch != "" || w.BaselineMainSHA != ""
}

// ClearClaimMetadata strips all claim fields (used by recovery reset).
func (w *WU) ClearClaimMetadata() {
	w.ClaimedAt = nil
	w.SessionID = ""
	w.ClaimedMode = ""
	w.WorktreePath = ""
	w.ClaimedBranch = ""
	w.BaselineMainSHA = ""
}

// CheckInvariants verifies the structural invariants that hold for every WU
// at rest: locked ⇔ done, claim metadata ⇔ in_progress/blocked.
func (w *WU) CheckInvariants() error {
	if !w.Status.IsValid() {
		return fmt.Errorf("%s: invalid status %q", w.ID, w.Status)
	}
	if w.Locked != (w.Status == StatusDone) {
		return fmt.Errorf("%s: locked=%v inconsistent with status=%s", w.ID, w.Locked, w.Status)
	}
	claimed := w.Status == StatusInProgress || w.Status == StatusBlocked
	if claimed && w.ClaimedAt == nil {
		return fmt.Errorf("%s: status=%s but claimed_at missing", w.ID, w.Status)
	}
	if !claimed && w.HasClaimMetadata() {
		return fmt.Errorf("%s: status=%s but claim metadata present", w.ID, w.Status)
	}
	if w.Status == StatusDone && w.CompletedAt == nil {
		return fmt.Errorf("%s: status=done but completed_at missing", w.ID)
	}
	return nil
}

// Transition names a state-machine edge.
type Transition string

const (
	TransitionClaim   Transition = "claim"
	TransitionDone    Transition = "done"
	TransitionBlock   Transition = "block"
	TransitionUnblock Transition = "unblock"
	TransitionRelease Transition = "release"
)

// CanTransition reports whether the edge from the current status is
// admissible. Everything not listed fails closed; done is terminal except
// through nuke recovery, which deletes artifacts rather than transitioning.
func CanTransition(from Status, t Transition) bool {
	switch t {
	case TransitionClaim:
		return from == StatusReady
	case TransitionDone:
		return from == StatusInProgress
	case TransitionBlock:
		return from == StatusInProgress
	case TransitionUnblock:
		return from == StatusBlocked
	case TransitionRelease:
		return from == StatusInProgress || from == StatusBlocked
	}
	return false
}

// NextFreeID returns the smallest unused WU-<n> given the ids already taken.
func NextFreeID(taken []string) string {
	used := make(map[int]bool, len(taken))
	max := 0
	for _, id := range taken {
		if n, err := ParseID(id); err == nil {
			used[n] = true
			if n > max {
				max = n
			}
		}
	}
	for n := 1; n <= max; n++ {
		if !used[n] {
			return FormatID(n)
		}
	}
	return FormatID(max + 1)
}

// IDFromFilename extracts the WU id encoded in a spec filename, or "" when
// the name does not follow the <id>.yaml convention.
func IDFromFilename(name string) string {
	base := strings.TrimSuffix(name, ".yaml")
	if _, err := ParseID(base); err != nil {
		return ""
	}
	return base
}
