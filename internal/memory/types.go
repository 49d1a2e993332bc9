// Package memory implements the append-only agent memory: a JSONL node store
// with lifecycle tags, a relationship log, and the query surfaces
// (checkpoint, summarize, context, recover) the engine calls at lifecycle
// boundaries. Nodes are never rewritten except by the soft-delete and
// summarize passes, which preserve append-only framing by rewriting whole
// lines in place.
package memory

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

// NodeType classifies what a memory node carries.
type NodeType string

const (
	TypeSession    NodeType = "session"
	TypeDiscovery  NodeType = "discovery"
	TypeCheckpoint NodeType = "checkpoint"
	TypeNote       NodeType = "note"
	TypeSummary    NodeType = "summary"
)

// IsValid reports whether t is a known node type.
func (t NodeType) IsValid() bool {
	switch t {
	case TypeSession, TypeDiscovery, TypeCheckpoint, TypeNote, TypeSummary:
		return true
	}
	return false
}

// Lifecycle controls how long a node stays relevant.
type Lifecycle string

const (
	LifecycleEphemeral Lifecycle = "ephemeral"
	LifecycleSession   Lifecycle = "session"
	LifecycleWU        Lifecycle = "wu"
	LifecycleProject   Lifecycle = "project"
)

// IsValid reports whether l is a known lifecycle.
func (l Lifecycle) IsValid() bool {
	switch l {
	case LifecycleEphemeral, LifecycleSession, LifecycleWU, LifecycleProject:
		return true
	}
	return false
}

// Node is one line of memory.jsonl.
type Node struct {
	ID        string         `json:"id"`
	Type      NodeType       `json:"type"`
	Lifecycle Lifecycle      `json:"lifecycle"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	WUID      string         `json:"wu_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Deleted reports whether the node carries the soft-delete marker.
func (n *Node) Deleted() bool {
	if n.Metadata == nil {
		return false
	}
	s, _ := n.Metadata["status"].(string)
	return s == "deleted"
}

// SummarizedInto returns the summary node id this node was folded into, or "".
func (n *Node) SummarizedInto() string {
	if n.Metadata == nil {
		return ""
	}
	s, _ := n.Metadata["summarized_into"].(string)
	return s
}

// RelationType classifies an edge between nodes.
type RelationType string

const (
	RelBlocks         RelationType = "blocks"
	RelParentChild    RelationType = "parent_child"
	RelRelated        RelationType = "related"
	RelDiscoveredFrom RelationType = "discovered_from"
)

// IsValid reports whether t is a known relationship type.
func (t RelationType) IsValid() bool {
	switch t {
	case RelBlocks, RelParentChild, RelRelated, RelDiscoveredFrom:
		return true
	}
	return false
}

// Relationship is one line of relationships.jsonl. Relationships live
// out-of-line and may form cycles; they are resolved at query time and never
// materialized as owning links.
type Relationship struct {
	FromID    string         `json:"from_id"`
	ToID      string         `json:"to_id"`
	Type      RelationType   `json:"type"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

var nodeIDPattern = regexp.MustCompile(`^mem-[a-z0-9]{4}$`)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewNodeID generates a fresh mem-xxxx id.
func NewNodeID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate node id: %w", err)
	}
	out := make([]byte, 4)
	for i, v := range b {
		out[i] = idAlphabet[int(v)%len(idAlphabet)]
	}
	return "mem-" + string(out), nil
}

// ValidNodeID reports whether id matches the mem-xxxx pattern.
func ValidNodeID(id string) bool { return nodeIDPattern.MatchString(id) }

// Validate checks a node before it is appended.
func (n *Node) Validate() error {
	if !ValidNodeID(n.ID) {
		return fmt.Errorf("invalid node id %q (expected mem-[a-z0-9]{4})", n.ID)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("invalid node type %q", n.Type)
	}
	if !n.Lifecycle.IsValid() {
		return fmt.Errorf("invalid lifecycle %q", n.Lifecycle)
	}
	if n.Content == "" {
		return fmt.Errorf("node content is empty")
	}
	return nil
}
