// Package audit records force-path bypasses and recovery actions in an
// append-only JSONL log. Audit logging is best-effort everywhere: it never
// masks the primary outcome of the operation that triggered it.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// FileName is the audit log name under the state directory.
	FileName = "audit.jsonl"
	idPrefix = "aud-"
)

// Entry is a generic append-only audit event. Use Kind + typed fields for
// common cases and Extra for everything else.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	Actor     string `json:"actor,omitempty"`
	WUID      string `json:"wu_id,omitempty"`
	Lane      string `json:"lane,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Event kinds the engine emits.
const (
	KindForcedOverlap = "forced_overlap"
	KindForcedLane    = "forced_lane"
	KindGatesSkipped  = "gates_skipped"
	KindRecovery      = "recovery"
	KindAutoRepair    = "auto_repair"
	KindLLMCall       = "llm_call"
)

// Log appends under a fixed state directory.
type Log struct {
	dir string
}

// NewLog returns an audit log rooted at the state directory.
func NewLog(stateDir string) *Log { return &Log{dir: stateDir} }

// Append writes the entry as a single JSON line. The id is generated when
// absent and returned.
func (l *Log) Append(e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}
	if e.Kind == "" {
		return "", fmt.Errorf("kind is required")
	}
	if err := os.MkdirAll(l.dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return "", err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	p := filepath.Join(l.dir, FileName)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) // nolint:gosec // shared via git
	if err != nil {
		return "", fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush audit log: %w", err)
	}
	return e.ID, nil
}

func newID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return idPrefix + hex.EncodeToString(b[:]), nil
}
