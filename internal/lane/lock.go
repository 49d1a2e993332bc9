// Package lane implements the filesystem-backed per-lane lock. The lock is
// the linearization point for concurrent claims: acquisition is an exclusive
// create (O_CREAT|O_EXCL) of a metadata file, which is atomic on a shared
// filesystem. Under WIP>1 the lock degrades to a counted set of slot files,
// each holder still individually identifiable.
package lane

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/debug"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/workspace"
)

// StaleThreshold is how old a held lock must be before Check surfaces it as
// stale. Stale locks are never auto-released, only reported.
const StaleThreshold = 24 * time.Hour

// Meta is the lock file payload identifying the holder.
type Meta struct {
	Lane          string    `json:"lane"`
	WUID          string    `json:"wu_id"`
	AcquiredAt    time.Time `json:"acquired_at"`
	Justification string    `json:"justification,omitempty"`
}

// Manager acquires and releases lane locks under a workspace layout.
type Manager struct {
	layout   workspace.Layout
	wipLimit int
}

// NewManager creates a lock manager. wipLimit < 1 is treated as 1.
func NewManager(layout workspace.Layout, wipLimit int) *Manager {
	if wipLimit < 1 {
		wipLimit = 1
	}
	return &Manager{layout: layout, wipLimit: wipLimit}
}

// Acquire takes a lock slot for the lane on behalf of wuID. justification is
// expected (but not required) when the lane runs with WIP>1. On contention
// every current holder is named in the error.
func (m *Manager) Acquire(lane, wuID, justification string) error {
	if err := os.MkdirAll(m.layout.LaneLocksDir(), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating lane-locks directory")
	}
	if m.wipLimit > 1 && justification == "" {
		// Warning, not a block: WIP>1 lanes should say why.
		fmt.Fprintf(os.Stderr, "Warning: lane %s runs WIP=%d without a justification note\n", lane, m.wipLimit)
	}

	meta := Meta{Lane: lane, WUID: wuID, AcquiredAt: time.Now().UTC(), Justification: justification}
	data, err := json.Marshal(meta)
	if err != nil {
		return lferr.Wrap(lferr.KindFatal, err, "marshaling lock metadata")
	}

	for slot := 0; slot < m.wipLimit; slot++ {
		path := m.layout.LaneLockPath(lane, slot)
		// O_EXCL makes the create the atomic acquisition point.
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) // #nosec G304
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return lferr.Wrap(lferr.KindIO, err, "creating lane lock %s", path)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(path)
			if werr == nil {
				werr = cerr
			}
			return lferr.Wrap(lferr.KindIO, werr, "writing lane lock %s", path)
		}
		debug.Logf("lane: acquired %s slot %d for %s\n", lane, slot, wuID)
		return nil
	}

	holders, _ := m.Holders(lane)
	names := make([]string, 0, len(holders))
	for _, h := range holders {
		names = append(names, h.WUID)
	}
	return lferr.New(lferr.KindLaneBusy,
		"lane %s is at its WIP limit (%d); held by %s", lane, m.wipLimit, strings.Join(names, ", ")).
		WithRemediation("finish or block the holding WU, or re-run with --force and a reason")
}

// Release drops the lock slot held for wuID. A holder mismatch is reported as
// a warning but is non-fatal; a missing lock is a no-op.
func (m *Manager) Release(lane, wuID string) error {
	holders, err := m.Holders(lane)
	if err != nil {
		return err
	}
	for _, h := range holders {
		if h.WUID == wuID {
			if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
				return lferr.Wrap(lferr.KindIO, err, "removing lane lock %s", h.Path)
			}
			debug.Logf("lane: released %s for %s\n", lane, wuID)
			return nil
		}
	}
	if len(holders) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: lane %s lock not held by %s (held by %s); leaving it in place\n",
			lane, wuID, holders[0].WUID)
	}
	return nil
}

// Holder pairs lock metadata with its slot file.
type Holder struct {
	Meta
	Path  string
	Stale bool
}

// Holders lists every current holder of the lane, oldest first by slot order.
func (m *Manager) Holders(lane string) ([]Holder, error) {
	var out []Holder
	for slot := 0; slot < m.wipLimit; slot++ {
		path := m.layout.LaneLockPath(lane, slot)
		data, err := os.ReadFile(path) // #nosec G304 - resolver-controlled path
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, lferr.Wrap(lferr.KindIO, err, "reading lane lock %s", path)
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			// Corrupt lock files still count as held; surface who to ask.
			meta = Meta{Lane: lane, WUID: "(unreadable)"}
		}
		out = append(out, Holder{
			Meta:  meta,
			Path:  path,
			Stale: !meta.AcquiredAt.IsZero() && time.Since(meta.AcquiredAt) > StaleThreshold,
		})
	}
	return out, nil
}

// Check reports whether any slot of the lane is held, and whether any holder
// is past the staleness threshold.
func (m *Manager) Check(lane string) (locked bool, holders []Holder, stale bool, err error) {
	holders, err = m.Holders(lane)
	if err != nil {
		return false, nil, false, err
	}
	for _, h := range holders {
		if h.Stale {
			stale = true
		}
	}
	return len(holders) > 0, holders, stale, nil
}

// ScanAll walks the lane-locks directory and returns every held lock,
// regardless of lane. Used by doctor for the stale-lock report.
func (m *Manager) ScanAll() ([]Holder, error) {
	dir := m.layout.LaneLocksDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, lferr.Wrap(lferr.KindIO, err, "reading %s", dir)
	}
	var out []Holder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			meta = Meta{WUID: "(unreadable)"}
		}
		out = append(out, Holder{
			Meta:  meta,
			Path:  path,
			Stale: !meta.AcquiredAt.IsZero() && time.Since(meta.AcquiredAt) > StaleThreshold,
		})
	}
	return out, nil
}
