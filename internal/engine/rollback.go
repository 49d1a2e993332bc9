package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/lumenflow/lumenflow/internal/debug"
	"github.com/lumenflow/lumenflow/internal/lferr"
)

// journal snapshots files before a multi-file write sequence so a failure
// anywhere in the sequence can restore every touched path byte for byte.
// Nonexistence is snapshotted too: a file created after the snapshot is
// removed on restore.
type journal struct {
	entries []journalEntry
}

type journalEntry struct {
	path        string
	existed     bool
	content     []byte
	fingerprint [32]byte // blake3 of content, checked on restore
}

// snapshot records the current state of path. Call before the first mutation.
func (j *journal) snapshot(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - engine-resolved path
	if err != nil {
		if os.IsNotExist(err) {
			j.entries = append(j.entries, journalEntry{path: path})
			return nil
		}
		return lferr.Wrap(lferr.KindIO, err, "snapshotting %s", path)
	}
	j.entries = append(j.entries, journalEntry{
		path:        path,
		existed:     true,
		content:     data,
		fingerprint: blake3.Sum256(data),
	})
	return nil
}

// restore puts every snapshotted path back. Files that did not exist are
// removed; files that did are rewritten from the snapshot. Errors are
// collected so one bad path does not stop the rest of the restore.
func (j *journal) restore() error {
	var firstErr error
	for _, e := range j.entries {
		if !e.existed {
			if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if sum := blake3.Sum256(e.content); sum != e.fingerprint {
			// Snapshot corrupted in memory; refuse to write garbage.
			if firstErr == nil {
				firstErr = fmt.Errorf("snapshot of %s failed its integrity check", e.path)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(e.path), 0750); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.WriteFile(e.path, e.content, 0644); err != nil && firstErr == nil { // nolint:gosec
			firstErr = err
		}
	}
	if firstErr != nil {
		debug.Logf("engine: rollback incomplete: %v\n", firstErr)
		return lferr.Wrap(lferr.KindIO, firstErr, "rollback incomplete; verify files by hand")
	}
	return nil
}
