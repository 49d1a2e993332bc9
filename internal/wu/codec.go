package wu

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lumenflow/lumenflow/internal/lferr"
)

// ErrNotFound distinguishes a missing spec file from a malformed one.
var ErrNotFound = errors.New("WU spec not found")

// Read parses the WU spec at path and asserts that its id matches expectedID.
// Pass expectedID="" to skip the assertion (used by directory scans).
func Read(path, expectedID string) (*WU, error) {
	data, err := os.ReadFile(path) // #nosec G304 - resolver-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lferr.Wrap(lferr.KindIO, ErrNotFound, "no spec file at %s", path).
				WithRemediation("check the WU id, or create the spec first")
		}
		return nil, lferr.Wrap(lferr.KindIO, err, "reading %s", path)
	}

	var w WU
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, lferr.Wrap(lferr.KindIO, err, "parsing %s", path)
	}
	if expectedID != "" && w.ID != expectedID {
		return nil, lferr.New(lferr.KindValidation,
			"id mismatch: file %s declares id %q, expected %q", filepath.Base(path), w.ID, expectedID).
			WithRemediation("run `lf doctor` to repair id/filename drift")
	}
	return &w, nil
}

// Write marshals the WU to path with stable key order (struct declaration
// order) and a trailing newline. Parent directories are created as needed.
func Write(path string, w *WU) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating spec directory")
	}
	data, err := yaml.Marshal(w)
	if err != nil {
		return lferr.Wrap(lferr.KindFatal, err, "marshaling %s", w.ID)
	}
	// nolint:gosec // spec files are shared via git across clones and agents.
	if err := os.WriteFile(path, data, 0644); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "writing %s", path)
	}
	return nil
}

// ScanDir reads every WU spec under dir. Parse failures are collected rather
// than aborting the scan so doctor can report all of them at once.
func ScanDir(dir string) (specs []*WU, paths map[string]string, errs []error) {
	paths = make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, paths, nil
		}
		return nil, paths, []error{lferr.Wrap(lferr.KindIO, err, "reading %s", dir)}
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		p := filepath.Join(dir, e.Name())
		w, err := Read(p, "")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		specs = append(specs, w)
		paths[p] = w.ID
	}
	return specs, paths, errs
}
