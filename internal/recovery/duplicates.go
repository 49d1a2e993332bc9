package recovery

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/workspace"
	"github.com/lumenflow/lumenflow/internal/wu"
)

// DuplicateSet is one colliding id: the canonical spec file keeps the id,
// every extra gets a fresh one.
type DuplicateSet struct {
	ID        string
	Canonical string   // path of the file that keeps the id
	Extras    []string // paths that will be re-id'd, sorted
}

// FindDuplicates scans the WU directory and groups spec files by declared id.
// The canonical file is the one whose filename matches <id>.yaml; when no
// file does, the lexicographically first path is canonical so repair stays
// deterministic.
func FindDuplicates(dir string) ([]DuplicateSet, error) {
	_, paths, errs := wu.ScanDir(dir)
	if len(errs) > 0 {
		return nil, lferr.Wrap(lferr.KindIO, errs[0], "scanning %s", dir)
	}
	byID := map[string][]string{}
	for p, id := range paths {
		byID[id] = append(byID[id], p)
	}

	var sets []DuplicateSet
	for id, files := range byID {
		if len(files) < 2 {
			continue
		}
		sort.Strings(files)
		canonical := files[0]
		for _, f := range files {
			if filepath.Base(f) == id+".yaml" {
				canonical = f
				break
			}
		}
		set := DuplicateSet{ID: id, Canonical: canonical}
		for _, f := range files {
			if f != canonical {
				set.Extras = append(set.Extras, f)
			}
		}
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].ID < sets[j].ID })
	return sets, nil
}

// RepairResult reports what a duplicate repair did.
type RepairResult struct {
	Renamed          map[string]string // old path -> new id
	EventsRemapped   int
	StampsDuplicated []string
}

// RepairDuplicates reassigns fresh ids to every non-canonical duplicate,
// renames the files, remaps events by lane disambiguation, and duplicates the
// done stamp when the re-id'd copy was done. Running it again after a clean
// pass finds nothing and changes nothing.
func RepairDuplicates(layout workspace.Layout, log *events.Log, sets []DuplicateSet) (*RepairResult, error) {
	result := &RepairResult{Renamed: map[string]string{}}
	if len(sets) == 0 {
		return result, nil
	}

	_, paths, _ := wu.ScanDir(layout.WUDirPath())
	taken := make([]string, 0, len(paths))
	for _, id := range paths {
		taken = append(taken, id)
	}

	evs, err := log.Load()
	if err != nil {
		return nil, err
	}
	evsChanged := false

	for _, set := range sets {
		canonical, err := wu.Read(set.Canonical, "")
		if err != nil {
			return nil, err
		}
		for _, extraPath := range set.Extras {
			extra, err := wu.Read(extraPath, "")
			if err != nil {
				return nil, err
			}
			newID := wu.NextFreeID(taken)
			taken = append(taken, newID)

			oldLane := extra.Lane
			extra.ID = newID
			newPath := layout.WUPath(newID)
			if err := wu.Write(newPath, extra); err != nil {
				return nil, err
			}
			if err := os.Remove(extraPath); err != nil {
				_ = os.Remove(newPath)
				return nil, lferr.Wrap(lferr.KindIO, err, "removing duplicate spec %s", extraPath)
			}
			result.Renamed[extraPath] = newID

			// Events for the colliding id that belong to the re-id'd copy are
			// identified by lane. When both copies share a lane the events
			// are ambiguous and stay with the canonical id.
			if oldLane != canonical.Lane {
				for i := range evs {
					if evs[i].WUID == set.ID && evs[i].Lane == oldLane {
						evs[i].WUID = newID
						result.EventsRemapped++
						evsChanged = true
					}
				}
			}

			if extra.Status == wu.StatusDone {
				if err := duplicateStamp(layout.StampPath(set.ID), layout.StampPath(newID)); err != nil {
					return nil, err
				}
				result.StampsDuplicated = append(result.StampsDuplicated, newID)
			}
		}
	}

	if evsChanged {
		if err := log.Rewrite(evs); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func duplicateStamp(src, dst string) error {
	data, err := os.ReadFile(src) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return lferr.Wrap(lferr.KindIO, err, "reading stamp %s", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating stamps directory")
	}
	if err := os.WriteFile(dst, data, 0644); err != nil { // nolint:gosec
		return lferr.Wrap(lferr.KindIO, err, "writing stamp %s", dst)
	}
	return nil
}
