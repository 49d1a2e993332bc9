package recovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/lumenflow/lumenflow/internal/lferr"
)

// MaxAttempts is the ceiling on automatic recovery per WU. Beyond it the
// engine refuses and requires manual intervention.
const MaxAttempts = 3

// Attempts is the persisted recovery counter for one WU.
type Attempts struct {
	Count      int       `json:"count"`
	LastAction string    `json:"last_action,omitempty"`
	LastAt     time.Time `json:"last_at,omitempty"`
}

// Exceeded reports whether the counter is at or past the ceiling.
func (a *Attempts) Exceeded() bool { return a.Count >= MaxAttempts }

// LoadAttempts reads the counter file. A missing file is a zero counter.
func LoadAttempts(path string) (*Attempts, error) {
	data, err := os.ReadFile(path) // #nosec G304 - resolver-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return &Attempts{}, nil
		}
		return nil, lferr.Wrap(lferr.KindIO, err, "reading recovery marker %s", path)
	}
	var a Attempts
	if err := json.Unmarshal(data, &a); err != nil {
		// A corrupt marker counts as exhausted; guessing low would let a
		// crash loop keep retrying.
		return &Attempts{Count: MaxAttempts}, nil
	}
	return &a, nil
}

// RecordAttempt increments and persists the counter, returning the new value.
// Callers check Exceeded BEFORE acting; the increment happens regardless of
// whether the recovery then succeeds.
func RecordAttempt(path string, action Action) (*Attempts, error) {
	a, err := LoadAttempts(path)
	if err != nil {
		return nil, err
	}
	a.Count++
	a.LastAction = string(action)
	a.LastAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, lferr.Wrap(lferr.KindIO, err, "creating recovery directory")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, lferr.Wrap(lferr.KindFatal, err, "marshaling recovery marker")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil { // nolint:gosec
		return nil, lferr.Wrap(lferr.KindIO, err, "writing recovery marker %s", path)
	}
	return a, nil
}

// ClearAttempts removes the counter after a recovery that restored a
// consistent state. Missing is fine.
func ClearAttempts(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return lferr.Wrap(lferr.KindIO, err, "removing recovery marker %s", path)
	}
	return nil
}

// CheckBudget returns a RECOVERY error when the counter is exhausted.
func CheckBudget(path, wuID string) error {
	a, err := LoadAttempts(path)
	if err != nil {
		return err
	}
	if a.Exceeded() {
		return lferr.New(lferr.KindRecovery,
			"%s has been auto-recovered %d times; manual intervention required", wuID, a.Count).
			WithRemediation("inspect the WU artifacts by hand, then remove %s to re-arm recovery", path)
	}
	return nil
}
