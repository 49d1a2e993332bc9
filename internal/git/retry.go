package git

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/debug"
)

// Retry policy for transient remote failures. Validation and state-machine
// errors never come through here; only fetch/push style operations do.
const (
	maxAttempts  = 4
	initialDelay = 500 * time.Millisecond
	maxDelay     = 8 * time.Second
)

// isTransient classifies failures worth retrying: network flaps and
// non-fast-forward pushes that a re-fetch can resolve. Everything else
// surfaces immediately.
func isTransient(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	stderr := ce.Stderr
	for _, marker := range []string{
		"Could not resolve host",
		"Connection timed out",
		"Connection refused",
		"early EOF",
		"The remote end hung up unexpectedly",
		"Operation timed out",
		"fetch-pack: unexpected disconnect",
		"non-fast-forward", // racing pushers; a retry after re-fetch can win
		"failed to lock",   // server-side ref lock contention
	} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// retryTransient runs fn, retrying with exponential backoff while the failure
// classifies as transient. The last error is surfaced unchanged.
func retryTransient(ctx context.Context, fn func() error) error {
	delay := initialDelay
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) || attempt == maxAttempts {
			return err
		}
		debug.Logf("git: transient failure (attempt %d/%d), retrying in %s: %v\n", attempt, maxAttempts, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}
