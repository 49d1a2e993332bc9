package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/lumenflow/lumenflow/internal/wu"
)

// shellGates runs the configured quality-gate command (tests, linters) in the
// WU's working directory before done is allowed to proceed.
type shellGates struct {
	command string
	timeout time.Duration
}

func (g *shellGates) Run(ctx context.Context, w *wu.WU, dir string) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", g.command) // #nosec G204 - operator-configured gate
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), "LF_WU_ID="+w.ID, "LF_WU_LANE="+w.Lane)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gate command %q: %w\n%s", g.command, err, out)
	}
	return nil
}
