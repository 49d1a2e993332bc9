// lf is the Work Unit lifecycle coordinator CLI: it moves WUs through
// claim/done/block/recover against a git-backed state store shared by every
// agent working the repository.
package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/config"
	"github.com/lumenflow/lumenflow/internal/debug"
	"github.com/lumenflow/lumenflow/internal/engine"
	"github.com/lumenflow/lumenflow/internal/git"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/ui"
	"github.com/lumenflow/lumenflow/internal/workspace"
)

var (
	jsonOutput bool
	actorFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "lf",
	Short:         "Work Unit lifecycle coordinator",
	Long:          "lf coordinates autonomous coding agents over a shared git repository:\nWork Unit claims, lane locks, completion bookkeeping and agent memory.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if jsonOutput {
			config.Set("json", true)
		}
		if root := config.ProjectDir(); root != "" {
			debug.SetLogDir(root + "/.lumenflow")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "identity recorded in audit entries")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// A reader going away mid-output (| head) is not a failure.
		if errors.Is(err, syscall.EPIPE) {
			os.Exit(0)
		}
		var le *lferr.Error
		if errors.As(err, &le) {
			ui.Errorf("%s", le.Message)
			if le.Cause != nil {
				fmt.Fprintf(os.Stderr, "  cause: %v\n", le.Cause)
			}
			if le.Remediation != "" {
				fmt.Fprintf(os.Stderr, "  next: %s\n", le.Remediation)
			}
			os.Exit(le.Kind.ExitCode())
		}
		ui.Errorf("%v", err)
		os.Exit(1)
	}
}

// resolveLayout builds the workspace layout from the located project root and
// any path overrides in the config.
func resolveLayout() (workspace.Layout, error) {
	root := config.ProjectDir()
	if root == "" {
		return workspace.Layout{}, lferr.New(lferr.KindValidation,
			"not inside a lumenflow repository (no .lumenflow directory found)").
			WithRemediation("cd into the repository, or create .lumenflow/config.yaml at its root")
	}
	return workspace.Resolve(root, workspace.Layout{
		WUDir:        config.GetString("paths.wu-dir"),
		StatusDoc:    config.GetString("paths.status-doc"),
		BacklogDoc:   config.GetString("paths.backlog-doc"),
		StampsDir:    config.GetString("paths.stamps-dir"),
		StateDir:     config.GetString("paths.state-dir"),
		MemoryDir:    config.GetString("paths.memory-dir"),
		WorktreesDir: config.GetString("paths.worktrees-dir"),
		RecoveryDir:  config.GetString("paths.recovery-dir"),
		MainBranch:   config.GetString("main-branch"),
		Remote:       config.GetString("remote"),
	}), nil
}

// newEngine wires an engine from the resolved layout and config.
func newEngine() (*engine.Engine, workspace.Layout, error) {
	layout, err := resolveLayout()
	if err != nil {
		return nil, layout, err
	}
	opts := engine.Options{
		WIPLimit: config.GetInt("lanes.wip"),
		Commit: git.CommitOptions{
			Author:    config.GetString("git.author"),
			NoGPGSign: config.GetBool("git.no-gpg-sign"),
		},
		Actor:           config.GetActor(actorFlag),
		SeedSymlinks:    config.GetStringSlice("claim.seed-symlinks"),
		RenameDetection: config.GetBool("coverage.rename-detection"),
	}
	if gateCmd := config.GetString("gates.command"); gateCmd != "" {
		opts.Gates = &shellGates{command: gateCmd, timeout: config.GetDuration("gates.timeout")}
	}
	return engine.New(layout, opts), layout, nil
}
