package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/engine"
	"github.com/lumenflow/lumenflow/internal/recovery"
	"github.com/lumenflow/lumenflow/internal/ui"
)

var recoverCmd = &cobra.Command{
	Use:   "recover <wu-id> [resume|reset|nuke|cleanup]",
	Short: "Analyze and repair inconsistent WU state",
	Long: "recover inspects every artifact a WU touches (spec, events, worktree,\n" +
		"stamp, status doc) and applies the requested repair. Without an action it\n" +
		"only prints the analysis.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		discard, _ := cmd.Flags().GetBool("discard-changes")

		id := args[0]
		if len(args) == 1 {
			return printAnalysis(cmd, eng, id)
		}
		action, err := recovery.ParseAction(args[1])
		if err != nil {
			return err
		}
		if action.Destructive() && !force && ui.IsTerminal() {
			ok := ui.Confirm(
				fmt.Sprintf("%s %s discards work on this WU.", action, id),
				"Uncommitted changes and claim state will be lost. Continue?",
				false,
			)
			if !ok {
				return nil
			}
			force = true
		}
		result, err := eng.Recover(cmd.Context(), id, action, engine.RecoverOptions{
			Force:          force,
			DiscardChanges: discard,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(result)
		}
		printZombies(result.Analysis)
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), result.Outcome)
		return nil
	},
}

func printAnalysis(cmd *cobra.Command, eng *engine.Engine, id string) error {
	a, err := eng.Analyze(cmd.Context(), id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return ui.PrintJSON(a)
	}
	fmt.Printf("%s — spec=%s events=%s stamp=%v worktree=%v attempts=%d\n",
		ui.RenderAccent(id), ui.StatusBadge(string(a.SpecStatus)), a.EventStatus,
		a.StampPresent, a.WorktreePresent, a.Attempts)
	if a.IsZombie() {
		printZombies(a)
		var actions []string
		for _, act := range []recovery.Action{recovery.ActionResume, recovery.ActionReset, recovery.ActionCleanup} {
			actions = append(actions, string(act))
		}
		fmt.Printf("  next: lf recover %s <%s>\n", id, strings.Join(actions, "|"))
		return nil
	}
	fmt.Println(ui.RenderPass("consistent across all artifacts"))
	return nil
}

func printZombies(a *recovery.Analysis) {
	if a == nil || !a.IsZombie() {
		return
	}
	for _, z := range a.Zombies {
		fmt.Printf("%s %s: %s\n", ui.RenderWarn("zombie"), z.Kind, z.Detail)
	}
}

func init() {
	recoverCmd.Flags().Bool("force", false, "apply destructive actions without confirmation")
	recoverCmd.Flags().Bool("discard-changes", false, "reset even when the worktree has uncommitted changes")
	rootCmd.AddCommand(recoverCmd)
}
