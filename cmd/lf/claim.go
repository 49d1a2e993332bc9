package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/engine"
	"github.com/lumenflow/lumenflow/internal/ui"
	"github.com/lumenflow/lumenflow/internal/wu"
)

var claimCmd = &cobra.Command{
	Use:   "claim <wu-id>",
	Short: "Claim a ready WU and provision its worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, layout, err := newEngine()
		if err != nil {
			return err
		}
		laneFlag, _ := cmd.Flags().GetString("lane")
		mode, _ := cmd.Flags().GetString("mode")
		session, _ := cmd.Flags().GetString("session")
		force, _ := cmd.Flags().GetBool("force")
		forceOverlap, _ := cmd.Flags().GetBool("force-overlap")
		reason, _ := cmd.Flags().GetString("reason")
		fix, _ := cmd.Flags().GetBool("fix")
		allowIncomplete, _ := cmd.Flags().GetBool("allow-incomplete")
		justification, _ := cmd.Flags().GetString("wip-justification")

		id := args[0]
		err = eng.Claim(cmd.Context(), id, engine.ClaimOptions{
			Lane:            laneFlag,
			Mode:            wu.ClaimMode(mode),
			SessionID:       session,
			Force:           force,
			ForceOverlap:    forceOverlap,
			Reason:          reason,
			Fix:             fix,
			AllowIncomplete: allowIncomplete,
			Justification:   justification,
		})
		if err != nil {
			return err
		}
		w, rerr := wu.Read(layout.WUPath(id), id)
		if jsonOutput {
			if rerr != nil {
				return ui.PrintJSON(map[string]string{"claimed": id})
			}
			return ui.PrintJSON(w)
		}
		fmt.Printf("%s %s claimed", ui.RenderPass("✓"), ui.RenderAccent(id))
		if rerr == nil {
			fmt.Printf(" in lane %s", w.Lane)
			if w.WorktreePath != "" {
				fmt.Printf("\n  worktree: %s", w.WorktreePath)
			}
			if w.ClaimedBranch != "" {
				fmt.Printf("\n  branch:   %s", w.ClaimedBranch)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	claimCmd.Flags().String("lane", "", "assert the WU belongs to this lane")
	claimCmd.Flags().String("mode", "worktree", "claim mode: worktree, branch-only or branch-pr")
	claimCmd.Flags().String("session", "", "session id recorded on the claim (ULID generated when empty)")
	claimCmd.Flags().Bool("force", false, "claim despite a busy lane (audited)")
	claimCmd.Flags().Bool("force-overlap", false, "claim despite code-path overlap (audited, requires --reason)")
	claimCmd.Flags().String("reason", "", "justification for --force / --force-overlap")
	claimCmd.Flags().Bool("fix", false, "apply fixable schema repairs during the claim")
	claimCmd.Flags().Bool("allow-incomplete", false, "skip the spec-completeness check")
	claimCmd.Flags().String("wip-justification", "", "note stored in the lane lock when WIP > 1")
	rootCmd.AddCommand(claimCmd)
}
