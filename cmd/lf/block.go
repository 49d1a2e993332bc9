package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/ui"
)

var blockCmd = &cobra.Command{
	Use:   "block <wu-id>",
	Short: "Park an in-progress WU, keeping its worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		id := args[0]
		if err := eng.Block(cmd.Context(), id, reason); err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(map[string]string{"blocked": id, "reason": reason})
		}
		fmt.Printf("%s %s blocked: %s\n", ui.RenderWarn("■"), ui.RenderAccent(id), reason)
		return nil
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <wu-id>",
	Short: "Return a blocked WU to in_progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		id := args[0]
		if err := eng.Unblock(cmd.Context(), id); err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(map[string]string{"unblocked": id})
		}
		fmt.Printf("%s %s back in progress\n", ui.RenderPass("✓"), ui.RenderAccent(id))
		return nil
	},
}

func init() {
	blockCmd.Flags().String("reason", "", "what the WU is waiting on (required)")
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
}
