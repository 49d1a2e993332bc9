package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/engine"
	"github.com/lumenflow/lumenflow/internal/ui"
)

var doneCmd = &cobra.Command{
	Use:   "done <wu-id>",
	Short: "Complete an in-progress WU",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		skipGates, _ := cmd.Flags().GetBool("skip-gates")
		reason, _ := cmd.Flags().GetString("reason")

		id := args[0]
		if err := eng.Done(cmd.Context(), id, engine.DoneOptions{
			SkipGates: skipGates,
			Reason:    reason,
		}); err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(map[string]string{"done": id})
		}
		fmt.Printf("%s %s completed\n", ui.RenderPass("✓"), ui.RenderAccent(id))
		return nil
	},
}

func init() {
	doneCmd.Flags().Bool("skip-gates", false, "skip the quality gates (audited, requires --reason)")
	doneCmd.Flags().String("reason", "", "justification for --skip-gates")
	rootCmd.AddCommand(doneCmd)
}
