package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/config"
	"github.com/lumenflow/lumenflow/internal/memory"
	"github.com/lumenflow/lumenflow/internal/ui"
)

var contextCmd = &cobra.Command{
	Use:   "context <wu-id>",
	Short: "Assemble the memory context block for a WU",
	Long: "context builds the size-bounded markdown block an agent ingests before\n" +
		"working a WU: WU-specific memory first, then summaries, discoveries and\n" +
		"the project profile, trimmed back to front to fit the budget.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := resolveLayout()
		if err != nil {
			return err
		}
		maxSize, _ := cmd.Flags().GetInt("max-size")
		if !cmd.Flags().Changed("max-size") {
			maxSize = config.GetInt("memory.context-max-size")
		}
		laneFilter, _ := cmd.Flags().GetString("lane")
		decay, _ := cmd.Flags().GetBool("decay")
		track, _ := cmd.Flags().GetBool("track-access")

		store := memory.NewStore(layout.MemoryPath(), layout.RelationshipsPath())
		out, stats, err := store.Context(args[0], memory.ContextOptions{
			MaxSize:     maxSize,
			Lane:        laneFilter,
			SortByDecay: decay,
			TrackAccess: track,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(map[string]any{"context": out, "stats": stats})
		}
		fmt.Print(ui.RenderMarkdown(out))
		if stats.Truncated {
			ui.Warnf("context truncated to fit %d bytes (%d nodes used)", maxSize, stats.NodesUsed)
		}
		return nil
	},
}

func init() {
	contextCmd.Flags().Int("max-size", 0, "context budget in bytes (default from config)")
	contextCmd.Flags().String("lane", "", "narrow the project profile to one lane")
	contextCmd.Flags().Bool("decay", false, "rank by access-decay score instead of recency")
	contextCmd.Flags().Bool("track-access", false, "record last access on the nodes used")
	rootCmd.AddCommand(contextCmd)
}
