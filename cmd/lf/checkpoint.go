package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/debug"
	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/git"
	"github.com/lumenflow/lumenflow/internal/memory"
	"github.com/lumenflow/lumenflow/internal/ui"
	"github.com/lumenflow/lumenflow/internal/wu"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <note>",
	Short: "Record a progress checkpoint in agent memory",
	Long: "checkpoint writes a memory node describing where the work stands. With\n" +
		"--wu it also emits a checkpoint event on the WU event log and captures a\n" +
		"diff stat of the WU's working tree.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := resolveLayout()
		if err != nil {
			return err
		}
		wuID, _ := cmd.Flags().GetString("wu")
		progress, _ := cmd.Flags().GetString("progress")
		nextSteps, _ := cmd.Flags().GetString("next-steps")
		trigger, _ := cmd.Flags().GetString("trigger")

		opts := memory.CheckpointOptions{
			WUID:      wuID,
			Progress:  progress,
			NextSteps: nextSteps,
			Trigger:   trigger,
		}
		var log *events.Log
		if wuID != "" {
			w, err := wu.Read(layout.WUPath(wuID), wuID)
			if err != nil {
				return err
			}
			opts.SessionID = w.SessionID
			// Diff stat comes from wherever the work actually lives.
			dir := w.WorktreePath
			if dir == "" {
				dir = layout.Root
			}
			if stat, err := git.New(dir).DiffStatLocal(cmd.Context()); err == nil {
				opts.GitDiffStat = stat
			} else {
				debug.Logf("checkpoint: diff stat: %v\n", err)
			}
			log = events.NewLog(layout.EventsPath())
		}

		store := memory.NewStore(layout.MemoryPath(), layout.RelationshipsPath())
		n, err := store.Checkpoint(log, args[0], opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(n)
		}
		fmt.Printf("%s checkpoint %s recorded\n", ui.RenderPass("✓"), ui.RenderAccent(n.ID))
		return nil
	},
}

func init() {
	checkpointCmd.Flags().String("wu", "", "WU id the checkpoint belongs to")
	checkpointCmd.Flags().String("progress", "", "what is already finished")
	checkpointCmd.Flags().String("next-steps", "", "what to do next")
	checkpointCmd.Flags().String("trigger", "manual", "what prompted the checkpoint (manual, pre-compact)")
	rootCmd.AddCommand(checkpointCmd)
}
