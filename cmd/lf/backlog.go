package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/ui"
	"github.com/lumenflow/lumenflow/internal/wu"
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "List claimable WUs grouped by lane",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, layout, err := newEngine()
		if err != nil {
			return err
		}
		laneFilter, _ := cmd.Flags().GetString("lane")

		specs, _, errs := wu.ScanDir(layout.WUDirPath())
		for _, err := range errs {
			ui.Warnf("%v", err)
		}
		byLane := map[string][]*wu.WU{}
		for _, s := range specs {
			if s.Status != wu.StatusReady {
				continue
			}
			if laneFilter != "" && s.Lane != laneFilter {
				continue
			}
			byLane[s.Lane] = append(byLane[s.Lane], s)
		}
		if jsonOutput {
			return ui.PrintJSON(byLane)
		}

		lanes := make([]string, 0, len(byLane))
		for lane := range byLane {
			lanes = append(lanes, lane)
		}
		sort.Strings(lanes)
		if len(lanes) == 0 {
			fmt.Println("backlog is empty")
			return nil
		}
		for _, lane := range lanes {
			busy := ""
			if held, holders, _, err := eng.Locks().Check(lane); err == nil && held {
				busy = " " + ui.RenderWarn(fmt.Sprintf("(busy: %s)", holders[0].WUID))
			}
			fmt.Printf("%s%s\n", ui.RenderAccent(lane), busy)
			group := byLane[lane]
			sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
			for _, s := range group {
				fmt.Printf("  %s  %s\n", s.ID, s.Title)
			}
		}
		return nil
	},
}

func init() {
	backlogCmd.Flags().String("lane", "", "only WUs in this lane")
	rootCmd.AddCommand(backlogCmd)
}
