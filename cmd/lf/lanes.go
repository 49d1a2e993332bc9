package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/ui"
)

var lanesCmd = &cobra.Command{
	Use:   "lanes",
	Short: "Show every held lane lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		holders, err := eng.Locks().ScanAll()
		if err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(holders)
		}
		if len(holders) == 0 {
			fmt.Println("no lane locks held")
			return nil
		}
		for _, h := range holders {
			age := ""
			if !h.AcquiredAt.IsZero() {
				age = fmt.Sprintf(" for %s", time.Since(h.AcquiredAt).Round(time.Minute))
			}
			mark := ""
			if h.Stale {
				mark = " " + ui.RenderWarn("(stale, check the holder)")
			}
			fmt.Printf("%s held by %s%s%s\n", ui.RenderAccent(h.Lane), h.WUID, age, mark)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lanesCmd)
}
