package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/events"
	"github.com/lumenflow/lumenflow/internal/recovery"
	"github.com/lumenflow/lumenflow/internal/ui"
	"github.com/lumenflow/lumenflow/internal/wu"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Scan the repository for inconsistent WU state",
	Long: "doctor checks every WU across all its artifacts: spec files that fail to\n" +
		"parse, duplicate ids, zombie claims, and stale lane locks. With --repair\n" +
		"it fixes duplicate ids; everything else points at `lf recover`.",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, layout, err := newEngine()
		if err != nil {
			return err
		}
		repair, _ := cmd.Flags().GetBool("repair")

		type finding struct {
			Kind   string `json:"kind"`
			WUID   string `json:"wu_id,omitempty"`
			Detail string `json:"detail"`
		}
		var findings []finding

		specs, _, errs := wu.ScanDir(layout.WUDirPath())
		for _, err := range errs {
			findings = append(findings, finding{Kind: "parse-error", Detail: err.Error()})
		}

		// Duplicate ids corrupt every by-id lookup, so they come before the
		// zombie scan. Parse errors block the scan entirely.
		if len(errs) == 0 {
			sets, err := recovery.FindDuplicates(layout.WUDirPath())
			if err != nil {
				return err
			}
			if repair && len(sets) > 0 {
				result, err := recovery.RepairDuplicates(layout, events.NewLog(layout.EventsPath()), sets)
				if err != nil {
					return err
				}
				for old, newID := range result.Renamed {
					findings = append(findings, finding{
						Kind: "duplicate-repaired", WUID: newID,
						Detail: fmt.Sprintf("%s re-id'd to %s (%d events remapped)", old, newID, result.EventsRemapped),
					})
				}
				specs, _, _ = wu.ScanDir(layout.WUDirPath())
			} else {
				for _, set := range sets {
					findings = append(findings, finding{
						Kind: "duplicate-id", WUID: set.ID,
						Detail: fmt.Sprintf("%d files share id %s; run `lf doctor --repair`", len(set.Extras)+1, set.ID),
					})
				}
			}
		}

		sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
		for _, s := range specs {
			a, err := eng.Analyze(cmd.Context(), s.ID)
			if err != nil {
				findings = append(findings, finding{Kind: "analyze-error", WUID: s.ID, Detail: err.Error()})
				continue
			}
			for _, z := range a.Zombies {
				findings = append(findings, finding{Kind: string(z.Kind), WUID: s.ID, Detail: z.Detail})
			}
		}

		holders, err := eng.Locks().ScanAll()
		if err != nil {
			return err
		}
		for _, h := range holders {
			if h.Stale {
				findings = append(findings, finding{
					Kind: "stale-lock", WUID: h.WUID,
					Detail: fmt.Sprintf("lane %s locked since %s", h.Lane, h.AcquiredAt.Format("2006-01-02 15:04")),
				})
			}
		}

		if jsonOutput {
			return ui.PrintJSON(findings)
		}
		if len(findings) == 0 {
			fmt.Println(ui.RenderPass("✓ no inconsistencies found"))
			return nil
		}
		for _, f := range findings {
			id := ""
			if f.WUID != "" {
				id = ui.RenderAccent(f.WUID) + " "
			}
			fmt.Printf("%s %s%s\n", ui.RenderWarn(f.Kind), id, f.Detail)
		}
		fmt.Printf("\n%d findings; zombies repair with `lf recover <wu-id> <action>`\n", len(findings))
		return nil
	},
}

func init() {
	doctorCmd.Flags().Bool("repair", false, "repair duplicate ids")
	rootCmd.AddCommand(doctorCmd)
}
