package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/ui"
)

var (
	// Version is the current version of lf (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
	// Commit is the git revision the binary was built from (optional ldflag)
	Commit = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		commit := Commit
		if commit == "" {
			if info, ok := debug.ReadBuildInfo(); ok {
				for _, s := range info.Settings {
					if s.Key == "vcs.revision" {
						commit = s.Value
					}
				}
			}
		}
		if len(commit) > 8 {
			commit = commit[:8]
		}
		if jsonOutput {
			out := map[string]string{"version": Version, "build": Build}
			if commit != "" {
				out["commit"] = commit
			}
			_ = ui.PrintJSON(out)
			return
		}
		if commit != "" {
			fmt.Printf("lf version %s (%s: %s)\n", Version, Build, commit)
			return
		}
		fmt.Printf("lf version %s (%s)\n", Version, Build)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
