package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/engine"
	"github.com/lumenflow/lumenflow/internal/ui"
	"github.com/lumenflow/lumenflow/internal/wu"
)

var statusCmd = &cobra.Command{
	Use:   "status [wu-id]",
	Short: "Show one WU's projection, or every WU grouped by status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, layout, err := newEngine()
		if err != nil {
			return err
		}
		watch, _ := cmd.Flags().GetBool("watch")

		render := func() error {
			if len(args) == 1 {
				return printWUStatus(eng, args[0])
			}
			return printOverview(eng, layout.WUDirPath())
		}
		if !watch {
			return render()
		}

		// Watch mode re-renders whenever the event log moves.
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		// Watch the directory: the log may not exist yet, and rewrites
		// (duplicate repair) replace the inode.
		if err := os.MkdirAll(filepath.Dir(layout.EventsPath()), 0750); err != nil {
			return err
		}
		if err := watcher.Add(filepath.Dir(layout.EventsPath())); err != nil {
			return err
		}
		if err := render(); err != nil {
			return err
		}
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(ev.Name) != filepath.Base(layout.EventsPath()) {
					continue
				}
				debounce.Reset(200 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				ui.Warnf("watch: %v", err)
			case <-debounce.C:
				fmt.Println()
				if err := render(); err != nil {
					return err
				}
			}
		}
	},
}

func printWUStatus(eng *engine.Engine, id string) error {
	p, err := eng.Status(id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return ui.PrintJSON(p)
	}
	fmt.Printf("%s  %s\n", ui.RenderAccent(p.WU.ID), p.WU.Title)
	fmt.Printf("  lane:   %s\n", p.WU.Lane)
	fmt.Printf("  spec:   %s\n", ui.StatusBadge(string(p.WU.Status)))
	fmt.Printf("  events: %s\n", ui.StatusBadge(p.EventStatus))
	fmt.Printf("  stamp:  %v\n", p.StampPresent)
	if p.WU.ClaimedBranch != "" {
		fmt.Printf("  branch: %s\n", p.WU.ClaimedBranch)
	}
	if p.WU.WorktreePath != "" {
		fmt.Printf("  worktree: %s\n", p.WU.WorktreePath)
	}
	if p.Checkpoint != nil {
		fmt.Printf("  checkpoint: %s (%s)\n", p.Checkpoint.Content, p.Checkpoint.TS.Format("2006-01-02 15:04"))
	}
	for _, h := range p.LaneHolders {
		mark := ""
		if h.Stale {
			mark = " " + ui.RenderWarn("(stale)")
		}
		fmt.Printf("  lock:   %s since %s%s\n", h.WUID, h.AcquiredAt.Format("2006-01-02 15:04"), mark)
	}
	return nil
}

func printOverview(eng *engine.Engine, wuDir string) error {
	specs, _, errs := wu.ScanDir(wuDir)
	for _, err := range errs {
		ui.Warnf("%v", err)
	}
	if jsonOutput {
		return ui.PrintJSON(specs)
	}
	buckets := map[wu.Status][]*wu.WU{}
	for _, s := range specs {
		buckets[s.Status] = append(buckets[s.Status], s)
	}
	for _, st := range []wu.Status{wu.StatusInProgress, wu.StatusBlocked, wu.StatusReady, wu.StatusDone} {
		group := buckets[st]
		if len(group) == 0 {
			continue
		}
		fmt.Printf("%s (%d)\n", ui.StatusBadge(string(st)), len(group))
		for _, s := range group {
			fmt.Printf("  %s  %s [%s]\n", ui.RenderAccent(s.ID), s.Title, s.Lane)
		}
	}
	return nil
}

func init() {
	statusCmd.Flags().Bool("watch", false, "keep watching the event log and re-render on change")
	rootCmd.AddCommand(statusCmd)
}
