package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/lumenflow/lumenflow/internal/audit"
	"github.com/lumenflow/lumenflow/internal/config"
	"github.com/lumenflow/lumenflow/internal/lferr"
	"github.com/lumenflow/lumenflow/internal/memory"
	"github.com/lumenflow/lumenflow/internal/ui"
	"github.com/lumenflow/lumenflow/internal/workspace"
	"github.com/lumenflow/lumenflow/internal/wu"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Create, query and maintain agent memory",
}

func memStore(layout workspace.Layout) *memory.Store {
	return memory.NewStore(layout.MemoryPath(), layout.RelationshipsPath())
}

var memoryCreateCmd = &cobra.Command{
	Use:   "create <content>",
	Short: "Append a memory node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := resolveLayout()
		if err != nil {
			return err
		}
		nodeType, _ := cmd.Flags().GetString("type")
		lifecycle, _ := cmd.Flags().GetString("lifecycle")
		wuID, _ := cmd.Flags().GetString("wu")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		discoveredFrom, _ := cmd.Flags().GetString("discovered-from")

		n := &memory.Node{
			Type:      memory.NodeType(nodeType),
			Lifecycle: memory.Lifecycle(lifecycle),
			Content:   args[0],
			WUID:      wuID,
			Tags:      tags,
		}
		if err := memStore(layout).Create(n, discoveredFrom); err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(n)
		}
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := resolveLayout()
		if err != nil {
			return err
		}
		wuID, _ := cmd.Flags().GetString("wu")
		typeFilter, _ := cmd.Flags().GetString("type")
		all, _ := cmd.Flags().GetBool("all")

		loaded, err := memStore(layout).Load(memory.LoadOptions{IncludeArchived: all})
		if err != nil {
			return err
		}
		nodes := loaded.Nodes
		if wuID != "" {
			nodes = loaded.ByWU[wuID]
		}
		var out []*memory.Node
		for _, n := range nodes {
			if typeFilter != "" && string(n.Type) != typeFilter {
				continue
			}
			out = append(out, n)
		}
		if jsonOutput {
			return ui.PrintJSON(out)
		}
		for _, n := range out {
			marker := " "
			if n.Deleted() {
				marker = ui.RenderMuted("×")
			}
			fmt.Printf("%s %s\n", marker, n)
		}
		fmt.Printf("%d nodes\n", len(out))
		return nil
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete [mem-id...]",
	Short: "Soft-delete memory nodes",
	Long: "delete marks nodes as deleted without dropping their log lines. Besides\n" +
		"explicit ids, --tag and --older-than select nodes; combined they narrow\n" +
		"to the intersection. --older-than takes natural language (\"2 weeks ago\")\n" +
		"or a Go duration (\"336h\").",
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := resolveLayout()
		if err != nil {
			return err
		}
		tag, _ := cmd.Flags().GetString("tag")
		olderThan, _ := cmd.Flags().GetString("older-than")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		opts := memory.DeleteOptions{IDs: args, Tag: tag, DryRun: dryRun}
		if olderThan != "" {
			cutoff, err := parseCutoff(olderThan)
			if err != nil {
				return err
			}
			opts.OlderThan = &cutoff
		}
		if len(opts.IDs) == 0 && opts.Tag == "" && opts.OlderThan == nil {
			return lferr.New(lferr.KindValidation, "no selection: pass ids, --tag or --older-than").
				WithRemediation("e.g. `lf memory delete --tag scratch --older-than \"2 weeks ago\"`")
		}

		matched, err := memStore(layout).Delete(opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(map[string]any{"matched": matched, "dry_run": dryRun})
		}
		verb := "deleted"
		if dryRun {
			verb = "would delete"
		}
		fmt.Printf("%s %d nodes", verb, len(matched))
		if len(matched) > 0 {
			fmt.Printf(": %s", strings.Join(matched, ", "))
		}
		fmt.Println()
		return nil
	},
}

// parseCutoff resolves "--older-than" input to an absolute time. Natural
// language goes through the date parser; plain durations are subtracted from
// now.
func parseCutoff(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now().UTC())
	if err != nil || r == nil {
		return time.Time{}, lferr.New(lferr.KindValidation, "cannot parse %q as a point in time", s).
			WithRemediation("use natural language (\"2 weeks ago\") or a duration (\"336h\")")
	}
	return r.Time, nil
}

var memorySummarizeCmd = &cobra.Command{
	Use:   "summarize <wu-id>",
	Short: "Fold a WU's memory into a single summary node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := resolveLayout()
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		useAI, _ := cmd.Flags().GetBool("ai")

		opts := memory.SummarizeOptions{DryRun: dryRun}
		if useAI {
			client, err := memory.NewHaikuClient(config.GetString("ai.api-key"))
			switch {
			case errors.Is(err, memory.ErrAPIKeyRequired):
				// No key degrades to the deterministic aggregate.
				ui.Warnf("no API key configured; writing the deterministic summary")
			case err != nil:
				return err
			default:
				auditLog := audit.NewLog(filepath.Join(layout.Root, layout.StateDir))
				opts.AI = client.WithAudit(auditLog, config.GetActor(actorFlag))
			}
		}

		result, err := memStore(layout).Summarize(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			return ui.PrintJSON(result)
		}
		if dryRun {
			fmt.Printf("would fold %d nodes:\n\n%s\n", len(result.SourceIDs), result.Summary.Content)
			return nil
		}
		fmt.Printf("%s folded %d nodes into %s\n",
			ui.RenderPass("✓"), len(result.SourceIDs), ui.RenderAccent(result.Summary.ID))
		return nil
	},
}

var memoryRecoverCmd = &cobra.Command{
	Use:   "recover <wu-id>",
	Short: "Build the post-compaction recovery block for a WU",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, layout, err := newEngine()
		if err != nil {
			return err
		}
		maxSize, _ := cmd.Flags().GetInt("max-size")
		if !cmd.Flags().Changed("max-size") {
			maxSize = config.GetInt("memory.recover-max-size")
		}

		id := args[0]
		w, err := wu.Read(layout.WUPath(id), id)
		if err != nil {
			return err
		}
		cp, err := eng.Store().LastCheckpoint(id)
		if err != nil {
			return err
		}
		result := memory.RecoverContext(w, cp, latestCheckpointMeta(layout, id), memory.RecoverOptions{MaxSize: maxSize})
		if jsonOutput {
			return ui.PrintJSON(map[string]any{
				"markdown": result.Markdown, "size": result.Size, "truncated": result.Truncated,
			})
		}
		fmt.Print(ui.RenderMarkdown(result.Markdown))
		return nil
	},
}

// latestCheckpointMeta returns the metadata of the WU's newest checkpoint
// node; the event log does not carry the diff stat, only memory does.
func latestCheckpointMeta(layout workspace.Layout, wuID string) map[string]any {
	loaded, err := memStore(layout).Load(memory.LoadOptions{})
	if err != nil {
		return nil
	}
	var latest *memory.Node
	for _, n := range loaded.ByWU[wuID] {
		if n.Type != memory.TypeCheckpoint {
			continue
		}
		if latest == nil || n.CreatedAt.After(latest.CreatedAt) {
			latest = n
		}
	}
	if latest == nil {
		return nil
	}
	return latest.Metadata
}

func init() {
	memoryCreateCmd.Flags().String("type", string(memory.TypeNote), "node type (session, discovery, checkpoint, note)")
	memoryCreateCmd.Flags().String("lifecycle", string(memory.LifecycleWU), "node lifecycle (ephemeral, session, wu, project)")
	memoryCreateCmd.Flags().String("wu", "", "WU id the node belongs to")
	memoryCreateCmd.Flags().StringSlice("tags", nil, "tags, e.g. lane:Core")
	memoryCreateCmd.Flags().String("discovered-from", "", "node id this was discovered from")

	memoryListCmd.Flags().String("wu", "", "only nodes of this WU")
	memoryListCmd.Flags().String("type", "", "only nodes of this type")
	memoryListCmd.Flags().Bool("all", false, "include soft-deleted nodes")

	memoryDeleteCmd.Flags().String("tag", "", "select nodes carrying this tag")
	memoryDeleteCmd.Flags().String("older-than", "", "select nodes created before this point in time")
	memoryDeleteCmd.Flags().Bool("dry-run", false, "report matches without deleting")

	memorySummarizeCmd.Flags().Bool("dry-run", false, "print the summary without writing it")
	memorySummarizeCmd.Flags().Bool("ai", false, "polish the summary with a model call")

	memoryRecoverCmd.Flags().Int("max-size", 0, "recovery block budget in bytes (default from config)")

	memoryCmd.AddCommand(memoryCreateCmd, memoryListCmd, memoryDeleteCmd, memorySummarizeCmd, memoryRecoverCmd)
	rootCmd.AddCommand(memoryCmd)
}
