package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/types"
	"github.com/steveyegge/converge/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status <gate> [path]",
	GroupID: "views",
	Short:   "Show where a review stands",
	Long: `Show the state of the review for an artifact: NEW when none is in progress,
STALLED when it is waiting for a decision.

A review whose findings were just fixed is waiting for its next round, and
status refuses to report on it: run 'converge review' to re-run every
perspective. The findings that need fixing were printed by the round that
found them.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		branch, _ := cmd.Flags().GetString("branch")
		engine, _ := newEngine()

		rec, err := engine.Status(rootCtx, args[0], locatorFrom(args, branch))
		if err != nil {
			fatalFor(err)
		}
		if jsonOutput {
			outputJSON(rec)
			return
		}
		fmt.Printf("%s on %s: %s\n", ui.RenderBold(rec.Gate), rec.ArtifactID, ui.RenderStatus(rec.Status))
		if rec.Status == types.StatusNew {
			fmt.Printf("  %s\n", ui.RenderMuted(fmt.Sprintf("no rounds yet (limit %d)", rec.MaxRounds)))
			return
		}
		fmt.Printf("  round %d of %d\n", rec.Round, rec.MaxRounds)
		if last := rec.Last(); last != nil {
			fmt.Printf("  last round: %s CRITICAL, %s IMPORTANT, %s SUGGESTION\n",
				ui.RenderCount(types.SeverityCritical, last.Critical),
				ui.RenderCount(types.SeverityImportant, last.Important),
				ui.RenderCount(types.SeveritySuggestion, last.Suggestion))
		}
	},
}

func init() {
	statusCmd.Flags().String("branch", "", "Branch (branch gates; default: current branch)")
	rootCmd.AddCommand(statusCmd)
}
