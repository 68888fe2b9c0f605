package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/ui"
)

var resetCmd = &cobra.Command{
	Use:     "reset <gate> [path]",
	GroupID: "review",
	Short:   "Clear an aborted review so the artifact can be reviewed again",
	Long: `Clear an aborted review. An abort halts the artifact's review for good:
every later 'converge review' or 'converge run' fails until the review is reset.
After a reset the next review starts at round 1. Only aborted reviews can be reset.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		branch, _ := cmd.Flags().GetString("branch")
		engine, _ := newEngine()

		rec, err := engine.Reset(rootCtx, args[0], locatorFrom(args, branch))
		if err != nil {
			fatalFor(err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"gate": rec.Gate, "artifact_id": rec.ArtifactID, "reset": true})
			return
		}
		fmt.Printf("%s Reset %s on %s (aborted at round %d)\n", ui.RenderPass("✓"), rec.Gate, rec.ArtifactID, rec.Round)
	},
}

func init() {
	resetCmd.Flags().String("branch", "", "Branch (branch gates; default: current branch)")
	rootCmd.AddCommand(resetCmd)
}
