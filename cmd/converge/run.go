package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/converge"
	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/report"
	"github.com/steveyegge/converge/internal/tui/escalation"
	"github.com/steveyegge/converge/internal/types"
	"github.com/steveyegge/converge/internal/ui"
	"github.com/steveyegge/converge/internal/worker"
)

var runCmd = &cobra.Command{
	Use:     "run <gate> [path] --fix-cmd CMD",
	GroupID: "review",
	Short:   "Review, fix and re-review until the gate converges",
	Long: `Drive the whole review loop. After every round that did not converge,
--fix-cmd runs with the outcome as JSON on stdin and CONVERGE_GATE,
CONVERGE_ARTIFACT, CONVERGE_ROUND, CONVERGE_CRITICAL and CONVERGE_IMPORTANT in
its environment. The next round then re-runs every perspective.

When the round limit is reached you are asked whether to raise it, accept the
remaining issues, or abort. Without a terminal, or with --no-escalate, the
loop stops at the stall instead.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		fixCmd, _ := cmd.Flags().GetString("fix-cmd")
		branch, _ := cmd.Flags().GetString("branch")
		maxRounds, _ := cmd.Flags().GetInt("max-rounds")
		noEscalate, _ := cmd.Flags().GetBool("no-escalate")
		if fixCmd == "" {
			FatalErrorWithHint("--fix-cmd is required", "Use 'converge review' to run a single round")
		}

		engine, reg := newEngine()
		g, err := reg.Lookup(args[0])
		if err != nil {
			fatalFor(err)
		}

		fixer, err := worker.NewFixCommand(fixCmd, workDir())
		if err != nil {
			FatalError("%v", err)
		}
		fixer.Stdout = os.Stderr
		fixer.Stderr = os.Stderr
		if jsonOutput {
			fixer.Stdout = nil
		}

		loop := converge.Loop{
			Fixer: fixer,
			OnOutcome: func(out *types.Outcome) {
				if jsonOutput {
					return
				}
				if err := report.Render(os.Stdout, g, out); err != nil {
					WarnError("rendering report: %v", err)
				}
				fmt.Println()
				if out.RequiresFix() {
					debug.PrintNormal("Running fix command for round %d...\n", out.Round)
				}
			},
		}
		if !noEscalate && !jsonOutput && ui.IsStdinTerminal() {
			loop.Escalator = &escalation.Prompt{}
		}

		out, err := engine.Run(rootCtx, converge.ReviewRequest{
			Gate:      args[0],
			Locator:   locatorFrom(args, branch),
			MaxRounds: maxRounds,
		}, loop)
		if err != nil {
			fatalFor(err)
		}
		if jsonOutput {
			outputJSON(out)
		}
		exitCode = exitFor(out)
	},
}

func init() {
	runCmd.Flags().String("fix-cmd", "", "Command that fixes the artifact between rounds (required)")
	runCmd.Flags().String("branch", "", "Branch to review (branch gates; default: current branch)")
	runCmd.Flags().Int("max-rounds", 0, "Round limit for a new review (default: gate or review.max-rounds)")
	runCmd.Flags().Bool("no-escalate", false, "Stop at a stall instead of prompting")
	rootCmd.AddCommand(runCmd)
}
