package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/converge"
	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/report"
	"github.com/steveyegge/converge/internal/tui/escalation"
	"github.com/steveyegge/converge/internal/types"
	"github.com/steveyegge/converge/internal/ui"
)

var reviewCmd = &cobra.Command{
	Use:     "review <gate> [path]",
	GroupID: "review",
	Short:   "Run one full round of a gate against an artifact",
	Long: `Run one full round of a gate: every perspective reviews the artifact and the
findings are tallied by severity.

The round converges when it reports zero CRITICAL and zero IMPORTANT findings.
Otherwise fix the findings and run review again; the next round re-runs every
perspective. When the round limit is reached the review stalls and you choose
to raise the limit, accept the remaining issues, or abort.

Document gates take the document path. Branch gates review the current
branch's diff; pass --branch to name the branch explicitly.

Exit status is 0 when the review converged or was accepted, 2 when it needs
another round or a decision, and 1 on error.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		branch, _ := cmd.Flags().GetString("branch")
		maxRounds, _ := cmd.Flags().GetInt("max-rounds")
		noEscalate, _ := cmd.Flags().GetBool("no-escalate")

		engine, reg := newEngine()
		g, err := reg.Lookup(args[0])
		if err != nil {
			fatalFor(err)
		}

		out, err := engine.Review(rootCtx, converge.ReviewRequest{
			Gate:      args[0],
			Locator:   locatorFrom(args, branch),
			MaxRounds: maxRounds,
		})
		if err != nil {
			fatalFor(err)
		}
		showOutcome(g, out)

		if out.NeedsEscalation() && !noEscalate && !jsonOutput && ui.IsStdinTerminal() {
			resolved, err := engine.Escalate(rootCtx, out, &escalation.Prompt{})
			switch {
			case errors.Is(err, escalation.ErrCancelled):
				fmt.Fprintln(os.Stderr, "Escalation cancelled; the review stays stalled.")
			case err != nil:
				fatalFor(err)
			default:
				out = resolved
				fmt.Println()
				fmt.Println(report.Banner(out))
			}
		}
		exitCode = exitFor(out)
	},
}

// showOutcome prints the round report, or the outcome as JSON.
func showOutcome(g *gate.Gate, out *types.Outcome) {
	if jsonOutput {
		outputJSON(out)
		return
	}
	if err := report.Render(os.Stdout, g, out); err != nil {
		FatalError("rendering report: %v", err)
	}
}

// exitFor returns 2 for any outcome that still needs a round or a decision,
// and for an aborted review.
func exitFor(out *types.Outcome) int {
	if !out.Done() || out.Halt() {
		return exitNotConverged
	}
	return exitOK
}

func init() {
	reviewCmd.Flags().String("branch", "", "Branch to review (branch gates; default: current branch)")
	reviewCmd.Flags().Int("max-rounds", 0, "Round limit for a new review (default: gate or review.max-rounds)")
	reviewCmd.Flags().Bool("no-escalate", false, "Do not prompt when the review stalls")
	rootCmd.AddCommand(reviewCmd)
}
