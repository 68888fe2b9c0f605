package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/converge"
	"github.com/steveyegge/converge/internal/report"
	"github.com/steveyegge/converge/internal/tui/escalation"
	"github.com/steveyegge/converge/internal/ui"
)

var resolveCmd = &cobra.Command{
	Use:     "resolve <gate> [path] (--raise N | --accept | --abort)",
	GroupID: "review",
	Short:   "Decide how a stalled review continues",
	Long: `Resolve a review that reached its round limit:

  --raise N   raise the limit to N rounds; fix the findings, then run review
  --accept    accept the remaining issues; the review is closed and archived
  --abort     abort; the review is archived and halted until 'converge reset'

With no flag and an interactive terminal, you are prompted for the choice.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		branch, _ := cmd.Flags().GetString("branch")
		raise, _ := cmd.Flags().GetInt("raise")
		accept, _ := cmd.Flags().GetBool("accept")
		abort, _ := cmd.Flags().GetBool("abort")

		var esc converge.Escalator
		switch {
		case countTrue(raise > 0, accept, abort) > 1:
			FatalError("--raise, --accept and --abort are mutually exclusive")
		case raise > 0:
			esc = escalation.Static{Action: converge.ActionRaise, MaxRounds: raise}
		case accept:
			esc = escalation.Static{Action: converge.ActionAccept}
		case abort:
			esc = escalation.Static{Action: converge.ActionAbort}
		case ui.IsStdinTerminal() && !jsonOutput:
			esc = &escalation.Prompt{}
		default:
			FatalErrorWithHint("no resolution given", "Pass --raise N, --accept or --abort")
		}

		engine, _ := newEngine()
		stalled, err := engine.Stalled(rootCtx, args[0], locatorFrom(args, branch))
		if err != nil {
			fatalFor(err)
		}
		out, err := engine.Escalate(rootCtx, stalled, esc)
		if errors.Is(err, escalation.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "Escalation cancelled; the review stays stalled.")
			exitCode = exitNotConverged
			return
		}
		if err != nil {
			fatalFor(err)
		}

		if jsonOutput {
			outputJSON(out)
		} else {
			fmt.Println(report.Banner(out))
		}
		exitCode = exitFor(out)
	},
}

func countTrue(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

func init() {
	resolveCmd.Flags().String("branch", "", "Branch (branch gates; default: current branch)")
	resolveCmd.Flags().Int("raise", 0, "Raise the round limit to N")
	resolveCmd.Flags().Bool("accept", false, "Accept the remaining issues")
	resolveCmd.Flags().Bool("abort", false, "Abort the review")
	rootCmd.AddCommand(resolveCmd)
}
