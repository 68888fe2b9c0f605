package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/report"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
	"github.com/steveyegge/converge/internal/ui"
)

var showCmd = &cobra.Command{
	Use:     "show <gate> [path]",
	GroupID: "views",
	Short:   "Show review history and the latest findings",
	Long: `Show the round history of a review and the findings of its latest round.
Read-only. While a fix is pending the record is not shown: the findings to fix
are in the output of 'converge review' (or on the fix command's stdin under
'converge run'), and the next call must be 'converge review'.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		branch, _ := cmd.Flags().GetString("branch")
		noPager, _ := cmd.Flags().GetBool("no-pager")
		engine, reg := newEngine()

		rec, id, err := engine.Show(rootCtx, args[0], locatorFrom(args, branch))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				if jsonOutput {
					outputJSON(map[string]interface{}{"storage_key": id.Key, "status": types.StatusNew})
					return
				}
				fmt.Printf("No review in progress for %s on %s.\n", args[0], id.ArtifactID)
				return
			}
			fatalFor(err)
		}
		if jsonOutput {
			outputJSON(rec)
			return
		}

		g, err := reg.Lookup(rec.Gate)
		if err != nil {
			fatalFor(err)
		}
		if err := ui.ToPager(os.Stdout, renderRecord(g, id.Key, rec), ui.PagerOptions{NoPager: noPager}); err != nil {
			FatalError("%v", err)
		}
	},
}

// renderRecord formats a record as header, history, latest round table and
// the latest round's findings.
func renderRecord(g *gate.Gate, key string, rec *types.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s %s\n", ui.RenderBold(rec.Gate), rec.ArtifactID, ui.RenderMuted("("+key+")"))
	fmt.Fprintf(&b, "%s  round %d of %d\n\n", ui.RenderStatus(rec.Status), rec.Round, rec.MaxRounds)
	if len(rec.History) == 0 {
		b.WriteString(ui.RenderMuted("No rounds yet.") + "\n")
		return b.String()
	}
	b.WriteString(report.HistoryTable(rec.History))
	b.WriteString("\n" + ui.RenderSeparator() + "\n")

	last := rec.History[len(rec.History)-1]
	b.WriteString(report.Table(g, last))
	b.WriteString("\n")
	if len(last.Findings) > 0 {
		b.WriteString(report.Findings(last.Findings))
		b.WriteString("\n")
	}
	return b.String()
}

func init() {
	showCmd.Flags().String("branch", "", "Branch (branch gates; default: current branch)")
	showCmd.Flags().Bool("no-pager", false, "Do not pipe output through a pager")
	rootCmd.AddCommand(showCmd)
}
