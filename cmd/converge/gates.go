package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/ui"
)

var gatesCmd = &cobra.Command{
	Use:     "gates",
	GroupID: "setup",
	Short:   "List and inspect review gates",
}

var gatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available gates",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		gates := loadCatalog().All()
		if jsonOutput {
			outputJSON(gates)
			return
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		for _, g := range gates {
			source := "builtin"
			if g.Source != "" {
				source = g.Source
			}
			fmt.Printf("%s  %s\n", cyan(g.ID), g.Description)
			fmt.Printf("    %s, %d perspective(s): %s  %s\n",
				g.ArtifactKind, len(g.Perspectives), strings.Join(g.PerspectiveIDs(), ", "),
				ui.RenderMuted("("+source+")"))
		}
	},
}

var gatesShowCmd = &cobra.Command{
	Use:   "show <gate>",
	Short: "Show a gate's perspectives and checklists",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		g, err := loadCatalog().Lookup(args[0])
		if err != nil {
			fatalFor(err)
		}
		if jsonOutput {
			outputJSON(g)
			return
		}
		fmt.Print(ui.RenderMarkdown(gateMarkdown(g)))
	},
}

// gateMarkdown describes a gate as markdown: limits, then one section per
// perspective with its checklist.
func gateMarkdown(g *gate.Gate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", g.ID, g.Description)
	fmt.Fprintf(&b, "- artifact: `%s`\n", g.ArtifactKind)
	if g.MaxRounds > 0 {
		fmt.Fprintf(&b, "- max rounds: %d\n", g.MaxRounds)
	}
	if g.Timeout > 0 {
		fmt.Fprintf(&b, "- worker timeout: %s\n", g.Timeout)
	}
	if g.Source != "" {
		fmt.Fprintf(&b, "- source: `%s`\n", g.Source)
	}
	for _, p := range g.Perspectives {
		fmt.Fprintf(&b, "\n## %s (%s, %s)\n\n%s\n", p.Title(), p.ID, p.Mode, strings.TrimSpace(p.Payload))
	}
	return b.String()
}

func init() {
	gatesCmd.AddCommand(gatesListCmd)
	gatesCmd.AddCommand(gatesShowCmd)
	rootCmd.AddCommand(gatesCmd)
}
