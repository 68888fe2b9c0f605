// Package report formats review rounds for the terminal: a per-perspective
// findings table, a round history table, and one status banner. Nothing
// here touches review state.
package report

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/steveyegge/converge/internal/aggregate"
	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/types"
	"github.com/steveyegge/converge/internal/ui"
)

// MaxDescription bounds a finding's description in listings.
const MaxDescription = 160

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(ui.MutedStyle).
		Headers(headers...)
}

// Table renders one round as perspective x severity counts with a totals
// row. Perspectives appear in catalog order when g is given.
func Table(g *gate.Gate, entry types.HistoryEntry) string {
	byID := make(map[string]types.PerspectiveCount, len(entry.Perspectives))
	for _, p := range entry.Perspectives {
		byID[p.PerspectiveID] = p
	}
	order := make([]string, 0, len(entry.Perspectives))
	if g != nil {
		order = append(order, g.PerspectiveIDs()...)
	} else {
		for _, p := range entry.Perspectives {
			order = append(order, p.PerspectiveID)
		}
	}

	t := newTable("PERSPECTIVE", "CRITICAL", "IMPORTANT", "SUGGESTION", "NOTE")
	for _, id := range order {
		p, ok := byID[id]
		note := ""
		switch {
		case !ok:
			note = ui.RenderMuted("not reported")
		case p.Failed:
			note = ui.RenderFail("failed")
		case p.FellBack:
			note = ui.RenderWarn("timed out, ran inline")
		}
		t.Row(id,
			ui.RenderCount(types.SeverityCritical, p.Critical),
			ui.RenderCount(types.SeverityImportant, p.Important),
			ui.RenderCount(types.SeveritySuggestion, p.Suggestion),
			note,
		)
	}
	t.Row(ui.RenderBold("TOTAL"),
		ui.RenderCount(types.SeverityCritical, entry.Critical),
		ui.RenderCount(types.SeverityImportant, entry.Important),
		ui.RenderCount(types.SeveritySuggestion, entry.Suggestion),
		"",
	)
	return fmt.Sprintf("%s\n%s\n", ui.RenderCategory(fmt.Sprintf("Round %d", entry.Round)), t.String())
}

// DisplayStatus is the status shown for history entry i. A pending-fix round
// that was followed by another round shows as fixed.
func DisplayStatus(history []types.HistoryEntry, i int) types.EntryStatus {
	if history[i].Status == types.EntryPendingFix && i < len(history)-1 {
		return types.EntryFixed
	}
	return history[i].Status
}

// HistoryTable renders one row per dispatched round.
func HistoryTable(history []types.HistoryEntry) string {
	t := newTable("ROUND", "CRITICAL", "IMPORTANT", "SUGGESTION", "STATUS")
	for i, h := range history {
		t.Row(fmt.Sprintf("%d", h.Round),
			ui.RenderCount(types.SeverityCritical, h.Critical),
			ui.RenderCount(types.SeverityImportant, h.Important),
			ui.RenderCount(types.SeveritySuggestion, h.Suggestion),
			renderEntryStatus(DisplayStatus(history, i)),
		)
	}
	return t.String() + "\n"
}

func renderEntryStatus(s types.EntryStatus) string {
	switch s {
	case types.EntryConverged, types.EntryFixed:
		return ui.RenderPass(string(s))
	case types.EntryPendingFix:
		return ui.RenderWarn(string(s))
	case types.EntryStalled:
		return ui.RenderFail(string(s))
	}
	return string(s)
}

// Findings lists findings most severe first, merging duplicates reported by
// more than one perspective.
func Findings(findings []types.Finding) string {
	if len(findings) == 0 {
		return ui.RenderMuted("No findings.") + "\n"
	}
	var b strings.Builder
	for i, f := range aggregate.Consolidate(findings) {
		fmt.Fprintf(&b, "%d. %s %s %s\n", i+1,
			ui.RenderSeverity(f.Severity),
			truncate(f.Description, MaxDescription),
			ui.RenderMuted("("+f.PerspectiveID+")"))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

// Render writes the round table first and the banner after it. When the
// outcome carries no round (a resolution), only the banner is written.
func Render(w io.Writer, g *gate.Gate, out *types.Outcome) error {
	var b strings.Builder
	if out.Summary != nil && len(out.History) > 0 {
		b.WriteString(Table(g, out.History[len(out.History)-1]))
		b.WriteString("\n")
		if blocking := out.Summary.Blocking(); len(blocking) > 0 {
			b.WriteString(Findings(blocking))
			b.WriteString("\n")
		}
	}
	b.WriteString(Banner(out))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
