package report

import (
	"fmt"

	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
	"github.com/steveyegge/converge/internal/ui"
)

// Records renders one row per stored review. Unreadable entries are listed
// as corrupt; the next review of that artifact starts over at round 1.
func Records(entries []storage.Entry) string {
	if len(entries) == 0 {
		return ui.RenderMuted("No reviews in progress.") + "\n"
	}
	t := newTable("GATE", "ARTIFACT", "STATUS", "ROUND", "CRITICAL", "IMPORTANT", "SUGGESTION")
	for _, e := range entries {
		if e.Err != nil || e.Record == nil {
			t.Row(ui.RenderMuted(e.Key), "", ui.RenderFail("corrupt"), "", "", "", "")
			continue
		}
		rec := e.Record
		var last types.HistoryEntry
		if l := rec.Last(); l != nil {
			last = *l
		}
		t.Row(rec.Gate,
			truncate(rec.ArtifactID, 48),
			ui.RenderStatus(rec.Status),
			fmt.Sprintf("%d/%d", rec.Round, rec.MaxRounds),
			ui.RenderCount(types.SeverityCritical, last.Critical),
			ui.RenderCount(types.SeverityImportant, last.Important),
			ui.RenderCount(types.SeveritySuggestion, last.Suggestion),
		)
	}
	return t.String() + "\n"
}
