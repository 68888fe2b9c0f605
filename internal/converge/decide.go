package converge

import (
	"time"

	"github.com/steveyegge/converge/internal/types"
)

// Decide applies one round's summary to rec and returns the next record
// state plus the outcome. rec must describe the round that was just
// dispatched (rec.Round == len(rec.History)+1); it is not modified.
//
//   - zero CRITICAL and zero IMPORTANT: converged (SUGGESTION never blocks)
//   - blocking findings with rounds left: pending-fix, AWAITING_RERUN
//   - blocking findings at the ceiling: stalled, STALLED
func Decide(rec *types.Record, summary types.RoundSummary, now time.Time) (*types.Record, *types.Outcome) {
	next := rec.Clone()
	entry := newEntry(next.Round, summary, now)

	out := &types.Outcome{
		Gate:       next.Gate,
		ArtifactID: next.ArtifactID,
		Round:      next.Round,
		MaxRounds:  next.MaxRounds,
		Summary:    &summary,
	}

	switch {
	case summary.Converged():
		entry.Status = types.EntryConverged
		next.Status = types.StatusConverged
		out.Kind = types.OutcomeConverged
	case next.Round < next.MaxRounds:
		entry.Status = types.EntryPendingFix
		next.Status = types.StatusAwaitingRerun
		out.Kind = types.OutcomeNotConverged
	default:
		entry.Status = types.EntryStalled
		next.Status = types.StatusStalled
		out.Kind = types.OutcomeStalled
		out.Remaining = remainingOf(entry)
	}

	next.History = append(next.History, entry)
	next.UpdatedAt = now
	out.History = next.Clone().History
	return next, out
}

func newEntry(round int, summary types.RoundSummary, now time.Time) types.HistoryEntry {
	entry := types.HistoryEntry{
		Round:      round,
		Critical:   summary.TotalCritical,
		Important:  summary.TotalImportant,
		Suggestion: summary.TotalSuggestion,
		Findings:   append([]types.Finding(nil), summary.Findings...),
		At:         now,
	}
	for _, r := range summary.Results {
		entry.Perspectives = append(entry.Perspectives, types.PerspectiveCount{
			PerspectiveID: r.PerspectiveID,
			Critical:      r.Critical,
			Important:     r.Important,
			Suggestion:    r.Suggestion,
			FellBack:      r.FellBack,
			Failed:        r.Failed,
		})
	}
	return entry
}

func remainingOf(entry types.HistoryEntry) *types.Remaining {
	return &types.Remaining{
		Critical:   entry.Critical,
		Important:  entry.Important,
		Suggestion: entry.Suggestion,
	}
}
