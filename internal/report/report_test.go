package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/types"
)

func prGate(t *testing.T) *gate.Gate {
	t.Helper()
	for _, g := range gate.BuiltinGates() {
		if g.ID == gate.GatePRCode {
			return g
		}
	}
	t.Fatal("pr-code gate missing")
	return nil
}

func roundEntry() types.HistoryEntry {
	return types.HistoryEntry{
		Round: 2, Critical: 1, Important: 2, Suggestion: 1, Status: types.EntryPendingFix,
		Perspectives: []types.PerspectiveCount{
			{PerspectiveID: "tests", Important: 2},
			{PerspectiveID: "security", Critical: 1, FellBack: true},
			{PerspectiveID: "correctness"},
			{PerspectiveID: "maintainability", Suggestion: 1},
			{PerspectiveID: "conventions", Failed: true},
		},
	}
}

func TestTableCatalogOrderAndTotals(t *testing.T) {
	out := Table(prGate(t), roundEntry())
	ids := []string{"correctness", "security", "tests", "maintainability", "conventions", "TOTAL"}
	last := -1
	for _, id := range ids {
		idx := strings.Index(out, id)
		require.GreaterOrEqual(t, idx, 0, "missing %s in\n%s", id, out)
		assert.Greater(t, idx, last, "%s out of catalog order", id)
		last = idx
	}
	assert.Contains(t, out, "ROUND 2")
	assert.Contains(t, out, "timed out, ran inline")
	assert.Contains(t, out, "failed")
}

func TestHistoryTableShowsEarlierRoundsFixed(t *testing.T) {
	history := []types.HistoryEntry{
		{Round: 1, Critical: 2, Important: 5, Suggestion: 3, Status: types.EntryPendingFix},
		{Round: 2, Important: 1, Suggestion: 1, Status: types.EntryPendingFix},
		{Round: 3, Status: types.EntryConverged},
	}
	assert.Equal(t, types.EntryFixed, DisplayStatus(history, 0))
	assert.Equal(t, types.EntryFixed, DisplayStatus(history, 1))
	assert.Equal(t, types.EntryConverged, DisplayStatus(history, 2))

	out := HistoryTable(history)
	assert.Equal(t, 2, strings.Count(out, "fixed"))
	assert.Contains(t, out, "converged")
	assert.NotContains(t, out, "pending-fix")

	// The most recent pending-fix round is not fixed yet.
	assert.Equal(t, types.EntryPendingFix, DisplayStatus(history[:2], 1))
}

func TestBannerExactlyOneTemplate(t *testing.T) {
	markers := []string{"CONVERGED:", "NOT CONVERGED:", "STALLED:"}
	tests := []struct {
		out types.Outcome
	}{
		{types.Outcome{Kind: types.OutcomeConverged, Gate: "pr-code", ArtifactID: "feature/x", Round: 3, Summary: &types.RoundSummary{TotalSuggestion: 2}}},
		{types.Outcome{Kind: types.OutcomeNotConverged, Gate: "pr-code", ArtifactID: "feature/x", Round: 1, MaxRounds: 10, Summary: &types.RoundSummary{TotalCritical: 2, TotalImportant: 5}}},
		{types.Outcome{Kind: types.OutcomeStalled, Gate: "design", ArtifactID: "docs/x.md", Round: 2, MaxRounds: 2, Remaining: &types.Remaining{Important: 1}}},
	}
	for _, tt := range tests {
		t.Run(string(tt.out.Kind), func(t *testing.T) {
			b := Banner(&tt.out)
			found := 0
			for _, m := range markers {
				if strings.Contains(b, m) {
					found++
				}
			}
			// "NOT CONVERGED:" also contains "CONVERGED:".
			switch tt.out.Kind {
			case types.OutcomeNotConverged:
				assert.Equal(t, 2, found, b)
			case types.OutcomeConverged:
				assert.Equal(t, 1, found, b)
				assert.NotContains(t, b, "NOT CONVERGED:")
			default:
				assert.Equal(t, 1, found, b)
			}
			assert.Contains(t, b, tt.out.ArtifactID)
		})
	}

	nc := Banner(&tests[1].out)
	assert.Contains(t, nc, "2 CRITICAL and 5 IMPORTANT")
	assert.Contains(t, nc, "Round 2 re-runs every perspective")
}

func TestBannerResolutionNotices(t *testing.T) {
	accepted := Banner(&types.Outcome{Kind: types.OutcomeAcceptedWithExceptions, Gate: "design", ArtifactID: "docs/x.md", Remaining: &types.Remaining{Important: 1}})
	assert.Contains(t, accepted, "Accepted design on docs/x.md with 0 CRITICAL and 1 IMPORTANT")

	aborted := Banner(&types.Outcome{Kind: types.OutcomeAborted, Gate: "design", ArtifactID: "docs/x.md", Round: 2})
	assert.Contains(t, aborted, "Aborted")
	assert.Contains(t, aborted, "until it is reset")

	raised := Banner(&types.Outcome{Kind: types.OutcomeLimitRaised, Gate: "design", ArtifactID: "docs/x.md", Round: 2, MaxRounds: 5})
	assert.Contains(t, raised, "to 5 round(s)")
	assert.Contains(t, raised, "run round 3")
}

func TestRenderTableBeforeBanner(t *testing.T) {
	entry := roundEntry()
	out := &types.Outcome{
		Kind: types.OutcomeNotConverged, Gate: "pr-code", ArtifactID: "feature/x", Round: 2, MaxRounds: 10,
		Summary: &types.RoundSummary{
			Round: 2, TotalCritical: 1, TotalImportant: 2, TotalSuggestion: 1,
			Findings: []types.Finding{
				{PerspectiveID: "security", Severity: types.SeverityCritical, Description: "secret in repo"},
				{PerspectiveID: "tests", Severity: types.SeveritySuggestion, Description: "nit"},
			},
		},
		History: []types.HistoryEntry{{Round: 1, Status: types.EntryPendingFix}, entry},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, prGate(t), out))
	s := buf.String()
	table := strings.Index(s, "TOTAL")
	banner := strings.Index(s, "NOT CONVERGED:")
	require.GreaterOrEqual(t, table, 0)
	require.GreaterOrEqual(t, banner, 0)
	assert.Less(t, table, banner)
	assert.Contains(t, s, "secret in repo")
	assert.NotContains(t, s, "nit (tests)", "suggestions are not listed with blocking findings")
}

func TestFindingsTruncatesAndOrders(t *testing.T) {
	long := strings.Repeat("x", MaxDescription+50)
	out := Findings([]types.Finding{
		{PerspectiveID: "a", Severity: types.SeveritySuggestion, Description: "minor"},
		{PerspectiveID: "b", Severity: types.SeverityCritical, Description: long},
	})
	assert.Less(t, strings.Index(out, "[CRITICAL]"), strings.Index(out, "[SUGGESTION]"))
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, long)
	assert.Contains(t, Findings(nil), "No findings.")
}
