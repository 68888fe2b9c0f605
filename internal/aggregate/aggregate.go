// Package aggregate turns raw perspective output into findings and tallies.
//
// Counts are always derived from the parsed findings list. Totals, verdicts
// and scores that a perspective reports about itself are never read. Output
// that cannot be parsed, and perspectives that failed outright, each become a
// single IMPORTANT finding so they can never produce a false convergence.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/types"
)

// ErrUnparseable is returned by ParseText when no findings list and no
// explicit "no findings" marker could be recognized.
var ErrUnparseable = errors.New("perspective output unparseable")

// Synthesized finding descriptions.
const (
	UnparseableDescription = "perspective output unparseable; requires manual review"
	failedDescriptionFmt   = "perspective failed: %s; requires manual review"
)

// Parse converts one RawOutput into a RoundResult. It never fails: failed
// or unparseable output is reported as one IMPORTANT finding.
func Parse(out types.RawOutput) types.RoundResult {
	rr := parse(out)
	rr.FellBack = out.FellBack
	rr.Failed = out.Failed()
	return rr
}

func parse(out types.RawOutput) types.RoundResult {
	if out.Failed() {
		return types.NewRoundResult(out.PerspectiveID, []types.Finding{{
			PerspectiveID: out.PerspectiveID,
			Severity:      types.SeverityImportant,
			Description:   fmt.Sprintf(failedDescriptionFmt, out.Err),
		}})
	}
	findings, err := ParseText(out.PerspectiveID, out.Text)
	if err != nil {
		debug.LogEvent("perspective.unparseable", out.PerspectiveID, fmt.Sprintf("mode=%s bytes=%d", out.Mode, len(out.Text)))
		return types.NewRoundResult(out.PerspectiveID, []types.Finding{{
			PerspectiveID: out.PerspectiveID,
			Severity:      types.SeverityImportant,
			Description:   UnparseableDescription,
		}})
	}
	return types.NewRoundResult(out.PerspectiveID, findings)
}

// ParseText extracts findings from perspective output. A nil slice with a nil
// error means the output explicitly reported no findings.
func ParseText(perspectiveID, text string) ([]types.Finding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrUnparseable
	}
	if findings, ok := parseJSON(perspectiveID, text); ok {
		return findings, nil
	}
	findings, empty := parseLines(perspectiveID, text)
	if len(findings) > 0 {
		return findings, nil
	}
	if empty {
		return nil, nil
	}
	return nil, ErrUnparseable
}

// Aggregate parses every output of a round and sums the results.
func Aggregate(round int, outputs []types.RawOutput) types.RoundSummary {
	results := make([]types.RoundResult, 0, len(outputs))
	for _, out := range outputs {
		results = append(results, Parse(out))
	}
	return Summarize(round, results)
}

// Summarize sums per-perspective results. Summation is order-independent;
// Findings keep the order of results for reporting.
func Summarize(round int, results []types.RoundResult) types.RoundSummary {
	s := types.RoundSummary{
		Round:    round,
		Findings: []types.Finding{},
		Results:  results,
	}
	for _, r := range results {
		s.TotalCritical += r.Critical
		s.TotalImportant += r.Important
		s.TotalSuggestion += r.Suggestion
		s.Findings = append(s.Findings, r.Findings...)
	}
	return s
}

// Consolidate merges findings that describe the same issue, keeping the
// highest severity any perspective assigned. Used for display only; tallies
// stay per perspective.
func Consolidate(findings []types.Finding) []types.Finding {
	index := make(map[string]int, len(findings))
	var out []types.Finding
	for _, f := range findings {
		k := normalize(f.Description)
		if i, ok := index[k]; ok {
			out[i].Severity = types.MaxSeverity(out[i].Severity, f.Severity)
			continue
		}
		index[k] = len(out)
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

func normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".;:!")
}
