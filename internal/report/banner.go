package report

import (
	"fmt"

	"github.com/steveyegge/converge/internal/types"
	"github.com/steveyegge/converge/internal/ui"
)

const (
	convergedTemplate = `%s CONVERGED: %s on %s
Round %d reported zero CRITICAL and zero IMPORTANT findings (%d suggestion(s)).
Review history has been archived.`

	notConvergedTemplate = `%s NOT CONVERGED: %s on %s (round %d of %d)
%d CRITICAL and %d IMPORTANT finding(s) must be fixed.
Fix them, then run the review again. Round %d re-runs every perspective.`

	stalledTemplate = `%s STALLED: %s on %s reached its limit of %d round(s)
%d CRITICAL and %d IMPORTANT finding(s) remain. No further rounds will run.
Resolve it: raise the limit, accept the remaining issues, or abort.`
)

// Banner renders the status banner for an outcome. Round outcomes use one of
// the three fixed templates; resolutions render a one-line notice.
func Banner(out *types.Outcome) string {
	switch out.Kind {
	case types.OutcomeConverged:
		return ui.BannerStyle.BorderForeground(ui.ColorPass).Render(fmt.Sprintf(convergedTemplate,
			ui.RenderPass(ui.IconPass), out.Gate, out.ArtifactID,
			out.Round, suggestions(out)))
	case types.OutcomeNotConverged:
		c, i := blocking(out)
		return ui.BannerStyle.BorderForeground(ui.ColorWarn).Render(fmt.Sprintf(notConvergedTemplate,
			ui.RenderWarn(ui.IconWarn), out.Gate, out.ArtifactID, out.Round, out.MaxRounds,
			c, i, out.Round+1))
	case types.OutcomeStalled:
		c, i := blocking(out)
		return ui.BannerStyle.BorderForeground(ui.ColorFail).Render(fmt.Sprintf(stalledTemplate,
			ui.RenderFail(ui.IconFail), out.Gate, out.ArtifactID, out.MaxRounds,
			c, i))
	case types.OutcomeAcceptedWithExceptions:
		c, i := blocking(out)
		return fmt.Sprintf("%s Accepted %s on %s with %d CRITICAL and %d IMPORTANT finding(s) outstanding.",
			ui.RenderWarn(ui.IconWarn), out.Gate, out.ArtifactID, c, i)
	case types.OutcomeAborted:
		return fmt.Sprintf("%s Aborted %s on %s at round %d. No further rounds will be dispatched until it is reset.",
			ui.RenderFail(ui.IconFail), out.Gate, out.ArtifactID, out.Round)
	case types.OutcomeLimitRaised:
		return fmt.Sprintf("%s Raised the limit for %s on %s to %d round(s). Fix the findings, then run round %d.",
			ui.RenderAccent(ui.IconInfo), out.Gate, out.ArtifactID, out.MaxRounds, out.Round+1)
	}
	return string(out.Kind)
}

func blocking(out *types.Outcome) (critical, important int) {
	switch {
	case out.Remaining != nil:
		return out.Remaining.Critical, out.Remaining.Important
	case out.Summary != nil:
		return out.Summary.TotalCritical, out.Summary.TotalImportant
	case len(out.History) > 0:
		last := out.History[len(out.History)-1]
		return last.Critical, last.Important
	}
	return 0, 0
}

func suggestions(out *types.Outcome) int {
	if out.Summary != nil {
		return out.Summary.TotalSuggestion
	}
	if len(out.History) > 0 {
		return out.History[len(out.History)-1].Suggestion
	}
	return 0
}
